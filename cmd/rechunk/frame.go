package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/time/rate"
)

// Output frame formats.
const (
	formatRaw = "raw"
	formatHex = "hex"
	formatLen = "len"
)

func validFormat(f string) error {
	switch f {
	case formatRaw, formatHex, formatLen:
		return nil
	default:
		return fmt.Errorf("unknown format %q (want raw, hex or len)", f)
	}
}

// frameWriter encodes every Write as one frame. Frames are built in pooled
// buffers so that each reaches the destination in a single write.
type frameWriter struct {
	ctx     context.Context
	w       io.Writer
	format  string
	limiter *rate.Limiter
	pool    *bytebufferpool.Pool

	frames int
}

func newFrameWriter(ctx context.Context, w io.Writer, format string, perSecond float64) *frameWriter {
	fw := &frameWriter{
		ctx:    ctx,
		w:      w,
		format: format,
		pool:   &bytebufferpool.Pool{},
	}
	if perSecond > 0 {
		fw.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return fw
}

func (fw *frameWriter) Write(p []byte) (int, error) {
	if fw.limiter != nil {
		if err := fw.limiter.Wait(fw.ctx); err != nil {
			return 0, err
		}
	}

	buf := fw.pool.Get()
	defer fw.pool.Put(buf)

	encodeFrame(buf, fw.format, p)
	if _, err := fw.w.Write(buf.B); err != nil {
		return 0, err
	}
	fw.frames++
	return len(p), nil
}

func encodeFrame(buf *bytebufferpool.ByteBuffer, format string, p []byte) {
	switch format {
	case formatHex:
		buf.B = hex.AppendEncode(buf.B, p)
		buf.B = append(buf.B, '\n')
	case formatLen:
		buf.B = binary.BigEndian.AppendUint32(buf.B, uint32(len(p)))
		buf.B = append(buf.B, p...)
	default:
		buf.B = append(buf.B, p...)
	}
}
