package pond

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"go.uber.org/zap"
)

// Source is a pull-based producer that announces when data may be ready.
type Source interface {
	// Subscribe registers notify to be called whenever data may have become
	// available. notify must not be called with Source locks held. The
	// returned function removes the subscription.
	Subscribe(notify func()) (unsubscribe func())

	// TryRead returns exactly n bytes when that many are ready. It returns
	// ErrWouldBlock when fewer are ready and more may come. Once the source
	// has ended it returns what is left, even if shorter than n, and then
	// its terminal error, usually io.EOF.
	TryRead(n int) ([]byte, error)
}

type pull struct {
	size int
	ch   chan pullResult
}

type pullResult struct {
	data []byte
	err  error
}

// AsyncReader turns a Source into sized reads. Like a Pond it tracks a
// single outstanding read; a new read replaces the previous one.
type AsyncReader struct {
	src    Source
	logger *zap.Logger

	mu   sync.Mutex
	want *pull

	offOnce     sync.Once
	unsubscribe func()
}

// NewAsyncReader subscribes to src. Call Off when done with it.
func NewAsyncReader(src Source, opts ...Option) *AsyncReader {
	o := buildOptions(opts)
	a := &AsyncReader{
		src:    src,
		logger: o.logger.With(zap.String("component", "async_reader")),
	}
	a.unsubscribe = src.Subscribe(a.onReadable)
	return a
}

// Read waits until the source yields size bytes. At the end of the source
// the result may be shorter than size, and reads after that return the
// source's terminal error.
func (a *AsyncReader) Read(ctx context.Context, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	r := &pull{size: size, ch: make(chan pullResult, 1)}
	a.mu.Lock()
	if a.want != nil {
		a.logger.Debug("read superseded",
			zap.Int("size", a.want.size),
			zap.Int("new_size", size))
	}
	a.want = r
	a.mu.Unlock()

	a.onReadable()

	select {
	case res := <-r.ch:
		return res.data, res.err
	case <-ctx.Done():
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.want == r {
		a.want = nil
	}
	select {
	case res := <-r.ch:
		return res.data, res.err
	default:
		return nil, ctx.Err()
	}
}

// Chunks iterates over reads of size bytes until the source ends. The last
// chunk may be shorter. io.EOF ends the sequence without being reported.
func (a *AsyncReader) Chunks(ctx context.Context, size int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			b, err := a.Read(ctx, size)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Reader returns an io.Reader whose reads are served by size-byte pulls.
func (a *AsyncReader) Reader(ctx context.Context, size int) io.Reader {
	return &pullReader{a: a, ctx: ctx, size: size}
}

// Off removes the source subscription. It is safe to call more than once.
func (a *AsyncReader) Off() {
	a.offOnce.Do(func() {
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
	})
}

func (a *AsyncReader) onReadable() {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.want
	if r == nil {
		return
	}
	data, err := a.src.TryRead(r.size)
	if errors.Is(err, ErrWouldBlock) {
		return
	}
	a.want = nil
	r.ch <- pullResult{data: data, err: err}
}

// pullReader serves io.Reader calls from whole pulled chunks, keeping the
// part of the last chunk that did not fit.
type pullReader struct {
	a    *AsyncReader
	ctx  context.Context
	size int

	lastChunk []byte
}

func (r *pullReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(r.lastChunk) == 0 {
		chunk, err := r.a.Read(r.ctx, r.size)
		if err != nil {
			return 0, err
		}
		r.lastChunk = chunk
	}
	n := copy(p, r.lastChunk)
	r.lastChunk = r.lastChunk[n:]
	return n, nil
}

// ReaderSource is a Source fed by a goroutine reading from an io.Reader.
// It reads ahead until a chunk, or the last unsatisfied request, is
// buffered.
type ReaderSource struct {
	r         io.Reader
	chunkSize int

	mu     sync.Mutex
	space  sync.Cond
	buf    []byte
	wanted int
	err    error
	closed bool

	subs   map[uint64]func()
	nextID uint64
}

// NewReaderSource starts reading r in chunks of chunkSize bytes.
func NewReaderSource(r io.Reader, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = defaultOutputBuffer
	}
	s := &ReaderSource{
		r:         r,
		chunkSize: chunkSize,
		subs:      make(map[uint64]func()),
	}
	s.space.L = &s.mu
	go s.pump()
	return s
}

// Subscribe implements Source.
func (s *ReaderSource) Subscribe(notify func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = notify
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// TryRead implements Source.
func (s *ReaderSource) TryRead(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) >= n {
		data := s.buf[:n:n]
		s.buf = s.buf[n:]
		s.wanted = 0
		s.space.Signal()
		return data, nil
	}
	if s.err != nil {
		if len(s.buf) > 0 {
			data := s.buf
			s.buf = nil
			return data, nil
		}
		return nil, s.err
	}
	if n > s.wanted {
		s.wanted = n
		s.space.Signal()
	}
	return nil, ErrWouldBlock
}

// Close stops reading ahead. Bytes already buffered can still be pulled;
// after them TryRead returns io.ErrClosedPipe. A read already in progress
// on the underlying reader is not interrupted.
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.err == nil {
		s.err = io.ErrClosedPipe
	}
	s.space.Broadcast()
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *ReaderSource) pump() {
	chunk := make([]byte, s.chunkSize)
	for {
		s.mu.Lock()
		for !s.closed && len(s.buf) >= max(s.wanted, s.chunkSize) {
			s.space.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		n, err := s.r.Read(chunk)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.buf = append(s.buf, chunk[:n]...)
		if err != nil {
			s.err = err
		}
		s.mu.Unlock()

		if n > 0 || err != nil {
			s.notify()
		}
		if err != nil {
			return
		}
	}
}

func (s *ReaderSource) notify() {
	s.mu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
