package pond

import (
	"context"
	"io"
	"sync"
)

// bytePipe is the ModeBytes outlet: pushes are written into a bounded ring
// and readers drain it as a plain byte stream. Pushers block while the ring
// is full.
type bytePipe struct {
	mu         sync.Mutex
	readerWait sync.Cond
	writerWait sync.Cond

	ring *ringBuffer

	closed   bool
	closeErr error
}

func newBytePipe(size int) *bytePipe {
	p := &bytePipe{ring: newRingBuffer(size)}
	p.readerWait.L = &p.mu
	p.writerWait.L = &p.mu
	return p
}

func (p *bytePipe) push(ctx context.Context, b []byte) error {
	stop := p.wakeOn(ctx)
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(b) > 0 {
		if err := p.waitForWritableLocked(ctx); err != nil {
			return err
		}
		wasEmpty := p.ring.empty()
		n := p.ring.write(b)
		b = b[n:]
		if wasEmpty {
			p.readerWait.Broadcast()
		}
	}
	return nil
}

func (p *bytePipe) Read(b []byte) (int, error) {
	return p.read(context.Background(), b)
}

func (p *bytePipe) next(ctx context.Context) ([]byte, error) {
	buf := make([]byte, p.ring.size())
	n, err := p.read(ctx, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (p *bytePipe) read(ctx context.Context, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	stop := p.wakeOn(ctx)
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.waitForReadableLocked(ctx); err != nil {
		return 0, err
	}

	wasFull := p.ring.full()
	n := p.ring.read(b)
	if wasFull {
		p.writerWait.Broadcast()
	}
	return n, nil
}

// closeWithError ends the stream. Readers drain what is buffered and then
// get err, or io.EOF when err is nil. The first close wins.
func (p *bytePipe) closeWithError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if err == nil {
		err = io.EOF
	}
	p.closed = true
	p.closeErr = err
	p.readerWait.Broadcast()
	p.writerWait.Broadcast()
}

func (p *bytePipe) waitForReadableLocked(ctx context.Context) error {
	for {
		if !p.ring.empty() {
			return nil
		}
		if p.closed {
			return p.closeErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.readerWait.Wait()
	}
}

func (p *bytePipe) waitForWritableLocked(ctx context.Context) error {
	for {
		if p.closed {
			return io.ErrClosedPipe
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !p.ring.full() {
			return nil
		}
		p.writerWait.Wait()
	}
}

// wakeOn broadcasts both conditions when ctx ends so that waiters can notice
// the cancellation.
func (p *bytePipe) wakeOn(ctx context.Context) func() bool {
	if ctx.Done() == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.readerWait.Broadcast()
		p.writerWait.Broadcast()
		p.mu.Unlock()
	})
}

func copyBuffered(read func([]byte) (int, error), write func([]byte) (int, error)) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, rErr := read(buf)
		if n > 0 {
			wn, wErr := write(buf[:n])
			if wn < 0 || wn > n {
				wn = 0
				if wErr == nil {
					wErr = io.ErrShortWrite
				}
			}
			total += int64(wn)
			if wErr != nil {
				return total, wErr
			}
			if wn != n {
				return total, io.ErrShortWrite
			}
		}
		if rErr != nil {
			if rErr != io.EOF {
				return total, rErr
			}
			return total, nil
		}
	}
}
