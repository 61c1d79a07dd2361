package pond

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

var _ io.Writer = (*Pond)(nil)

// request is the single outstanding demand of a Pond. A nil *request means
// nothing is wanted.
type request struct {
	size     int
	done     func([]byte)
	resolved bool
}

// delivery is a resolved request waiting to be handed to its caller once the
// pond lock has been released.
type delivery struct {
	done func([]byte)
	data []byte
}

func (d delivery) run() {
	if d.done != nil {
		d.done(d.data)
	}
}

// Pond accumulates fed chunks and hands them out in exactly the sizes that
// readers ask for.
//
// At most one read is outstanding. A read issued while another is waiting
// replaces it and the replaced caller is never resolved. Chunks passed to
// Feed must not be modified afterwards; delivered slices may share memory
// with fed chunks.
type Pond struct {
	mu      sync.Mutex
	drained sync.Cond
	writing sync.Mutex

	chunks    [][]byte
	size      int
	req       *request
	destroyed bool
	drains    uint64

	logger  *zap.Logger
	metrics *Metrics
}

// New returns an empty pond.
func New(opts ...Option) *Pond {
	o := buildOptions(opts)
	return newPond(o.logger.With(zap.String("component", "pond")), o.metrics)
}

func newPond(logger *zap.Logger, m *Metrics) *Pond {
	p := &Pond{logger: logger, metrics: m}
	p.drained.L = &p.mu
	return p
}

// Feed appends chunk and tries to satisfy the pending read.
//
// It reports true when a read is pending and still needs more bytes, that
// is when the writer side should keep supplying. It reports false when the
// pending read was just satisfied, when nothing has been asked for yet, or
// when the pond is destroyed.
func (p *Pond) Feed(chunk []byte) bool {
	p.mu.Lock()
	d, more := p.feedLocked(chunk)
	p.mu.Unlock()

	d.run()
	return more
}

func (p *Pond) feedLocked(chunk []byte) (delivery, bool) {
	if p.destroyed {
		return delivery{}, false
	}
	if len(chunk) > 0 {
		p.chunks = append(p.chunks, chunk)
		p.size += len(chunk)
		p.metrics.fed(len(chunk))
	}
	return p.syncLocked()
}

// Read waits until size bytes are buffered and returns exactly those bytes.
//
// A size of zero or less fails with ErrInvalidSize without touching the
// pending request. If the read is superseded by a later one, or the pond is
// destroyed, Read only returns when ctx is done. When ctx ends first the
// request is withdrawn, so bytes fed later stay buffered for the next reader.
func (p *Pond) Read(ctx context.Context, size int) ([]byte, error) {
	ch := make(chan []byte, 1)
	r, err := p.request(size, func(b []byte) { ch <- b })
	if err != nil {
		return nil, err
	}
	return p.wait(ctx, r, ch)
}

// ReadFunc registers a read of size bytes and calls fn with them once they
// are available. fn is called at most once, never with the pond lock held,
// so it may issue the next read. fn may run before ReadFunc returns.
func (p *Pond) ReadFunc(size int, fn func([]byte)) error {
	if fn == nil {
		return ErrNilHandler
	}
	_, err := p.request(size, fn)
	return err
}

// Rest reads everything buffered at the time of the call. With nothing
// buffered it fails with ErrInvalidSize, like Read(ctx, 0).
func (p *Pond) Rest(ctx context.Context) ([]byte, error) {
	return p.Read(ctx, p.Buffered())
}

// RestFunc is the callback form of Rest.
func (p *Pond) RestFunc(fn func([]byte)) error {
	return p.ReadFunc(p.Buffered(), fn)
}

// Pending reports whether a read is outstanding.
func (p *Pond) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.req != nil
}

// Buffered returns the number of bytes held and not yet delivered.
func (p *Pond) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Destroyed reports whether Destroy has been called.
func (p *Pond) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Destroy discards buffered bytes and abandons the pending read without
// resolving it. Later feeds and reads have no effect. Blocked writers are
// released with ErrDestroyed.
func (p *Pond) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}

	p.logger.Debug("pond destroyed",
		zap.Int("buffered", p.size),
		zap.Bool("pending", p.req != nil))

	p.metrics.buffer(-p.size)
	p.metrics.destroy()

	p.destroyed = true
	p.chunks = nil
	p.size = 0
	p.req = nil
	p.drained.Broadcast()
}

// Write implements io.Writer with back-pressure. The bytes are copied and
// fed. When the pond does not need more input right now, Write blocks until
// it does: a read is issued that the buffer cannot satisfy, a delivery
// empties the buffer, or the pond is destroyed. Writes are serialized.
func (p *Pond) Write(b []byte) (int, error) {
	p.writing.Lock()
	defer p.writing.Unlock()

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return 0, ErrDestroyed
	}
	gen := p.drains
	d, more := p.feedLocked(bytes.Clone(b))
	p.mu.Unlock()

	d.run()
	if more {
		return len(b), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.drains == gen && !p.destroyed {
		p.drained.Wait()
	}
	if p.destroyed {
		return len(b), ErrDestroyed
	}
	return len(b), nil
}

func (p *Pond) request(size int, fn func([]byte)) (*request, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, nil
	}
	if p.req != nil {
		p.logger.Debug("read superseded",
			zap.Int("size", p.req.size),
			zap.Int("new_size", size))
		p.metrics.supersede()
	}
	r := &request{size: size, done: fn}
	p.req = r
	d, _ := p.syncLocked()
	p.mu.Unlock()

	d.run()
	return r, nil
}

// wait blocks until r is delivered on ch or ctx ends. A nil r was never
// registered and cannot resolve.
func (p *Pond) wait(ctx context.Context, r *request, ch <-chan []byte) ([]byte, error) {
	select {
	case b := <-ch:
		return b, nil
	case <-ctx.Done():
	}

	if r == nil || p.withdraw(r) {
		return nil, ctx.Err()
	}
	// Resolved concurrently with cancellation: the bytes are already on
	// their way and would be lost otherwise.
	return <-ch, nil
}

// withdraw removes r if it is still pending. It reports false only when r
// was resolved.
func (p *Pond) withdraw(r *request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.req == r {
		p.req = nil
		return true
	}
	return !r.resolved
}

func (p *Pond) syncLocked() (delivery, bool) {
	if p.destroyed || p.req == nil {
		return delivery{}, false
	}

	want := p.req.size
	if p.size < want {
		p.drainLocked()
		return delivery{}, true
	}

	data := p.takeLocked(want)
	d := delivery{done: p.req.done, data: data}
	p.req.resolved = true
	p.req = nil

	p.metrics.deliver(want)
	if p.size == 0 {
		p.drainLocked()
	}
	return d, false
}

// takeLocked removes the first n buffered bytes. n must not exceed p.size.
func (p *Pond) takeLocked(n int) []byte {
	var joined []byte
	if len(p.chunks) == 1 {
		joined = p.chunks[0]
	} else {
		joined = make([]byte, 0, p.size)
		for _, c := range p.chunks {
			joined = append(joined, c...)
		}
	}

	clear(p.chunks)
	p.chunks = p.chunks[:0]
	if rest := joined[n:]; len(rest) > 0 {
		p.chunks = append(p.chunks, rest)
	}
	p.size -= n
	return joined[:n:n]
}

func (p *Pond) drainLocked() {
	p.drains++
	p.drained.Broadcast()
}
