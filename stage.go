package pond

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	_ io.Writer     = (*Stage)(nil)
	_ io.ReaderFrom = (*Stage)(nil)
	_ io.Reader     = (*Stage)(nil)
	_ io.WriterTo   = (*Stage)(nil)
	_ io.Closer     = (*Stage)(nil)
)

// Reader is the part of a Pond a Generator is allowed to use.
type Reader interface {
	Read(ctx context.Context, size int) ([]byte, error)
}

// Generator produces the output of a transform stage. Every chunk the
// sequence yields is pushed downstream. A sequence that ends is started
// again; a yielded error terminates the stage with that error.
//
// ctx is cancelled when the stage finishes; reads issued with it then fail
// and the generator should return.
type Generator func(ctx context.Context, r Reader) iter.Seq2[[]byte, error]

// FixedSize returns a Generator that emits consecutive frames of exactly
// size bytes. A trailing partial frame at end of input is dropped.
func FixedSize(size int) Generator {
	return func(ctx context.Context, r Reader) iter.Seq2[[]byte, error] {
		return func(yield func([]byte, error) bool) {
			for {
				b, err := r.Read(ctx, size)
				if !yield(b, err) || err != nil {
					return
				}
			}
		}
	}
}

// Stage is a duplex built around a Pond: bytes written to it are fed to the
// pond, and the bytes pushed to its outlet are read from it.
//
// A stage built with NewTransform runs a Generator against the pond. A stage
// built with NewStage leaves reading the pond and pushing results to the
// caller.
type Stage struct {
	id     string
	pond   *Pond
	out    outlet
	logger *zap.Logger

	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	ended bool
	err   error
}

// NewStage returns a manual stage.
func NewStage(opts ...Option) *Stage {
	o := buildOptions(opts)
	s := newStage(o)
	close(s.done)
	return s
}

// NewTransform returns a stage whose output is produced by gen.
func NewTransform(gen Generator, opts ...Option) *Stage {
	o := buildOptions(opts)
	s := newStage(o)
	go s.run(gen)
	return s
}

func newStage(o options) *Stage {
	id := uuid.NewString()
	logger := o.logger.With(zap.String("stage", id))

	ctx, cancel := context.WithCancel(context.Background())
	return &Stage{
		id:      id,
		pond:    newPond(logger.With(zap.String("component", "pond")), o.metrics),
		out:     newOutlet(o),
		logger:  logger.With(zap.String("component", "stage")),
		metrics: o.metrics,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// ID identifies the stage in log fields.
func (s *Stage) ID() string { return s.id }

// Pond returns the pond behind the stage. Manual stages read from it
// directly.
func (s *Stage) Pond() *Pond { return s.pond }

// Done is closed once the generator goroutine has returned. It is closed
// from the start for manual stages.
func (s *Stage) Done() <-chan struct{} { return s.done }

// Err returns the error that terminated the stage, if any.
func (s *Stage) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Write feeds b to the pond, blocking while the pond has no use for more
// input. It fails with the terminating error once the stage has failed and
// with ErrStageClosed once the input has ended.
func (s *Stage) Write(b []byte) (int, error) {
	s.mu.Lock()
	err, ended := s.err, s.ended
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if ended {
		return 0, ErrStageClosed
	}

	n, err := s.pond.Write(b)
	if errors.Is(err, ErrDestroyed) {
		if serr := s.Err(); serr != nil {
			return n, serr
		}
		return n, ErrStageClosed
	}
	return n, err
}

// ReadFrom writes everything read from r into the stage.
func (s *Stage) ReadFrom(r io.Reader) (int64, error) {
	return copyBuffered(r.Read, s.Write)
}

// CloseWrite signals the end of the input.
//
// If a read is pending it can no longer be satisfied: the pond is destroyed
// and the output ends. Otherwise nothing is forced. A transform keeps serving
// reads the buffer can satisfy and ends at the first one it cannot; a manual
// stage leaves ending the output to the caller.
func (s *Stage) CloseWrite() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	pending := s.pond.Pending()
	s.mu.Unlock()

	s.logger.Debug("input ended", zap.Bool("pending", pending))
	if pending {
		s.finish()
	}
	return nil
}

// Push sends chunk downstream. It blocks while the outlet is full.
func (s *Stage) Push(ctx context.Context, chunk []byte) error {
	return s.out.push(ctx, chunk)
}

// End ends the output once the chunks already pushed are consumed.
func (s *Stage) End() {
	s.out.closeWithError(nil)
}

// Fail terminates the stage with err: the pond is destroyed, the generator
// is cancelled and both writers and readers get err.
func (s *Stage) Fail(err error) {
	if err == nil {
		err = ErrStageClosed
	}

	s.mu.Lock()
	first := s.err == nil
	if first {
		s.err = err
	}
	s.mu.Unlock()

	if first {
		s.logger.Warn("stage failed", zap.Error(err))
		s.metrics.fault()
	}

	s.pond.Destroy()
	s.out.closeWithError(err)
	s.cancel()
}

// Close aborts the stage. Readers get ErrStageClosed once the chunks
// already pushed are consumed.
func (s *Stage) Close() error {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()

	s.pond.Destroy()
	s.out.closeWithError(ErrStageClosed)
	s.cancel()
	return nil
}

// Read implements io.Reader over the output.
func (s *Stage) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

// Next returns the next output chunk. In ModeObject that is exactly one
// pushed chunk.
func (s *Stage) Next(ctx context.Context) ([]byte, error) {
	return s.out.next(ctx)
}

// Chunks iterates over the output until it ends. io.EOF is not reported.
func (s *Stage) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			chunk, err := s.out.next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// WriteTo writes every output chunk to w until the output ends.
func (s *Stage) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for chunk, err := range s.Chunks(context.Background()) {
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if n != len(chunk) {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func (s *Stage) run(gen Generator) {
	defer close(s.done)

	r := stageReader{s}
	for s.ctx.Err() == nil {
		for chunk, err := range gen(s.ctx, r) {
			if s.ctx.Err() != nil {
				return
			}
			if err != nil {
				s.Fail(err)
				return
			}
			if err := s.out.push(s.ctx, chunk); err != nil {
				return
			}
		}
	}
}

// finish destroys the pond and ends the output normally.
func (s *Stage) finish() {
	s.logger.Debug("stage finished", zap.Int("dropped", s.pond.Buffered()))
	s.pond.Destroy()
	s.out.closeWithError(nil)
	s.cancel()
}

func (s *Stage) read(ctx context.Context, size int) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	ch := make(chan []byte, 1)

	s.mu.Lock()
	if s.ended && s.pond.Buffered() < size {
		s.mu.Unlock()
		s.finish()
		return nil, io.EOF
	}
	r, err := s.pond.request(size, func(b []byte) { ch <- b })
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return s.pond.wait(ctx, r, ch)
}

// stageReader restricts a generator to reads.
type stageReader struct {
	s *Stage
}

func (r stageReader) Read(ctx context.Context, size int) ([]byte, error) {
	return r.s.read(ctx, size)
}
