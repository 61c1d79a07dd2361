package pond

import (
	"context"
	"io"
	"sync"
)

// outlet is the downstream half of a Stage.
type outlet interface {
	io.Reader
	push(ctx context.Context, chunk []byte) error
	next(ctx context.Context) ([]byte, error)
	closeWithError(err error)
}

var (
	_ outlet = (*chunkQueue)(nil)
	_ outlet = (*bytePipe)(nil)
)

func newOutlet(o options) outlet {
	if o.mode == ModeBytes {
		return newBytePipe(o.outputBuffer)
	}
	return newChunkQueue(o.objectQueue)
}

// chunkQueue is the ModeObject outlet. Every pushed chunk comes out of next
// unchanged; Read serves the same chunks as a byte stream.
type chunkQueue struct {
	ch   chan []byte
	done chan struct{}

	once     sync.Once
	closeErr error

	// Read state.
	mu      sync.Mutex
	current []byte
}

func newChunkQueue(capacity int) *chunkQueue {
	return &chunkQueue{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

func (q *chunkQueue) push(ctx context.Context, chunk []byte) error {
	select {
	case <-q.done:
		return io.ErrClosedPipe
	default:
	}

	select {
	case q.ch <- chunk:
		return nil
	case <-q.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// next returns the oldest pushed chunk. Chunks pushed before close are still
// handed out; after that it returns the close error.
func (q *chunkQueue) next(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-q.ch:
		return chunk, nil
	case <-q.done:
		select {
		case chunk := <-q.ch:
			return chunk, nil
		default:
			return nil, q.closeErr
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *chunkQueue) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.current) == 0 {
		chunk, err := q.next(context.Background())
		if err != nil {
			return 0, err
		}
		q.current = chunk
	}

	n := copy(p, q.current)
	q.current = q.current[n:]
	return n, nil
}

func (q *chunkQueue) closeWithError(err error) {
	q.once.Do(func() {
		if err == nil {
			err = io.EOF
		}
		q.closeErr = err
		close(q.done)
	})
}
