package pond_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacoelho/pond"
)

func TestAsyncReader(t *testing.T) {
	t.Run("ResolvesOnNotify", func(t *testing.T) {
		src := newFakeSource()
		a := pond.NewAsyncReader(src)
		defer a.Off()

		ctx := testContext(t)
		got := make(chan []byte, 1)
		go func() {
			b, err := a.Read(ctx, 4)
			assert.NoError(t, err)
			got <- b
		}()

		src.waitWanted(t, 4)
		src.push(octets("11-22"))
		assertBlocked(t, got)

		src.push(octets("33-44-55"))
		assert.Equal(t, octets("11-22-33-44"), receive(t, got))
	})

	t.Run("ReadyImmediately", func(t *testing.T) {
		src := newFakeSource()
		src.push(octets("11-22-33"))
		a := pond.NewAsyncReader(src)
		defer a.Off()

		b, err := a.Read(testContext(t), 2)
		require.NoError(t, err)
		assert.Equal(t, octets("11-22"), b)
	})

	t.Run("Superseded", func(t *testing.T) {
		src := newFakeSource()
		a := pond.NewAsyncReader(src)
		defer a.Off()

		firstCtx, cancelFirst := context.WithCancel(testContext(t))
		first := make(chan error, 1)
		go func() {
			_, err := a.Read(firstCtx, 4)
			first <- err
		}()
		src.waitWanted(t, 4)

		ctx := testContext(t)
		second := make(chan []byte, 1)
		go func() {
			b, err := a.Read(ctx, 2)
			assert.NoError(t, err)
			second <- b
		}()
		src.waitWanted(t, 2)

		src.push(octets("11-22-33-44"))
		assert.Equal(t, octets("11-22"), receive(t, second))
		assertBlocked(t, first)

		cancelFirst()
		require.ErrorIs(t, receive(t, first), context.Canceled)
	})

	t.Run("InvalidSize", func(t *testing.T) {
		a := pond.NewAsyncReader(newFakeSource())
		defer a.Off()

		_, err := a.Read(testContext(t), 0)
		require.ErrorIs(t, err, pond.ErrInvalidSize)
	})

	t.Run("ShortReadAtEnd", func(t *testing.T) {
		src := newFakeSource()
		src.push(octets("11-22-33"))
		src.end(io.EOF)
		a := pond.NewAsyncReader(src)
		defer a.Off()

		b, err := a.Read(testContext(t), 4)
		require.NoError(t, err)
		assert.Equal(t, octets("11-22-33"), b)

		_, err = a.Read(testContext(t), 4)
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("Off", func(t *testing.T) {
		src := newFakeSource()
		a := pond.NewAsyncReader(src)
		require.Equal(t, 1, src.subscribers())

		a.Off()
		a.Off()
		assert.Zero(t, src.subscribers())
	})

	t.Run("Chunks", func(t *testing.T) {
		src := newFakeSource()
		src.push([]byte("abcdefghij"))
		src.end(io.EOF)
		a := pond.NewAsyncReader(src)
		defer a.Off()

		var got []string
		for chunk, err := range a.Chunks(testContext(t), 4) {
			require.NoError(t, err)
			got = append(got, string(chunk))
		}
		assert.Equal(t, []string{"abcd", "efgh", "ij"}, got)
	})
}

func TestReaderSource(t *testing.T) {
	t.Run("ReadsInRequestedSizes", func(t *testing.T) {
		rs := pond.NewReaderSource(strings.NewReader("abcdefg"), 2)
		defer rs.Close()
		a := pond.NewAsyncReader(rs)
		defer a.Off()

		ctx := testContext(t)
		for _, want := range []string{"abc", "def", "g"} {
			b, err := a.Read(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, want, string(b))
		}
		_, err := a.Read(ctx, 3)
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("Reader", func(t *testing.T) {
		data := bytes.Repeat([]byte("0123456789"), 1000)
		rs := pond.NewReaderSource(bytes.NewReader(data), 64)
		defer rs.Close()
		a := pond.NewAsyncReader(rs)
		defer a.Off()

		got, err := io.ReadAll(a.Reader(testContext(t), 100))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("CloseReleasesRead", func(t *testing.T) {
		pr, pw := io.Pipe()
		t.Cleanup(func() { pw.Close() })

		rs := pond.NewReaderSource(pr, 8)
		a := pond.NewAsyncReader(rs)
		defer a.Off()

		ctx := testContext(t)
		done := make(chan error, 1)
		go func() {
			_, err := a.Read(ctx, 2)
			done <- err
		}()
		assertBlocked(t, done)

		require.NoError(t, rs.Close())
		require.ErrorIs(t, receive(t, done), io.ErrClosedPipe)
	})
}

// fakeSource is a Source driven by the test.
type fakeSource struct {
	mu     sync.Mutex
	buf    []byte
	err    error
	wanted int
	subs   map[int]func()
	nextID int
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[int]func())}
}

func (s *fakeSource) Subscribe(notify func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = notify
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *fakeSource) TryRead(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wanted = n
	switch {
	case len(s.buf) >= n:
		data := s.buf[:n:n]
		s.buf = s.buf[n:]
		return data, nil
	case s.err != nil && len(s.buf) > 0:
		data := s.buf
		s.buf = nil
		return data, nil
	case s.err != nil:
		return nil, s.err
	default:
		return nil, pond.ErrWouldBlock
	}
}

func (s *fakeSource) push(b []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, b...)
	s.mu.Unlock()
	s.notify()
}

func (s *fakeSource) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.notify()
}

func (s *fakeSource) notify() {
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

func (s *fakeSource) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// waitWanted waits until a read of n bytes has been attempted.
func (s *fakeSource) waitWanted(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.wanted == n
	}, time.Second, time.Millisecond)
}
