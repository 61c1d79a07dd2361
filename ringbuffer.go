package pond

// ringBuffer is a fixed-capacity byte queue. It is not safe for concurrent
// use; bytePipe guards it with its mutex.
type ringBuffer struct {
	data []byte
	head int // next byte to read
	n    int // bytes stored
}

func newRingBuffer(size int) *ringBuffer {
	if size <= 0 {
		size = 1
	}
	return &ringBuffer{data: make([]byte, size)}
}

// read moves up to len(dst) bytes into dst.
func (r *ringBuffer) read(dst []byte) int {
	toRead := min(r.n, len(dst))
	if toRead == 0 {
		return 0
	}

	first := copy(dst[:toRead], r.data[r.head:])
	if first < toRead {
		copy(dst[first:toRead], r.data)
	}

	r.head = (r.head + toRead) % len(r.data)
	r.n -= toRead
	if r.n == 0 {
		r.head = 0
	}
	return toRead
}

// write stores as much of src as fits and returns how much it took.
func (r *ringBuffer) write(src []byte) int {
	toWrite := min(r.free(), len(src))
	if toWrite == 0 {
		return 0
	}

	tail := (r.head + r.n) % len(r.data)
	first := copy(r.data[tail:], src[:toWrite])
	if first < toWrite {
		copy(r.data, src[first:toWrite])
	}

	r.n += toWrite
	return toWrite
}

func (r *ringBuffer) buffered() int { return r.n }

func (r *ringBuffer) size() int { return len(r.data) }

func (r *ringBuffer) free() int { return len(r.data) - r.n }

func (r *ringBuffer) empty() bool { return r.n == 0 }

func (r *ringBuffer) full() bool { return r.n == len(r.data) }
