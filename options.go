package pond

import "go.uber.org/zap"

// Mode selects how a stage exposes its output.
type Mode uint8

const (
	// ModeObject keeps the boundaries of every pushed chunk. Next returns
	// exactly one pushed chunk.
	ModeObject Mode = iota
	// ModeBytes exposes the output as a plain byte stream backed by a
	// bounded ring buffer.
	ModeBytes
)

func (m Mode) String() string {
	switch m {
	case ModeObject:
		return "object"
	case ModeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

const (
	defaultOutputBuffer = 32 * 1024
	defaultObjectQueue  = 16
)

type options struct {
	logger       *zap.Logger
	metrics      *Metrics
	mode         Mode
	outputBuffer int
	objectQueue  int
}

// Option configures a Pond, a Stage or an AsyncReader. Options that do not
// apply to the value being built are ignored.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records activity into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMode sets the stage output mode.
func WithMode(mode Mode) Option {
	return func(o *options) { o.mode = mode }
}

// WithOutputBuffer sets the ring buffer size used by ModeBytes.
func WithOutputBuffer(size int) Option {
	return func(o *options) { o.outputBuffer = size }
}

// WithObjectQueue sets how many pushed chunks ModeObject holds before Push
// blocks.
func WithObjectQueue(n int) Option {
	return func(o *options) { o.objectQueue = n }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:       zap.NewNop(),
		mode:         ModeObject,
		outputBuffer: defaultOutputBuffer,
		objectQueue:  defaultObjectQueue,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.outputBuffer <= 0 {
		o.outputBuffer = defaultOutputBuffer
	}
	if o.objectQueue < 0 {
		o.objectQueue = 0
	}
	return o
}
