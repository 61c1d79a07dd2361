package pond

import "errors"

var (
	// ErrInvalidSize is returned when a read asks for zero or a negative
	// number of bytes. The request is rejected before any state changes.
	ErrInvalidSize = errors.New("pond: invalid read size")

	// ErrNilHandler is returned by the callback read forms when no
	// completion function is supplied.
	ErrNilHandler = errors.New("pond: nil completion handler")

	// ErrDestroyed is returned by Write once the pond has been destroyed.
	// Feed and Read never return it: after destruction they are inert.
	ErrDestroyed = errors.New("pond: destroyed")

	// ErrStageClosed is returned by writes after the stage input has ended,
	// and to readers of a stage that was aborted with Close.
	ErrStageClosed = errors.New("pond: stage closed")

	// ErrWouldBlock is returned by Source.TryRead when fewer bytes than
	// requested are ready and the source has not ended.
	ErrWouldBlock = errors.New("pond: would block")
)
