package wire

import (
	"errors"
	"fmt"
)

// ErrPayloadTooLarge is wrapped by a FramingError when a length prefix
// exceeds the reader's limit.
var ErrPayloadTooLarge = errors.New("wire: payload too large")

// FramingError reports a stream that ended or became unreadable in the middle
// of a frame. The stream cannot be realigned afterwards.
type FramingError struct {
	Want int // bytes the frame needed
	Got  int // bytes actually read
	Err  error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("wire: framing error after %d of %d bytes: %v", e.Got, e.Want, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// ProtocolError reports a complete frame whose payload could not be parsed.
// The frame has been consumed; the stream remains aligned.
type ProtocolError struct {
	Kind Kind
	Size int
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Kind != KindUnknown {
		return fmt.Sprintf("wire: malformed %s payload (%d bytes): %v", e.Kind, e.Size, e.Err)
	}
	return fmt.Sprintf("wire: malformed payload (%d bytes): %v", e.Size, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsFraming reports whether err is or wraps a FramingError.
func IsFraming(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// IsProtocol reports whether err is or wraps a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
