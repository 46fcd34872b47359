package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/torosent/gamestorm/internal/metrics"
	"github.com/torosent/gamestorm/internal/wire"
)

// ErrHandshakeTimeout is wrapped by a HandshakeError when no matching reply
// arrived in time.
var ErrHandshakeTimeout = errors.New("handshake reply timed out")

// ErrClosedOnAccept is wrapped by a ConnectError when the server closed the
// connection before the first frame was sent.
var ErrClosedOnAccept = errors.New("server closed the connection on accept")

// ConnectError reports a TCP connect that failed or timed out.
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// HandshakeError reports a failed authentication or zone-join step.
type HandshakeError struct {
	Phase string // metrics.PhaseAuth or metrics.PhaseJoin
	Code  int32  // server error code for explicit rejections
	Err   error
}

func (e *HandshakeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s handshake rejected (code %d): %v", e.Phase, e.Code, e.Err)
	}
	return fmt.Sprintf("%s handshake: %v", e.Phase, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// SendError reports an I/O failure writing to an established connection.
type SendError struct {
	Kind wire.Kind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError reports an I/O failure reading from an established connection.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("receive: %v", e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }

// DesyncError reports too many malformed frames in a short window.
type DesyncError struct {
	Count  int
	Window time.Duration
	Last   error
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("stream desynchronised: %d malformed frames within %s (last: %v)", e.Count, e.Window, e.Last)
}

func (e *DesyncError) Unwrap() error { return e.Last }

// PanicError wraps a recovered panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("session panicked: %v", e.Value)
}

// ErrorKind maps a session error to its metrics error kind.
func ErrorKind(err error) string {
	var (
		connectErr   *ConnectError
		handshakeErr *HandshakeError
		desyncErr    *DesyncError
		sendErr      *SendError
		receiveErr   *ReceiveError
		panicErr     *PanicError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &connectErr):
		return metrics.ErrorConnect
	case errors.As(err, &handshakeErr):
		return metrics.ErrorHandshake
	case errors.As(err, &desyncErr):
		return metrics.ErrorDesync
	case wire.IsFraming(err):
		return metrics.ErrorFraming
	case errors.As(err, &sendErr):
		return metrics.ErrorSend
	case errors.As(err, &receiveErr):
		return metrics.ErrorReceive
	case wire.IsProtocol(err):
		return metrics.ErrorProtocol
	case errors.As(err, &panicErr):
		return metrics.ErrorPanic
	default:
		return metrics.ErrorReceive
	}
}
