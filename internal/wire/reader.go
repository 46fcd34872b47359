package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
)

// DefaultMaxPayload bounds a single frame's payload.
const DefaultMaxPayload = 1 << 20

// Reader decodes frames from a stream. It is resumable: when the underlying
// read fails with a timeout, the partially read frame is kept and the next
// call continues where the previous one stopped. This lets callers poll a
// connection with short read deadlines without losing alignment.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	src        io.Reader
	maxPayload int

	header    [HeaderLen]byte
	headerN   int
	payload   []byte
	payloadN  int
	inPayload bool

	err error // sticky framing error
}

// NewReader returns a Reader over src. maxPayload <= 0 selects DefaultMaxPayload.
func NewReader(src io.Reader, maxPayload int) *Reader {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Reader{src: src, maxPayload: maxPayload}
}

// ReadFrame returns the next complete payload. It returns io.EOF when the
// stream ends cleanly on a frame boundary, a *FramingError when it ends inside
// a frame, and the raw error for timeouts and failures between frames.
func (r *Reader) ReadFrame() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}

	if !r.inPayload {
		if err := r.fill(r.header[:], &r.headerN, HeaderLen); err != nil {
			return nil, err
		}
		size := binary.LittleEndian.Uint32(r.header[:])
		if uint64(size) > uint64(r.maxPayload) {
			r.err = &FramingError{Want: int(size) + HeaderLen, Got: HeaderLen, Err: ErrPayloadTooLarge}
			return nil, r.err
		}
		r.payload = make([]byte, size)
		r.payloadN = 0
		r.inPayload = true
	}

	if err := r.fill(r.payload, &r.payloadN, HeaderLen+len(r.payload)); err != nil {
		return nil, err
	}

	payload := r.payload
	r.payload = nil
	r.headerN = 0
	r.payloadN = 0
	r.inPayload = false
	return payload, nil
}

// ReadMessage reads and decodes the next frame. The returned size counts the
// length prefix and is reported even when decoding fails with a
// *ProtocolError, since the frame was consumed from the stream.
func (r *Reader) ReadMessage() (Message, int, error) {
	payload, err := r.ReadFrame()
	if err != nil {
		return nil, 0, err
	}
	size := HeaderLen + len(payload)
	msg, err := Decode(payload)
	if err != nil {
		return nil, size, err
	}
	return msg, size, nil
}

// Pending reports whether a frame is partially read.
func (r *Reader) Pending() bool {
	return r.headerN > 0 || r.inPayload
}

func (r *Reader) fill(buf []byte, n *int, want int) error {
	for *n < len(buf) {
		read, err := r.src.Read(buf[*n:])
		*n += read
		if *n == len(buf) {
			return nil
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			return err
		}
		got := r.headerN
		if r.inPayload {
			got = HeaderLen + r.payloadN
		}
		if got == 0 {
			// Nothing of this frame was read yet.
			return err
		}
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		r.err = &FramingError{Want: want, Got: got, Err: err}
		return r.err
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
