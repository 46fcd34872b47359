package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// HeaderLen is the size of the length prefix.
const HeaderLen = 4

const (
	fieldKind protowire.Number = 1
	fieldBody protowire.Number = 2
)

// Encode serializes msg and prepends the length prefix.
func Encode(msg Message) ([]byte, error) {
	payload, err := MarshalPayload(msg)
	if err != nil {
		return nil, err
	}
	return AppendFrame(make([]byte, 0, HeaderLen+len(payload)), payload), nil
}

// AppendFrame appends the length prefix and payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// MarshalPayload serializes msg without the length prefix.
func MarshalPayload(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("wire: nil message")
	}
	body, err := marshalBody(msg)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(body)+8)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Kind()))
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b, nil
}

// EncodePaddedInput encodes in with Padding sized so the payload is exactly
// size bytes. It fails when the unpadded payload is already larger.
func EncodePaddedInput(in *PlayerInput, size int) ([]byte, error) {
	trial := *in
	trial.Padding = nil
	base, err := MarshalPayload(&trial)
	if err != nil {
		return nil, err
	}
	if len(base) > size {
		return nil, fmt.Errorf("wire: input payload is %d bytes, cannot pad to %d", len(base), size)
	}
	// Padding adds a tag and a length varint, and may widen the body's own
	// length varint, so search downwards from the raw difference.
	for n := size - len(base); n >= 0; n-- {
		trial.Padding = make([]byte, n)
		payload, err := MarshalPayload(&trial)
		if err != nil {
			return nil, err
		}
		if len(payload) == size {
			return AppendFrame(make([]byte, 0, HeaderLen+size), payload), nil
		}
	}
	if len(base) == size {
		return AppendFrame(make([]byte, 0, HeaderLen+size), base), nil
	}
	return nil, fmt.Errorf("wire: no padding yields a %d byte input payload", size)
}

func marshalBody(msg Message) ([]byte, error) {
	var b []byte
	switch m := msg.(type) {
	case *Login:
		b = appendString(b, 1, m.SessionTicket)
		b = appendUint(b, 2, m.PlayerID)
		b = appendInt(b, 3, m.CommandID)
	case *LoginSuccess:
		b = appendUint(b, 1, m.PlayerID)
		b = appendInt(b, 2, m.CommandID)
	case *LoginFailure:
		b = appendInt(b, 1, int64(m.ErrorCode))
		b = appendString(b, 2, m.Message)
		b = appendInt(b, 3, m.CommandID)
	case *EnterZone:
		b = appendInt(b, 1, int64(m.ZoneID))
		b = appendInt(b, 2, m.CommandID)
	case *ZoneEntered:
		b = appendInt(b, 1, int64(m.ZoneID))
		b = appendInt(b, 2, m.CommandID)
	case *PlayerInput:
		b = appendUint(b, 1, m.Tick)
		b = appendUint(b, 2, m.ClientTimeMicros)
		b = appendUint(b, 3, uint64(m.InputFlags))
		b = appendVec3(b, 4, m.Mouse)
		b = appendUint(b, 5, uint64(m.Sequence))
		b = appendInt(b, 6, m.CommandID)
		if m.Padding != nil {
			b = protowire.AppendTag(b, 7, protowire.BytesType)
			b = protowire.AppendBytes(b, m.Padding)
		}
	case *WorldSnapshot:
		b = appendUint(b, 1, m.Tick)
		b = appendUint(b, 2, m.ServerTimeMicros)
		b = appendUint(b, 3, uint64(m.AckSequence))
		b = appendUint(b, 4, m.AckClientTimeMicros)
		for _, p := range m.Players {
			var pb []byte
			pb = appendUint(pb, 1, p.PlayerID)
			pb = appendVec3(pb, 2, p.Position)
			b = protowire.AppendTag(b, 5, protowire.BytesType)
			b = protowire.AppendBytes(b, pb)
		}
	case *Chat:
		b = appendString(b, 1, m.Message)
		b = appendInt(b, 2, m.CommandID)
	case *ChatBroadcast:
		b = appendUint(b, 1, m.PlayerID)
		b = appendString(b, 2, m.Message)
	case *Heartbeat:
		b = appendUint(b, 1, m.ClientTimeMicros)
		b = appendUint(b, 2, uint64(m.Sequence))
	case *HeartbeatAck:
		b = appendUint(b, 1, m.ClientTimeMicros)
		b = appendUint(b, 2, m.ServerTimeMicros)
		b = appendUint(b, 3, uint64(m.Sequence))
	case *PlayerLeft:
		b = appendUint(b, 1, m.PlayerID)
	case *Unrecognized:
		if Kind(m.Tag).Known() || m.Tag == 0 {
			return nil, fmt.Errorf("wire: unrecognized message cannot carry tag %d", m.Tag)
		}
		b = append(b, m.Raw...)
	default:
		return nil, fmt.Errorf("wire: unsupported message type %T", msg)
	}
	return b, nil
}

// Zero values are omitted, matching proto3 scalar semantics.
func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	return appendUint(b, num, uint64(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVec3(b []byte, num protowire.Number, v Vec3) []byte {
	if v == (Vec3{}) {
		return b
	}
	var vb []byte
	for i, f := range [3]float32{v.X, v.Y, v.Z} {
		vb = protowire.AppendTag(vb, protowire.Number(i+1), protowire.Fixed32Type)
		vb = protowire.AppendFixed32(vb, math.Float32bits(f))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, vb)
}
