package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	errMissingKind = errors.New("missing kind field")
	errWireType    = errors.New("unexpected wire type")
)

// Decode parses one payload (without its length prefix).
func Decode(payload []byte) (Message, error) {
	var (
		kind    Kind
		hasKind bool
		body    []byte
	)
	err := eachField(payload, func(f field) error {
		switch f.num {
		case fieldKind:
			if f.typ != protowire.VarintType {
				return errWireType
			}
			if f.varint > math.MaxUint32 {
				return fmt.Errorf("kind %d out of range", f.varint)
			}
			kind, hasKind = Kind(f.varint), true
		case fieldBody:
			if f.typ != protowire.BytesType {
				return errWireType
			}
			body = f.bytes
		}
		return nil
	})
	if err == nil && (!hasKind || kind == KindUnknown) {
		err = errMissingKind
	}
	if err != nil {
		return nil, &ProtocolError{Size: len(payload), Err: err}
	}

	msg, err := decodeBody(kind, body)
	if err != nil {
		return nil, &ProtocolError{Kind: kind, Size: len(payload), Err: err}
	}
	return msg, nil
}

func decodeBody(kind Kind, b []byte) (Message, error) {
	switch kind {
	case KindLogin:
		m := &Login{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.str(&m.SessionTicket)
			case 2:
				return f.u64(&m.PlayerID)
			case 3:
				return f.i64(&m.CommandID)
			}
			return nil
		})
	case KindLoginSuccess:
		m := &LoginSuccess{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.u64(&m.PlayerID)
			case 2:
				return f.i64(&m.CommandID)
			}
			return nil
		})
	case KindLoginFailure:
		m := &LoginFailure{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.i32(&m.ErrorCode)
			case 2:
				return f.str(&m.Message)
			case 3:
				return f.i64(&m.CommandID)
			}
			return nil
		})
	case KindEnterZone:
		m := &EnterZone{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.i32(&m.ZoneID)
			case 2:
				return f.i64(&m.CommandID)
			}
			return nil
		})
	case KindZoneEntered:
		m := &ZoneEntered{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.i32(&m.ZoneID)
			case 2:
				return f.i64(&m.CommandID)
			}
			return nil
		})
	case KindPlayerInput:
		m := &PlayerInput{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.u64(&m.Tick)
			case 2:
				return f.u64(&m.ClientTimeMicros)
			case 3:
				return f.u32(&m.InputFlags)
			case 4:
				return f.vec3(&m.Mouse)
			case 5:
				return f.u32(&m.Sequence)
			case 6:
				return f.i64(&m.CommandID)
			case 7:
				return f.raw(&m.Padding)
			}
			return nil
		})
	case KindWorldSnapshot:
		m := &WorldSnapshot{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.u64(&m.Tick)
			case 2:
				return f.u64(&m.ServerTimeMicros)
			case 3:
				return f.u32(&m.AckSequence)
			case 4:
				return f.u64(&m.AckClientTimeMicros)
			case 5:
				if f.typ != protowire.BytesType {
					return errWireType
				}
				var p PlayerState
				if err := eachField(f.bytes, func(pf field) error {
					switch pf.num {
					case 1:
						return pf.u64(&p.PlayerID)
					case 2:
						return pf.vec3(&p.Position)
					}
					return nil
				}); err != nil {
					return err
				}
				m.Players = append(m.Players, p)
			}
			return nil
		})
	case KindChat:
		m := &Chat{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.str(&m.Message)
			case 2:
				return f.i64(&m.CommandID)
			}
			return nil
		})
	case KindChatBroadcast:
		m := &ChatBroadcast{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.u64(&m.PlayerID)
			case 2:
				return f.str(&m.Message)
			}
			return nil
		})
	case KindHeartbeat:
		m := &Heartbeat{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.u64(&m.ClientTimeMicros)
			case 2:
				return f.u32(&m.Sequence)
			}
			return nil
		})
	case KindHeartbeatAck:
		m := &HeartbeatAck{}
		return m, eachField(b, func(f field) error {
			switch f.num {
			case 1:
				return f.u64(&m.ClientTimeMicros)
			case 2:
				return f.u64(&m.ServerTimeMicros)
			case 3:
				return f.u32(&m.Sequence)
			}
			return nil
		})
	case KindPlayerLeft:
		m := &PlayerLeft{}
		return m, eachField(b, func(f field) error {
			if f.num == 1 {
				return f.u64(&m.PlayerID)
			}
			return nil
		})
	default:
		m := &Unrecognized{Tag: uint32(kind)}
		if len(b) > 0 {
			m.Raw = append([]byte(nil), b...)
		}
		return m, nil
	}
}

// field is one decoded protowire field. bytes aliases the input buffer.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

// eachField walks b and calls fn per field. Field types it does not model are
// skipped so newer servers can append fields.
func eachField(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
	}
	return nil
}

func (f field) u64(dst *uint64) error {
	if f.typ != protowire.VarintType {
		return errWireType
	}
	*dst = f.varint
	return nil
}

func (f field) u32(dst *uint32) error {
	if f.typ != protowire.VarintType {
		return errWireType
	}
	*dst = uint32(f.varint)
	return nil
}

func (f field) i64(dst *int64) error {
	if f.typ != protowire.VarintType {
		return errWireType
	}
	*dst = int64(f.varint)
	return nil
}

func (f field) i32(dst *int32) error {
	if f.typ != protowire.VarintType {
		return errWireType
	}
	*dst = int32(f.varint)
	return nil
}

func (f field) str(dst *string) error {
	if f.typ != protowire.BytesType {
		return errWireType
	}
	*dst = string(f.bytes)
	return nil
}

func (f field) raw(dst *[]byte) error {
	if f.typ != protowire.BytesType {
		return errWireType
	}
	*dst = append(make([]byte, 0, len(f.bytes)), f.bytes...)
	return nil
}

func (f field) vec3(dst *Vec3) error {
	if f.typ != protowire.BytesType {
		return errWireType
	}
	return eachField(f.bytes, func(vf field) error {
		if vf.typ != protowire.Fixed32Type {
			return errWireType
		}
		v := math.Float32frombits(vf.fixed32)
		switch vf.num {
		case 1:
			dst.X = v
		case 2:
			dst.Y = v
		case 3:
			dst.Z = v
		}
		return nil
	})
}
