package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"reflect"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func sampleMessages() []Message {
	return []Message{
		&Login{SessionTicket: "ticket-abc", PlayerID: 42, CommandID: 7},
		&LoginSuccess{PlayerID: 42, CommandID: 7},
		&LoginFailure{ErrorCode: -3, Message: "bad ticket", CommandID: 7},
		&EnterZone{ZoneID: 1, CommandID: 8},
		&ZoneEntered{ZoneID: 1, CommandID: 8},
		&PlayerInput{Tick: 99, ClientTimeMicros: 1_700_000_000_000_000, InputFlags: InputForward | InputLeft, Mouse: Vec3{X: 1.5, Y: -2, Z: 3.25}, Sequence: 12, CommandID: 100},
		&PlayerInput{Sequence: 1, Padding: []byte{0, 0, 0}},
		&WorldSnapshot{Tick: 5, ServerTimeMicros: 10, AckSequence: 4, AckClientTimeMicros: 9, Players: []PlayerState{
			{PlayerID: 1, Position: Vec3{X: 1}},
			{PlayerID: 2},
		}},
		&WorldSnapshot{Tick: 6},
		&Chat{Message: "hello", CommandID: 3},
		&ChatBroadcast{PlayerID: 9, Message: "hi"},
		&Heartbeat{ClientTimeMicros: 123, Sequence: 2},
		&HeartbeatAck{ClientTimeMicros: 123, ServerTimeMicros: 456, Sequence: 2},
		&PlayerLeft{PlayerID: 77},
		&Unrecognized{Tag: 250, Raw: []byte{1, 2, 3}},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, msg := range sampleMessages() {
		t.Run(msg.Kind().String(), func(t *testing.T) {
			frame, err := Encode(msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if got := binary.LittleEndian.Uint32(frame[:HeaderLen]); int(got) != len(frame)-HeaderLen {
				t.Fatalf("length prefix = %d, payload = %d", got, len(frame)-HeaderLen)
			}

			decoded, err := Decode(frame[HeaderLen:])
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(decoded, msg) {
				t.Fatalf("round trip mismatch:\n got  %#v\n want %#v", decoded, msg)
			}
		})
	}
}

func TestDecodeEmptyCollectionsAsNil(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want Message
	}{
		{"snapshot players", &WorldSnapshot{Tick: 3, Players: []PlayerState{}}, &WorldSnapshot{Tick: 3}},
		{"unrecognized raw", &Unrecognized{Tag: 200, Raw: []byte{}}, &Unrecognized{Tag: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			nilFrame, err := Encode(tt.want)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !bytes.Equal(frame, nilFrame) {
				t.Fatalf("empty and nil encode differently: %x vs %x", frame, nilFrame)
			}
			got, err := Decode(frame[HeaderLen:])
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("decoded %#v, want %#v", got, tt.want)
			}
		})
	}
}

// FuzzEncodeDecode checks that anything Decode accepts re-encodes to a
// payload that decodes back to the same message. Frames are compared as
// bytes so NaN coordinates and nil versus empty slices compare equal.
func FuzzEncodeDecode(f *testing.F) {
	for _, msg := range sampleMessages() {
		frame, err := Encode(msg)
		if err != nil {
			f.Fatalf("Encode(%T) error = %v", msg, err)
		}
		f.Add(frame[HeaderLen:])
	}
	f.Add([]byte{})
	f.Add([]byte{0x08, 0x07, 0x12, 0x00})

	f.Fuzz(func(t *testing.T, payload []byte) {
		msg, err := Decode(payload)
		if err != nil {
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("Decode() error %v is not a ProtocolError", err)
			}
			return
		}
		first, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%#v) error = %v", msg, err)
		}
		again, err := Decode(first[HeaderLen:])
		if err != nil {
			t.Fatalf("Decode(Encode(%#v)) error = %v", msg, err)
		}
		if again.Kind() != msg.Kind() {
			t.Fatalf("kind changed: %s -> %s", msg.Kind(), again.Kind())
		}
		second, err := Encode(again)
		if err != nil {
			t.Fatalf("second Encode() error = %v", err)
		}
		if !bytes.Equal(first, second) {
			t.Fatalf("re-encoding is unstable:\n first  %x\n second %x", first, second)
		}
	})
}

func TestReaderStreamsMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	msgs := sampleMessages()
	for _, msg := range msgs {
		frame, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		buf.Write(frame)
	}

	// One byte per Read exercises partial header and payload reads.
	r := NewReader(&oneByteReader{r: &buf}, 0)
	for i, want := range msgs {
		got, _, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("message %d: ReadMessage() error = %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("message %d mismatch: got %#v want %#v", i, got, want)
		}
	}
	if _, _, err := r.ReadMessage(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at clean end, got %v", err)
	}
}

func TestReaderTruncatedFrame(t *testing.T) {
	var stream []byte
	stream = binary.LittleEndian.AppendUint32(stream, 12)
	stream = append(stream, make([]byte, 8)...)

	r := NewReader(bytes.NewReader(stream), 0)
	_, err := r.ReadFrame()
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FramingError, got %v", err)
	}
	if fe.Want != 16 || fe.Got != 12 {
		t.Fatalf("FramingError want/got = %d/%d, expected 16/12", fe.Want, fe.Got)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected wrapped io.ErrUnexpectedEOF, got %v", err)
	}
	if _, err := r.ReadFrame(); !IsFraming(err) {
		t.Fatalf("framing error should be sticky, got %v", err)
	}
}

func TestReaderTruncatedFrameRespectsDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		var header [HeaderLen]byte
		binary.LittleEndian.PutUint32(header[:], 12)
		server.Write(header[:])
		server.Write(make([]byte, 8))
		server.Close()
	}()

	r := NewReader(client, 0)
	done := make(chan error, 1)
	go func() {
		for {
			client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			_, err := r.ReadFrame()
			if err != nil && isTimeout(err) {
				continue
			}
			done <- err
			return
		}
	}()

	select {
	case err := <-done:
		if !IsFraming(err) {
			t.Fatalf("expected FramingError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame blocked on a truncated stream")
	}
}

func TestReaderResumesAfterTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	frame, err := Encode(&Heartbeat{ClientTimeMicros: 5, Sequence: 1})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	r := NewReader(client, 0)
	go server.Write(frame[:3])

	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := r.ReadFrame(); !isTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !r.Pending() {
		t.Fatal("reader should hold a partial frame")
	}

	go server.Write(frame[3:])
	client.SetReadDeadline(time.Now().Add(time.Second))
	msg, size, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if size != len(frame) {
		t.Fatalf("size = %d, want %d", size, len(frame))
	}
	if hb, ok := msg.(*Heartbeat); !ok || hb.Sequence != 1 {
		t.Fatalf("unexpected message %#v", msg)
	}
}

func TestReaderRejectsOversizedPayload(t *testing.T) {
	var stream []byte
	stream = binary.LittleEndian.AppendUint32(stream, 1024)
	r := NewReader(bytes.NewReader(stream), 512)
	_, err := r.ReadFrame()
	if !errors.Is(err, ErrPayloadTooLarge) || !IsFraming(err) {
		t.Fatalf("expected oversized FramingError, got %v", err)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	var payload []byte
	payload = protowire.AppendTag(payload, 1, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 999)
	payload = protowire.AppendTag(payload, 2, protowire.BytesType)
	payload = protowire.AppendBytes(payload, []byte("opaque"))

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	u, ok := msg.(*Unrecognized)
	if !ok {
		t.Fatalf("expected Unrecognized, got %T", msg)
	}
	if u.Tag != 999 || string(u.Raw) != "opaque" {
		t.Fatalf("unexpected unrecognized message %#v", u)
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	var body []byte
	body = protowire.AppendTag(body, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, 42)
	body = protowire.AppendTag(body, 15, protowire.Fixed64Type)
	body = protowire.AppendFixed64(body, 1)

	var payload []byte
	payload = protowire.AppendTag(payload, 1, protowire.VarintType)
	payload = protowire.AppendVarint(payload, uint64(KindPlayerLeft))
	payload = protowire.AppendTag(payload, 2, protowire.BytesType)
	payload = protowire.AppendBytes(payload, body)

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pl, ok := msg.(*PlayerLeft); !ok || pl.PlayerID != 42 {
		t.Fatalf("unexpected message %#v", msg)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "truncated varint", payload: []byte{0x08, 0xff}},
		{name: "kind as bytes", payload: []byte{0x0a, 0x01, 0x01}},
		{name: "body field type mismatch", payload: func() []byte {
			var b []byte
			b = protowire.AppendTag(b, 1, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(KindLogin))
			b = protowire.AppendTag(b, 2, protowire.BytesType)
			// Login field 1 is a string; send it as a varint.
			b = protowire.AppendBytes(b, protowire.AppendVarint(protowire.AppendTag(nil, 1, protowire.VarintType), 5))
			return b
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			if !IsProtocol(err) {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
		})
	}
}

func TestReaderProtocolErrorKeepsAlignment(t *testing.T) {
	var stream []byte
	stream = AppendFrame(stream, []byte{0xff, 0xff})
	good, err := Encode(&PlayerLeft{PlayerID: 3})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	stream = append(stream, good...)

	r := NewReader(bytes.NewReader(stream), 0)
	_, size, err := r.ReadMessage()
	if !IsProtocol(err) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if size != HeaderLen+2 {
		t.Fatalf("size = %d, want %d", size, HeaderLen+2)
	}
	msg, _, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() after protocol error: %v", err)
	}
	if pl, ok := msg.(*PlayerLeft); !ok || pl.PlayerID != 3 {
		t.Fatalf("unexpected message %#v", msg)
	}
}

func TestEncodePaddedInput(t *testing.T) {
	for _, size := range []int{24, 64, 127, 128, 130, 512} {
		frame, err := EncodePaddedInput(&PlayerInput{Sequence: 1, ClientTimeMicros: 1_700_000_000_000_000}, size)
		if err != nil {
			t.Fatalf("size %d: EncodePaddedInput() error = %v", size, err)
		}
		if len(frame) != HeaderLen+size {
			t.Fatalf("size %d: frame length = %d", size, len(frame))
		}
		if _, err := Decode(frame[HeaderLen:]); err != nil {
			t.Fatalf("size %d: Decode() error = %v", size, err)
		}
	}

	if _, err := EncodePaddedInput(&PlayerInput{Sequence: 1, ClientTimeMicros: 1 << 60}, 4); err == nil {
		t.Fatal("expected error when payload cannot shrink to size")
	}
}

func TestEncodeRejectsKnownTagAsUnrecognized(t *testing.T) {
	if _, err := Encode(&Unrecognized{Tag: uint32(KindLogin)}); err == nil {
		t.Fatal("expected error for known tag")
	}
}

type oneByteReader struct {
	r io.Reader
}

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}
