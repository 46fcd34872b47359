package wire

import "fmt"

// Kind is the tag that selects a message variant.
type Kind uint32

const (
	KindUnknown       Kind = 0
	KindLogin         Kind = 1
	KindLoginSuccess  Kind = 2
	KindLoginFailure  Kind = 3
	KindEnterZone     Kind = 4
	KindZoneEntered   Kind = 5
	KindPlayerInput   Kind = 6
	KindWorldSnapshot Kind = 7
	KindChat          Kind = 8
	KindChatBroadcast Kind = 9
	KindHeartbeat     Kind = 10
	KindHeartbeatAck  Kind = 11
	KindPlayerLeft    Kind = 12
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindLogin:         "login",
	KindLoginSuccess:  "login_success",
	KindLoginFailure:  "login_failure",
	KindEnterZone:     "enter_zone",
	KindZoneEntered:   "zone_entered",
	KindPlayerInput:   "player_input",
	KindWorldSnapshot: "world_snapshot",
	KindChat:          "chat",
	KindChatBroadcast: "chat_broadcast",
	KindHeartbeat:     "heartbeat",
	KindHeartbeatAck:  "heartbeat_ack",
	KindPlayerLeft:    "player_left",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Known reports whether k is a variant this package can decode.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok && k != KindUnknown
}

// Message is one variant of the tagged union.
type Message interface {
	Kind() Kind
}

// Input flag bits carried by PlayerInput.InputFlags.
const (
	InputForward  uint32 = 1 << 0
	InputBackward uint32 = 1 << 1
	InputLeft     uint32 = 1 << 2
	InputRight    uint32 = 1 << 3
)

type Vec3 struct {
	X, Y, Z float32
}

// Login opens the authentication handshake.
type Login struct {
	SessionTicket string
	PlayerID      uint64
	CommandID     int64
}

type LoginSuccess struct {
	PlayerID  uint64
	CommandID int64
}

type LoginFailure struct {
	ErrorCode int32
	Message   string
	CommandID int64
}

// EnterZone asks the server to place the player in a zone.
type EnterZone struct {
	ZoneID    int32
	CommandID int64
}

type ZoneEntered struct {
	ZoneID    int32
	CommandID int64
}

// PlayerInput is the steady-state movement frame. ClientTimeMicros is echoed
// back by the server in WorldSnapshot.AckClientTimeMicros. Padding has no
// meaning to the server and only inflates the frame to a chosen size.
type PlayerInput struct {
	Tick             uint64
	ClientTimeMicros uint64
	InputFlags       uint32
	Mouse            Vec3
	Sequence         uint32
	CommandID        int64
	Padding          []byte
}

type PlayerState struct {
	PlayerID uint64
	Position Vec3
}

// WorldSnapshot is the server's periodic state broadcast.
type WorldSnapshot struct {
	Tick                uint64
	ServerTimeMicros    uint64
	AckSequence         uint32
	AckClientTimeMicros uint64
	// Players is nil when the snapshot lists nobody.
	Players []PlayerState
}

type Chat struct {
	Message   string
	CommandID int64
}

type ChatBroadcast struct {
	PlayerID uint64
	Message  string
}

// Heartbeat is answered by HeartbeatAck echoing ClientTimeMicros and Sequence.
type Heartbeat struct {
	ClientTimeMicros uint64
	Sequence         uint32
}

type HeartbeatAck struct {
	ClientTimeMicros uint64
	ServerTimeMicros uint64
	Sequence         uint32
}

type PlayerLeft struct {
	PlayerID uint64
}

// Unrecognized holds a message whose kind this build does not know. Raw is
// nil for an empty body.
type Unrecognized struct {
	Tag uint32
	Raw []byte
}

func (*Login) Kind() Kind         { return KindLogin }
func (*LoginSuccess) Kind() Kind  { return KindLoginSuccess }
func (*LoginFailure) Kind() Kind  { return KindLoginFailure }
func (*EnterZone) Kind() Kind     { return KindEnterZone }
func (*ZoneEntered) Kind() Kind   { return KindZoneEntered }
func (*PlayerInput) Kind() Kind   { return KindPlayerInput }
func (*WorldSnapshot) Kind() Kind { return KindWorldSnapshot }
func (*Chat) Kind() Kind          { return KindChat }
func (*ChatBroadcast) Kind() Kind { return KindChatBroadcast }
func (*Heartbeat) Kind() Kind     { return KindHeartbeat }
func (*HeartbeatAck) Kind() Kind  { return KindHeartbeatAck }
func (*PlayerLeft) Kind() Kind    { return KindPlayerLeft }
func (m *Unrecognized) Kind() Kind {
	return Kind(m.Tag)
}
