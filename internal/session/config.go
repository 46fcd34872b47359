package session

import "time"

// Config drives one session. Zero durations fall back to the defaults below;
// zero chat or heartbeat intervals disable those frames.
type Config struct {
	Target string
	ZoneID int32

	ConnectTimeout time.Duration
	// HangupWindow is how long connect watches a fresh socket for an
	// immediate hang-up before the first frame is sent. A server that closes
	// within the window fails the session with a ConnectError and nothing is
	// written. Zero skips the check.
	HangupWindow time.Duration
	AuthTimeout  time.Duration
	JoinTimeout  time.Duration
	PollTimeout  time.Duration
	WriteTimeout time.Duration
	DrainTimeout time.Duration

	SendInterval      time.Duration
	SendJitter        time.Duration
	ChatInterval      time.Duration
	HeartbeatInterval time.Duration

	// InputPayloadSize pads every PlayerInput payload to exactly this many
	// bytes. Zero sends inputs at their natural size.
	InputPayloadSize int
	// FramesLimit stops outbound traffic after this many PlayerInput frames.
	// The session stays Active until the run ends. Zero means unlimited.
	FramesLimit int

	// BestEffortHandshake advances past a missing or malformed auth/join
	// reply instead of failing. Explicit rejections still fail.
	BestEffortHandshake bool

	// DesyncThreshold is the number of malformed frames tolerated within
	// DesyncWindow. Zero disables the guard.
	DesyncThreshold int
	DesyncWindow    time.Duration

	MaxPayload      int
	ReadBufferSize  int
	WriteBufferSize int
	NoDelay         bool
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 100 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = time.Second
	}
	if c.SendInterval <= 0 {
		c.SendInterval = 50 * time.Millisecond
	}
	if c.DesyncThreshold > 0 && c.DesyncWindow <= 0 {
		c.DesyncWindow = 10 * time.Second
	}
	return c
}
