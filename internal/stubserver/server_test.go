package stubserver_test

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/torosent/gamestorm/internal/stubserver"
	"github.com/torosent/gamestorm/internal/wire"
)

func start(t *testing.T, mode stubserver.Mode) *stubserver.Server {
	t.Helper()
	srv, err := stubserver.Listen("127.0.0.1:0", stubserver.Options{Mode: mode, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

type conn struct {
	t *testing.T
	c net.Conn
	r *wire.Reader
}

func dial(t *testing.T, srv *stubserver.Server) *conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return &conn{t: t, c: c, r: wire.NewReader(c, 0)}
}

func (c *conn) send(msg wire.Message) {
	c.t.Helper()
	frame, err := wire.Encode(msg)
	if err != nil {
		c.t.Fatalf("Encode(%T) error = %v", msg, err)
	}
	if _, err := c.c.Write(frame); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *conn) recv() (wire.Message, error) {
	c.t.Helper()
	_ = c.c.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, _, err := c.r.ReadMessage()
	return msg, err
}

func (c *conn) mustRecv() wire.Message {
	c.t.Helper()
	msg, err := c.recv()
	if err != nil {
		c.t.Fatalf("recv: %v", err)
	}
	return msg
}

func TestNormalModeHandshakeAndTraffic(t *testing.T) {
	srv := start(t, stubserver.ModeNormal)
	c := dial(t, srv)

	c.send(&wire.Login{SessionTicket: "t", PlayerID: 42, CommandID: 1})
	ok, isOK := c.mustRecv().(*wire.LoginSuccess)
	if !isOK || ok.PlayerID != 42 || ok.CommandID != 1 {
		t.Fatalf("login reply = %+v", ok)
	}

	c.send(&wire.EnterZone{ZoneID: 3, CommandID: 2})
	if z, isZ := c.mustRecv().(*wire.ZoneEntered); !isZ || z.ZoneID != 3 || z.CommandID != 2 {
		t.Fatalf("join reply = %+v", z)
	}

	c.send(&wire.PlayerInput{Sequence: 9, ClientTimeMicros: 1234, CommandID: 3})
	snap, isSnap := c.mustRecv().(*wire.WorldSnapshot)
	if !isSnap || snap.AckSequence != 9 || snap.AckClientTimeMicros != 1234 || snap.Tick == 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Players) != 1 || snap.Players[0].PlayerID != 42 {
		t.Fatalf("players = %+v", snap.Players)
	}

	c.send(&wire.Heartbeat{ClientTimeMicros: 55, Sequence: 10})
	if ack, isAck := c.mustRecv().(*wire.HeartbeatAck); !isAck || ack.ClientTimeMicros != 55 || ack.Sequence != 10 {
		t.Fatalf("heartbeat ack = %+v", ack)
	}

	c.send(&wire.Chat{Message: "gg", CommandID: 4})
	if b, isB := c.mustRecv().(*wire.ChatBroadcast); !isB || b.Message != "gg" || b.PlayerID != 42 {
		t.Fatalf("chat broadcast = %+v", b)
	}

	st := srv.Stats()
	if st.Accepted != 1 || st.Logins != 1 || st.Joins != 1 || st.Inputs != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRejectLoginMode(t *testing.T) {
	srv := start(t, stubserver.ModeRejectLogin)
	c := dial(t, srv)
	c.send(&wire.Login{PlayerID: 1, CommandID: 1})
	fail, ok := c.mustRecv().(*wire.LoginFailure)
	if !ok || fail.ErrorCode != stubserver.LoginRejectedCode {
		t.Fatalf("reply = %+v", fail)
	}
}

func TestSilentModeNeverAnswers(t *testing.T) {
	srv := start(t, stubserver.ModeSilent)
	c := dial(t, srv)
	c.send(&wire.Login{PlayerID: 1, CommandID: 1})
	_ = c.c.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := c.r.ReadMessage(); err == nil {
		t.Fatal("silent server answered")
	} else if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestTruncateModeCutsFrame(t *testing.T) {
	srv := start(t, stubserver.ModeTruncate)
	c := dial(t, srv)
	c.send(&wire.Login{PlayerID: 1, CommandID: 1})
	c.mustRecv()
	c.send(&wire.EnterZone{ZoneID: 1, CommandID: 2})
	c.mustRecv()
	c.send(&wire.PlayerInput{Sequence: 1, CommandID: 3})

	_, err := c.recv()
	if !wire.IsFraming(err) {
		t.Fatalf("expected framing error, got %v", err)
	}
}

func TestGarbageModeSendsMalformedPayload(t *testing.T) {
	srv := start(t, stubserver.ModeGarbage)
	c := dial(t, srv)
	c.send(&wire.Login{PlayerID: 1, CommandID: 1})
	c.mustRecv()
	c.send(&wire.PlayerInput{Sequence: 1})
	if _, err := c.recv(); !wire.IsProtocol(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestCloseModeHangsUp(t *testing.T) {
	srv := start(t, stubserver.ModeClose)
	c := dial(t, srv)
	if _, err := c.recv(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range stubserver.Modes {
		got, err := stubserver.ParseMode(string(m))
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %q, %v", m, got, err)
		}
	}
	if got, _ := stubserver.ParseMode(""); got != stubserver.ModeNormal {
		t.Errorf("empty mode = %q, want normal", got)
	}
	if _, err := stubserver.ParseMode("chaos"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestCloseIsIdempotentWithOpenClients(t *testing.T) {
	srv, err := stubserver.Listen("127.0.0.1:0", stubserver.Options{})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	c := dial(t, srv)
	c.send(&wire.Login{PlayerID: 1, CommandID: 1})
	c.mustRecv()

	srv.Close()
	srv.Close()
	if open := srv.Stats().Open; open != 0 {
		t.Fatalf("open connections after Close = %d", open)
	}
}
