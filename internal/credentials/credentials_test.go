package credentials_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/torosent/gamestorm/internal/credentials"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestJSONAccountsRoundRobin(t *testing.T) {
	path := writeFile(t, "accounts.json", `[
		{"player_id": 1001, "session_ticket": "t-1", "username": "alice"},
		{"player_id": "1002", "session_ticket": "t-2", "username": "bob"},
		{"player_id": 1003, "session_ticket": "t-3"}
	]`)

	p, err := credentials.Open(credentials.Source{File: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer p.Close()

	if p.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", p.Len())
	}
	tests := []struct {
		index  int
		player uint64
		ticket string
	}{
		{0, 1001, "t-1"},
		{1, 1002, "t-2"},
		{2, 1003, "t-3"},
		{3, 1001, "t-1"},
		{7, 1002, "t-2"},
	}
	for _, tt := range tests {
		acct, err := p.For(tt.index)
		if err != nil {
			t.Fatalf("For(%d) error = %v", tt.index, err)
		}
		if acct.PlayerID != tt.player || acct.Ticket != tt.ticket {
			t.Errorf("For(%d) = %+v, want player %d ticket %s", tt.index, acct, tt.player, tt.ticket)
		}
	}
}

func TestJSONAccountsNestedPathAndCustomFields(t *testing.T) {
	path := writeFile(t, "bootstrap.json", `{"generated":"now","data":{"accounts":[{"id":5,"auth":{"ticket":"abc"}}]}}`)

	p, err := credentials.LoadJSON(path, credentials.Fields{Accounts: "data.accounts", PlayerID: "id", Ticket: "auth.ticket"})
	if err != nil {
		t.Fatalf("LoadJSON() error = %v", err)
	}
	acct, _ := p.For(0)
	if acct.PlayerID != 5 || acct.Ticket != "abc" {
		t.Fatalf("account = %+v", acct)
	}
}

func TestJSONAccountsErrors(t *testing.T) {
	tests := map[string]string{
		"invalid":       `{not json`,
		"not an array":  `{"player_id": 1}`,
		"missing field": `[{"player_id": 1}]`,
		"bad id":        `[{"player_id": "abc", "session_ticket": "x"}]`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "accounts.json", content)
			if _, err := credentials.LoadJSON(path, credentials.Fields{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	empty := writeFile(t, "empty.json", `[]`)
	if _, err := credentials.LoadJSON(empty, credentials.Fields{}); !errors.Is(err, credentials.ErrNoAccounts) {
		t.Fatalf("expected ErrNoAccounts, got %v", err)
	}
}

func TestCSVAccounts(t *testing.T) {
	path := writeFile(t, "accounts.csv", "username,player_id,session_ticket\nalice,1,t1\nbob,2,t2\n")
	p, err := credentials.Open(credentials.Source{File: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	acct, _ := p.For(1)
	if acct.PlayerID != 2 || acct.Ticket != "t2" || acct.Username != "bob" {
		t.Fatalf("account = %+v", acct)
	}

	bad := writeFile(t, "bad.csv", "name,ticket\nx,y\n")
	if _, err := credentials.Open(credentials.Source{File: bad}); err == nil {
		t.Fatal("expected header error")
	}
}

func TestStaticProvider(t *testing.T) {
	p, err := credentials.Open(credentials.Source{TicketTemplate: "tk-{{player_id}}-{{index}}", BasePlayerID: 100})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	acct, err := p.For(4)
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if acct.PlayerID != 105 || acct.Ticket != "tk-105-4" || acct.Username != "player105" {
		t.Fatalf("account = %+v", acct)
	}
	if p.Len() != 0 {
		t.Fatalf("static provider should be unbounded")
	}

	def := credentials.NewStaticProvider("", 0)
	if acct, _ := def.For(0); acct.Ticket != "loadtest-1" {
		t.Fatalf("default ticket = %q", acct.Ticket)
	}
}
