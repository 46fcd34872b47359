// Package credentials supplies the per-session login material.
//
// Tickets are obtained outside the harness (for example by an HTTP login
// flow) and handed over as an accounts file, or synthesized from a template
// when the server under test accepts any ticket.
package credentials

import (
	"errors"
	"fmt"
)

// Account is what one session presents during authentication.
type Account struct {
	PlayerID uint64 `json:"player_id"`
	Ticket   string `json:"-"`
	Username string `json:"username,omitempty"`
}

// Provider maps a session index to an account. Implementations must be safe
// for concurrent use.
type Provider interface {
	// For returns the account for the zero-based session index.
	For(index int) (Account, error)
	// Len returns the number of distinct accounts, or 0 when unbounded.
	Len() int
	Close() error
}

// ErrNoAccounts is returned when a source yields no usable accounts.
var ErrNoAccounts = errors.New("credentials: no accounts available")

// Source selects and configures a Provider.
type Source struct {
	// File is a JSON or CSV accounts file. Empty selects the static provider.
	File string
	// Format overrides extension-based detection ("json" or "csv").
	Format string
	// Fields names the record fields. Defaults follow the accounts files
	// written by the bootstrap tooling.
	Fields Fields
	// TicketTemplate and BasePlayerID configure the static provider.
	TicketTemplate string
	BasePlayerID   uint64
}

// Fields locates account values inside a record. For JSON sources these are
// gjson paths relative to each element of the accounts array.
type Fields struct {
	Accounts string // gjson path to the array; empty means the document root
	PlayerID string
	Ticket   string
	Username string
}

func (f Fields) withDefaults() Fields {
	if f.PlayerID == "" {
		f.PlayerID = "player_id"
	}
	if f.Ticket == "" {
		f.Ticket = "session_ticket"
	}
	if f.Username == "" {
		f.Username = "username"
	}
	return f
}

// Open builds the provider described by src.
func Open(src Source) (Provider, error) {
	if src.File == "" {
		return NewStaticProvider(src.TicketTemplate, src.BasePlayerID), nil
	}

	format := src.Format
	if format == "" {
		format = detectFormat(src.File)
	}
	switch format {
	case "json":
		return LoadJSON(src.File, src.Fields)
	case "csv":
		return LoadCSV(src.File, src.Fields)
	default:
		return nil, fmt.Errorf("credentials: unsupported accounts format %q", format)
	}
}

// roundRobin hands out a fixed account list by index modulo its length.
type roundRobin struct {
	accounts []Account
}

func newRoundRobin(accounts []Account) (*roundRobin, error) {
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	return &roundRobin{accounts: accounts}, nil
}

func (r *roundRobin) For(index int) (Account, error) {
	if index < 0 {
		return Account{}, fmt.Errorf("credentials: negative session index %d", index)
	}
	return r.accounts[index%len(r.accounts)], nil
}

func (r *roundRobin) Len() int { return len(r.accounts) }

func (r *roundRobin) Close() error { return nil }
