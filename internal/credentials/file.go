package credentials

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	default:
		return "json"
	}
}

// LoadJSON reads accounts from a JSON document. The accounts array is either
// the document root or located by fields.Accounts.
func LoadJSON(path string, fields Fields) (Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open accounts file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("accounts file %s: invalid JSON", path)
	}
	fields = fields.withDefaults()

	list := gjson.ParseBytes(data)
	if fields.Accounts != "" {
		list = list.Get(fields.Accounts)
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("accounts file %s: expected an array of accounts", path)
	}

	var (
		accounts []Account
		parseErr error
	)
	list.ForEach(func(key, value gjson.Result) bool {
		ticket := value.Get(fields.Ticket)
		id := value.Get(fields.PlayerID)
		if !ticket.Exists() || !id.Exists() {
			parseErr = fmt.Errorf("account %d: missing %q or %q", key.Int(), fields.PlayerID, fields.Ticket)
			return false
		}
		playerID, err := strconv.ParseUint(id.String(), 10, 64)
		if err != nil {
			parseErr = fmt.Errorf("account %d: player id %q: %w", key.Int(), id.String(), err)
			return false
		}
		accounts = append(accounts, Account{
			PlayerID: playerID,
			Ticket:   ticket.String(),
			Username: value.Get(fields.Username).String(),
		})
		return true
	})
	if parseErr != nil {
		return nil, fmt.Errorf("accounts file %s: %w", path, parseErr)
	}
	return newRoundRobin(accounts)
}

// LoadCSV reads accounts from a CSV file whose header row names the fields.
func LoadCSV(path string, fields Fields) (Provider, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open accounts file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV file must have at least one header row and one data row")
	}

	fields = fields.withDefaults()
	column := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		column[strings.TrimSpace(name)] = i
	}
	idCol, okID := column[fields.PlayerID]
	ticketCol, okTicket := column[fields.Ticket]
	if !okID || !okTicket {
		return nil, fmt.Errorf("CSV header must contain %q and %q", fields.PlayerID, fields.Ticket)
	}
	userCol, okUser := column[fields.Username]

	accounts := make([]Account, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(rows[0]) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", i+2, len(row), len(rows[0]))
		}
		playerID, err := strconv.ParseUint(row[idCol], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: player id %q: %w", i+2, row[idCol], err)
		}
		acct := Account{PlayerID: playerID, Ticket: row[ticketCol]}
		if okUser {
			acct.Username = row[userCol]
		}
		accounts = append(accounts, acct)
	}
	return newRoundRobin(accounts)
}
