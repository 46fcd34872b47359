package credentials

import (
	"strconv"
	"strings"
)

// DefaultTicketTemplate is used when no template is configured.
const DefaultTicketTemplate = "loadtest-{{player_id}}"

// StaticProvider synthesizes an unbounded sequence of accounts. Player IDs
// are base+index+1 and tickets come from a template with {{player_id}},
// {{index}} and {{username}} placeholders.
type StaticProvider struct {
	template string
	base     uint64
}

func NewStaticProvider(template string, base uint64) *StaticProvider {
	if template == "" {
		template = DefaultTicketTemplate
	}
	return &StaticProvider{template: template, base: base}
}

func (p *StaticProvider) For(index int) (Account, error) {
	id := p.base + uint64(index) + 1
	username := "player" + strconv.FormatUint(id, 10)
	ticket := substitute(p.template, map[string]string{
		"player_id": strconv.FormatUint(id, 10),
		"index":     strconv.Itoa(index),
		"username":  username,
	})
	return Account{PlayerID: id, Ticket: ticket, Username: username}, nil
}

func (p *StaticProvider) Len() int { return 0 }

// Close is a no-op for static providers.
func (p *StaticProvider) Close() error { return nil }

// substitute replaces all occurrences of {{field}} with values[field].
// Unknown placeholders are left unchanged.
func substitute(template string, values map[string]string) string {
	result := template
	for key, value := range values {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}
