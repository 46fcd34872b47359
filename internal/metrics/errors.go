package metrics

import (
	"strings"
	"unicode"
)

var friendlyAliases = map[string]string{
	ErrorConnect:   "Connection failed",
	ErrorHandshake: "Handshake failed",
	ErrorFraming:   "Stream closed mid-frame",
	ErrorProtocol:  "Malformed payload",
	ErrorDesync:    "Stream desynchronised",
	ErrorSend:      "Send failed",
	ErrorReceive:   "Receive failed",
	ErrorPanic:     "Session panicked",
}

// FriendlyErrorName returns a human-friendly label for an error kind.
func FriendlyErrorName(kind string) string {
	cleaned := strings.TrimSpace(kind)
	if cleaned == "" {
		return "Unknown error"
	}
	if alias, ok := friendlyAliases[strings.ToLower(cleaned)]; ok {
		return alias
	}

	words := strings.FieldsFunc(cleaned, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
	for i, w := range words {
		if isAllUpper(w) {
			continue
		}
		words[i] = capitalize(w)
	}
	if len(words) == 0 {
		return "Unknown error"
	}
	return strings.Join(words, " ")
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	runes := []rune(lower)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
