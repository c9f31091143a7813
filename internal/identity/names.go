package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// placeholder values written by older clients in place of a missing name
var placeholders = map[string]struct{}{
	"undefined": {},
	"null":      {},
	"none":      {},
	"n/a":       {},
}

// IsPlaceholder reports whether a stored name part carries no information.
func IsPlaceholder(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	_, ok := placeholders[strings.ToLower(s)]
	return ok
}

// FullName joins first and last when both are usable.
func FullName(first, last string) (string, bool) {
	if IsPlaceholder(first) || IsPlaceholder(last) {
		return "", false
	}
	return strings.TrimSpace(first) + " " + strings.TrimSpace(last), true
}

// DeriveFromEmail builds a display name from the local part of an email:
// "a.lee@acme.com" gives "A Lee", "alice@acme.com" gives "Alice".
func DeriveFromEmail(email string) (string, bool) {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "", false
	}
	local := strings.TrimSpace(email[:at])
	if local == "" {
		return "", false
	}
	if !strings.Contains(local, ".") {
		return capitalize(local), true
	}

	var parts []string
	for _, segment := range strings.Split(local, ".") {
		if segment == "" {
			continue
		}
		parts = append(parts, capitalize(segment))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " "), true
}

// DeriveFromIdentifier is the last resort: "{Role} {last 4 of id}".
func DeriveFromIdentifier(role, id string) string {
	label := "User"
	if role = strings.TrimSpace(role); role != "" {
		label = capitalize(strings.ToLower(role))
	}
	suffix := id
	if len(id) > 4 {
		suffix = id[len(id)-4:]
	}
	return label + " " + suffix
}

// SplitName breaks a derived display name at its first space.
func SplitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	first, last, _ := strings.Cut(name, " ")
	return first, strings.TrimSpace(last)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
