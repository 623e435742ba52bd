package util

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// NormalizeEmail lower-cases and trims an address. Lookups and uniqueness use this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether s parses as a bare address (no display name).
func ValidEmail(s string) bool {
	if s == "" || utf8.RuneCountInString(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

// ContainsSuspicious flags markup or template fragments in free-text fields.
// Plain words are left alone; mail templates escape whatever gets through.
func ContainsSuspicious(s string) bool {
	return strings.ContainsAny(s, "<>") ||
		strings.Contains(s, "{{") ||
		strings.Contains(s, "${")
}
