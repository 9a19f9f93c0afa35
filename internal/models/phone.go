package models

import (
	"regexp"
	"strings"
)

var kzPhone = regexp.MustCompile(`^7\d{10}$`)

// NormalizePhone validates a typed Kazakhstan number and returns it as +7XXXXXXXXXX.
// The domestic trunk prefix 8 is accepted in place of 7.
func NormalizePhone(raw string) (string, bool) {
	clean := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	clean = strings.TrimPrefix(clean, "+")
	if len(clean) == 11 && clean[0] == '8' {
		clean = "7" + clean[1:]
	}
	if !kzPhone.MatchString(clean) {
		return "", false
	}
	return "+" + clean, true
}
