// Package phone canonicalizes Kenyan mobile numbers into the gateway wire format.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidFormat is returned for anything outside the accepted shapes.
var ErrInvalidFormat = errors.New("invalid phone number format: use 07XXXXXXXX, 01XXXXXXXX, 254XXXXXXXXX or +254XXXXXXXXX")

var (
	localRe = regexp.MustCompile(`^0[17]\d{8}$`)
	wireRe  = regexp.MustCompile(`^254[17]\d{8}$`)
)

// Normalize returns the canonical 254[17]XXXXXXXX form of raw.
// Spaces and dashes are stripped before matching.
func Normalize(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	switch {
	case localRe.MatchString(s):
		return "254" + s[1:], nil
	case strings.HasPrefix(s, "+") && wireRe.MatchString(s[1:]):
		return s[1:], nil
	case wireRe.MatchString(s):
		return s, nil
	}
	return "", ErrInvalidFormat
}

// Valid reports whether raw normalizes.
func Valid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

// Display renders a number in the local 07XXXXXXXX form shown to customers.
// Input that does not normalize is returned unchanged.
func Display(raw string) string {
	n, err := Normalize(raw)
	if err != nil {
		return raw
	}
	return "0" + n[3:]
}
