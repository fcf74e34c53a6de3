// Package reference builds the client references that correlate an STK push
// with its callback and with the status poller.
package reference

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Purpose tags used by the client screens.
const (
	Activation = "ACT"
	Deposit    = "DEP"
	Upgrade    = "UPG"
)

const (
	guest     = "GUEST"
	suffixLen = 8
)

// ErrMalformed is returned by Parse for references not built by New.
var ErrMalformed = errors.New("malformed client reference")

// now is swapped in tests.
var now = time.Now

// Generator builds references. The zero value produces plain references.
type Generator struct {
	// Suffix appends a short random token after the timestamp.
	Suffix bool
}

// New returns {PURPOSE}-{subjectID}-{epochMillis}.
func New(purpose, subjectID string) string {
	return Generator{}.New(purpose, subjectID)
}

// WithSuffix is New plus a random suffix, for replayed test harnesses.
func WithSuffix(purpose, subjectID string) string {
	return Generator{Suffix: true}.New(purpose, subjectID)
}

func (g Generator) New(purpose, subjectID string) string {
	p := strings.ToUpper(strings.TrimSpace(purpose))
	s := strings.TrimSpace(subjectID)
	if s == "" {
		s = guest
	}
	ref := p + "-" + s + "-" + strconv.FormatInt(now().UnixMilli(), 10)
	if g.Suffix {
		ref += "-" + uuid.NewString()[:suffixLen]
	}
	return ref
}

// Parts is a decoded reference.
type Parts struct {
	Purpose   string
	SubjectID string
	IssuedAt  time.Time
}

// Parse splits ref into purpose, subject and timestamp. Subject ids may
// contain dashes; an optional suffix as added by WithSuffix is tolerated.
func Parse(ref string) (Parts, error) {
	fields := strings.Split(ref, "-")
	if len(fields) < 3 {
		return Parts{}, ErrMalformed
	}
	last := len(fields) - 1
	if last >= 3 && isSuffix(fields[last]) && isMillis(fields[last-1]) {
		last--
	}
	ms, err := strconv.ParseInt(fields[last], 10, 64)
	if err != nil || fields[0] == "" {
		return Parts{}, ErrMalformed
	}
	subject := strings.Join(fields[1:last], "-")
	if subject == "" {
		return Parts{}, ErrMalformed
	}
	return Parts{
		Purpose:   fields[0],
		SubjectID: subject,
		IssuedAt:  time.UnixMilli(ms),
	}, nil
}

func isSuffix(s string) bool {
	if len(s) != suffixLen {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

func isMillis(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
