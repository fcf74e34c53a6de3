package mpesa

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// refresh this long before the gateway's stated expiry
const tokenSkew = 60 * time.Second

type fetchFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// tokenSource caches the OAuth token and collapses concurrent refreshes into
// one gateway call.
type tokenSource struct {
	fetch fetchFunc
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(fetch fetchFunc, now func() time.Time) *tokenSource {
	return &tokenSource{fetch: fetch, now: now}
}

func (s *tokenSource) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.expires) {
		return s.token, true
	}
	return "", false
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	if t, ok := s.cached(); ok {
		return t, nil
	}
	v, err, _ := s.group.Do("token", func() (any, error) {
		if t, ok := s.cached(); ok {
			return t, nil
		}
		t, ttl, err := s.fetch(ctx)
		if err != nil {
			return "", err
		}
		if ttl > 2*tokenSkew {
			ttl -= tokenSkew
		}
		s.mu.Lock()
		s.token, s.expires = t, s.now().Add(ttl)
		s.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after the gateway answers 401.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
