// Package session owns the token pair for a login and the retry contract
// around authenticated calls: refresh once, retry once, then give up and
// demand a re-login.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agrovision/cropscan/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// refreshLeeway is how close to its exp claim an access token may get
// before Do refreshes it up front instead of waiting for a 401.
const refreshLeeway = 30 * time.Second

// RefreshFunc rotates a token pair. The passed refresh token is consumed
// by the call whether it succeeds or not.
type RefreshFunc func(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error)

type Session struct {
	mu       sync.RWMutex
	access   string
	refresh  string
	identity domain.Identity
	// gen counts token rotations. An operation that saw generation N and
	// then hit a 401 only triggers a refresh if the generation is still N;
	// otherwise someone already rotated and a plain retry is enough.
	gen     uint64
	expired bool

	refreshFn RefreshFunc
	group     singleflight.Group
	onExpired func()
}

func New(pair domain.TokenPair, id domain.Identity, refreshFn RefreshFunc) *Session {
	return &Session{
		access:    pair.AccessToken,
		refresh:   pair.RefreshToken,
		identity:  id,
		refreshFn: refreshFn,
	}
}

// OnExpired registers the callback fired once when the session is declared
// dead, so stale tokens can be purged from wherever they are persisted.
func (s *Session) OnExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = fn
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *Session) Tokens() domain.TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.TokenPair{AccessToken: s.access, RefreshToken: s.refresh}
}

func (s *Session) Identity() domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access != "" && !s.expired
}

// Do runs one authenticated operation with the retry contract: a failure
// other than Unauthorized is surfaced untouched; Unauthorized earns exactly
// one refresh and one more attempt; anything after that is SessionExpired
// with the re-login flag set. op names the operation for error reporting.
func (s *Session) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	dead := s.expired
	s.mu.RUnlock()
	if dead {
		return domain.NewSessionExpired(op, errors.New("session already expired"))
	}

	if s.expiringSoon() {
		// Best effort; a failed proactive refresh still leaves the
		// reactive path below.
		if _, err := s.refreshShared(ctx, s.generation()); err != nil {
			slog.Debug("proactive refresh failed", slog.String("op", op), slog.String("error", err.Error()))
		}
	}

	seen := s.generation()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrUnauthorized) {
		return err
	}

	if _, rerr := s.refreshShared(ctx, seen); rerr != nil {
		s.expire()
		return domain.NewSessionExpired(op, rerr)
	}

	err = fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		s.expire()
		return domain.NewSessionExpired(op, err)
	}
	return err
}

func (s *Session) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// refreshShared rotates the tokens at most once per failure window:
// concurrent callers coalesce on the singleflight group, and a caller
// whose generation is already stale skips the rotation entirely.
func (s *Session) refreshShared(ctx context.Context, seen uint64) (uint64, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		s.mu.RLock()
		cur := s.gen
		refresh := s.refresh
		s.mu.RUnlock()

		if cur != seen {
			return cur, nil
		}
		if refresh == "" {
			return cur, errors.New("no refresh token")
		}

		pair, id, err := s.refreshFn(ctx, refresh)
		if err != nil {
			return cur, fmt.Errorf("refresh token: %w", err)
		}

		s.mu.Lock()
		s.access = pair.AccessToken
		if pair.RefreshToken != "" {
			s.refresh = pair.RefreshToken
		}
		if id.UserID != "" {
			s.identity = id
		}
		s.gen++
		cur = s.gen
		s.mu.Unlock()

		slog.Debug("session tokens rotated")
		return cur, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// expiringSoon inspects the exp claim of the access token. Tokens that do
// not parse as JWTs are treated as non-expiring; the reactive 401 path
// still covers them.
func (s *Session) expiringSoon() bool {
	token := s.AccessToken()
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	// The client holds no signing key, so the claims are read unverified.
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}

	return time.Until(claims.ExpiresAt.Time) < refreshLeeway
}

func (s *Session) expire() {
	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return
	}
	s.expired = true
	s.access = ""
	s.refresh = ""
	fn := s.onExpired
	s.mu.Unlock()

	slog.Info("session expired, re-login required")
	if fn != nil {
		fn()
	}
}
