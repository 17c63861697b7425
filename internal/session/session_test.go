package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agrovision/cropscan/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity() domain.Identity {
	return domain.Identity{UserID: "auth-1", Email: "u@example.com"}
}

func TestDoPassesThroughSuccess(t *testing.T) {
	refreshCalls := 0
	sess := New(domain.TokenPair{AccessToken: "tok", RefreshToken: "ref"}, testIdentity(),
		func(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
			refreshCalls++
			return domain.TokenPair{}, domain.Identity{}, errors.New("should not be called")
		})

	calls := 0
	err := sess.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, refreshCalls)
}

func TestDoSurfacesNonAuthErrorsWithoutRefresh(t *testing.T) {
	refreshCalls := 0
	sess := New(domain.TokenPair{AccessToken: "tok", RefreshToken: "ref"}, testIdentity(),
		func(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
			refreshCalls++
			return domain.TokenPair{}, domain.Identity{}, nil
		})

	boom := errors.New("connection reset")
	err := sess.Do(context.Background(), "op", func(ctx context.Context) error {
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.False(t, domain.NeedsRelogin(err))
	assert.Equal(t, 0, refreshCalls)
}

func TestDoRefreshesOnceAndRetries(t *testing.T) {
	var refreshCalls int
	sess := New(domain.TokenPair{AccessToken: "old", RefreshToken: "ref-1"}, testIdentity(),
		func(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
			refreshCalls++
			assert.Equal(t, "ref-1", refreshToken)
			return domain.TokenPair{AccessToken: "new", RefreshToken: "ref-2"}, domain.Identity{}, nil
		})

	var opCalls int
	err := sess.Do(context.Background(), "op", func(ctx context.Context) error {
		opCalls++
		if sess.AccessToken() == "old" {
			return fmt.Errorf("request: %w", domain.ErrUnauthorized)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, opCalls)
	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, domain.TokenPair{AccessToken: "new", RefreshToken: "ref-2"}, sess.Tokens())
}

// A second Unauthorized after a successful refresh is terminal: the wrapper
// gives up instead of attempting a third call.
func TestDoRetryOnceBound(t *testing.T) {
	sess := New(domain.TokenPair{AccessToken: "old", RefreshToken: "ref"}, testIdentity(),
		func(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
			return domain.TokenPair{AccessToken: "new"}, domain.Identity{}, nil
		})

	var opCalls int
	err := sess.Do(context.Background(), "op", func(ctx context.Context) error {
		opCalls++
		return domain.ErrUnauthorized
	})

	require.Error(t, err)
	assert.Equal(t, 2, opCalls)
	assert.Equal(t, domain.KindSessionExpired, domain.KindOf(err))
	assert.True(t, domain.NeedsRelogin(err))
}

func TestDoFailedRefreshExpiresSessionAndNotifies(t *testing.T) {
	sess := New(domain.TokenPair{AccessToken: "old", RefreshToken: "ref"}, testIdentity(),
		func(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
			return domain.TokenPair{}, domain.Identity{}, errors.New("refresh rejected")
		})

	var notified int
	sess.OnExpired(func() { notified++ })

	err := sess.Do(context.Background(), "op", func(ctx context.Context) error {
		return domain.ErrUnauthorized
	})

	require.Error(t, err)
	assert.True(t, domain.NeedsRelogin(err))
	assert.Equal(t, 1, notified)
	assert.False(t, sess.LoggedIn())
	assert.Empty(t, sess.AccessToken())

	// A dead session fails fast without touching the operation.
	var opCalls int
	err = sess.Do(context.Background(), "op", func(ctx context.Context) error {
		opCalls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindSessionExpired, domain.KindOf(err))
	assert.Equal(t, 0, opCalls)
	assert.Equal(t, 1, notified)
}

// N concurrent operations all hitting Unauthorized in the same failure
// window must coalesce into exactly one refresh call.
func TestConcurrentUnauthorizedSingleRefresh(t *testing.T) {
	const n = 8

	var refreshCalls atomic.Int64
	release := make(chan struct{})

	sess := New(domain.TokenPair{AccessToken: "old", RefreshToken: "ref"}, testIdentity(),
		func(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
			refreshCalls.Add(1)
			<-release
			return domain.TokenPair{AccessToken: "new", RefreshToken: "ref-2"}, domain.Identity{}, nil
		})

	var started sync.WaitGroup
	started.Add(n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() {
			errs <- sess.Do(context.Background(), "op", func(ctx context.Context) error {
				if sess.AccessToken() == "old" {
					started.Done()
					return domain.ErrUnauthorized
				}
				return nil
			})
		}()
	}

	// Let every operation fail on the old token before the refresh lands.
	started.Wait()
	close(release)

	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int64(1), refreshCalls.Load())
}

func TestStaleGenerationSkipsRedundantRefresh(t *testing.T) {
	var refreshCalls atomic.Int64
	sess := New(domain.TokenPair{AccessToken: "old", RefreshToken: "ref"}, testIdentity(),
		func(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
			refreshCalls.Add(1)
			return domain.TokenPair{AccessToken: "new"}, domain.Identity{}, nil
		})

	// First operation rotates the tokens.
	require.NoError(t, sess.Do(context.Background(), "op", func(ctx context.Context) error {
		if sess.AccessToken() == "old" {
			return domain.ErrUnauthorized
		}
		return nil
	}))
	require.Equal(t, int64(1), refreshCalls.Load())

	// An operation that saw the old generation and 401s afterwards must
	// not trigger a second rotation; the generation check sends it
	// straight to the retry.
	gen := sess.generation()
	_, err := sess.refreshShared(context.Background(), gen-1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), refreshCalls.Load())
}

func TestProactiveRefreshNearExpiry(t *testing.T) {
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Second)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)

	var refreshCalls int
	sess := New(domain.TokenPair{AccessToken: token, RefreshToken: "ref"}, testIdentity(),
		func(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
			refreshCalls++
			return domain.TokenPair{AccessToken: "fresh"}, domain.Identity{}, nil
		})

	var opCalls int
	err = sess.Do(context.Background(), "op", func(ctx context.Context) error {
		opCalls++
		assert.Equal(t, "fresh", sess.AccessToken())
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, 1, opCalls)
}

func TestOpaqueTokenSkipsProactiveRefresh(t *testing.T) {
	sess := New(domain.TokenPair{AccessToken: "not-a-jwt", RefreshToken: "ref"}, testIdentity(),
		func(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
			t.Fatal("refresh must not run for an opaque token")
			return domain.TokenPair{}, domain.Identity{}, nil
		})

	require.NoError(t, sess.Do(context.Background(), "op", func(ctx context.Context) error {
		return nil
	}))
}
