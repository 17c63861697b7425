package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agrovision/cropscan/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested", "session.json"))

	saved := State{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Identity:     domain.Identity{UserID: "auth-1", Email: "farmer@example.com"},
		OwnerID:      "owner-1",
	}
	require.NoError(t, store.Save(saved))

	loaded, err := store.Load()

	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
	assert.Equal(t, domain.TokenPair{AccessToken: "access", RefreshToken: "refresh"}, loaded.Pair())
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStoreLoadEmptyTokenIsNoSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":""}`), 0o600))

	_, err := NewStore(path).Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStoreSaveRestrictsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, NewStore(path).Save(State{AccessToken: "a"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "token file must not be group or world readable")
}

func TestStoreClearIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewStore(path)

	require.NoError(t, store.Save(State{AccessToken: "a"}))
	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}
