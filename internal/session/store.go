package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/agrovision/cropscan/internal/domain"
)

// State is everything worth keeping between runs: the token pair, who it
// belongs to, and the cached owner-id mapping so it survives restarts.
type State struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	Identity     domain.Identity `json:"identity"`
	OwnerID      string          `json:"owner_id,omitempty"`
}

func (st State) Pair() domain.TokenPair {
	return domain.TokenPair{AccessToken: st.AccessToken, RefreshToken: st.RefreshToken}
}

var ErrNoSession = errors.New("no stored session")

// Store persists session state as a JSON file, the CLI counterpart of the
// mini-app's local storage.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (st *Store) Load() (State, error) {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrNoSession
		}
		return State{}, fmt.Errorf("read session file: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode session file: %w", err)
	}
	if s.AccessToken == "" {
		return State{}, ErrNoSession
	}

	return s, nil
}

func (st *Store) Save(s State) error {
	if err := os.MkdirAll(filepath.Dir(st.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := os.WriteFile(st.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Clear removes the stored state. Clearing an absent file is not an error.
func (st *Store) Clear() error {
	if err := os.Remove(st.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
