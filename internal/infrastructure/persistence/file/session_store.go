// Package file persists the session as a JSON file in the user's
// config directory, the desktop equivalent of browser local storage.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/school-hub/gradebook/internal/domain/session"
	"github.com/school-hub/gradebook/internal/domain/shared"
)

// SessionStore is a session.Store backed by one JSON file.
type SessionStore struct {
	path string
}

// NewSessionStore creates a store writing to path. The parent directory
// is created on the first Save.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// DefaultPath returns the conventional session file location under the
// user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "gradebook", "session.json"), nil
}

// Save writes the session. The file is written atomically via a rename
// so a crash mid-write never leaves a truncated session behind.
func (s *SessionStore) Save(_ context.Context, sess session.Session) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// Load reads the persisted session. A missing file means logged out.
func (s *SessionStore) Load(_ context.Context) (session.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return session.Session{}, shared.ErrNoSession
		}
		return session.Session{}, fmt.Errorf("read session: %w", err)
	}
	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A corrupt file is indistinguishable from no session; the
		// holder discards it either way.
		return session.Session{}, shared.ErrNoSession
	}
	return sess, nil
}

// Clear removes the session file. Clearing an absent file is a no-op.
func (s *SessionStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
