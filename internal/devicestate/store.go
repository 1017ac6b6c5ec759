package devicestate

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mr-tron/base58/base58"
)

// Store holds device-local state that is never transmitted: the installation
// id and the one-time first-run guidance marker. The marker is per device,
// not per account, so it lives here rather than in the profile row.
type Store struct {
	mu    sync.Mutex
	path  string
	state persistedState
}

type persistedState struct {
	Version    int    `json:"version"`
	InstallID  string `json:"install_id"`
	GuideShown bool   `json:"guide_shown"`
}

func Open(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		installID, err := newInstallID()
		if err != nil {
			return nil, err
		}
		s.state = persistedState{Version: 1, InstallID: installID}
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.state); err != nil {
		return nil, fmt.Errorf("device state is corrupt: %w", err)
	}
	if s.state.Version != 1 || s.state.InstallID == "" {
		return nil, errors.New("device state payload is invalid")
	}
	return s, nil
}

func (s *Store) InstallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.InstallID
}

func (s *Store) GuideShown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GuideShown
}

// MarkGuideShown persists the marker before reporting success, so a crash
// cannot re-arm the guidance on the next run.
func (s *Store) MarkGuideShown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.GuideShown {
		return nil
	}
	s.state.GuideShown = true
	if err := s.persistLocked(); err != nil {
		s.state.GuideShown = false
		return err
	}
	return nil
}

func (s *Store) persistLocked() error {
	payload, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func newInstallID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "vgo1" + base58.Encode(buf), nil
}
