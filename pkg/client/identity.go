package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/uuid"
)

// IdentityKey is the key the viewer identity is stored under.
const IdentityKey = "prtu-user"

// Identity is the viewer as remembered by this installation.
type Identity struct {
	Name        string `json:"name,omitempty"`
	AnonymousID string `json:"anonymousId"`
}

func (id Identity) Named() bool {
	return id.Name != ""
}

// IdentityStore persists the viewer identity between runs.
//
// Load returns a zero Identity when nothing was saved yet. Clear forgets the
// display name but keeps the anonymous id, so likes stay attributed to the
// same installation after signing out.
type IdentityStore interface {
	Load() (Identity, error)
	Save(Identity) error
	Clear() error
}

// NewAnonymousID mints a per-installation viewer id.
func NewAnonymousID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return "user_" + id.String(), nil
}

type MemoryStore struct {
	mu sync.Mutex
	id Identity
}

func (s *MemoryStore) Load() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *MemoryStore) Save(id Identity) error {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.id.Name = ""
	s.mu.Unlock()
	return nil
}

// FileStore keeps a small key/value JSON document on disk, with the identity
// under IdentityKey. Other keys in the file are preserved.
type FileStore struct {
	Path string

	mu sync.Mutex
}

// NewFileStore returns a store in the user's config directory.
func NewFileStore() (*FileStore, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locate config dir: %w", err)
	}
	return &FileStore{Path: filepath.Join(dir, "prtu-community", "storage.json")}, nil
}

func (s *FileStore) Load() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return Identity{}, err
	}

	var id Identity
	raw, ok := doc[IdentityKey]
	if !ok {
		return id, nil
	}
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, fmt.Errorf("decode %s: %w", IdentityKey, err)
	}
	id.Name = strings.TrimSpace(id.Name)

	return id, nil
}

func (s *FileStore) Save(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(id)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	var id Identity
	if raw, ok := doc[IdentityKey]; ok {
		// A broken entry is replaced by an empty identity.
		_ = json.Unmarshal(raw, &id)
	}
	id.Name = ""

	return s.save(id)
}

func (s *FileStore) save(id Identity) error {
	doc, err := s.read()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	doc[IdentityKey] = raw

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)

	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Path, err)
	}

	return doc, nil
}
