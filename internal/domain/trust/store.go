package trust

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// TrustStore errors.
var (
	ErrKeyNotFound = errors.New("key not found in trust store")
	ErrKeyExists   = errors.New("key already exists in trust store")
)

// Store manages trusted public keys as a directory of *.pem files.
// Reads are safe to run concurrently; writes are serialized internally.
type Store struct {
	mu  sync.RWMutex
	dir string
}

// NewStore creates a trust store rooted at dir. The directory is
// created lazily on the first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// Add validates and writes a public key. The key may be PKIX PEM or
// OpenSSH authorized_keys format; it is always stored as PEM. The file
// is named after the given name, or the key ID when name is empty.
func (s *Store) Add(keyData []byte, name string, source KeySource) (TrustedKey, error) {
	pub, err := ParsePublicKeyPEM(keyData)
	if err != nil {
		return TrustedKey{}, err
	}

	pemBytes, err := EncodePublicKeyPEM(pub)
	if err != nil {
		return TrustedKey{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return TrustedKey{}, fmt.Errorf("failed to create trust store: %w", err)
	}

	id := KeyID(pemBytes)
	filename := name
	if filename == "" {
		filename = id
	}
	filename = sanitizeFilename(filename) + ".pem"

	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); err == nil {
		return TrustedKey{}, fmt.Errorf("%w: %s", ErrKeyExists, filename)
	}

	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return TrustedKey{}, fmt.Errorf("failed to write key: %w", err)
	}

	if source == "" {
		source = SourceUser
	}

	return TrustedKey{
		ID:       id,
		PEM:      string(pemBytes),
		Filename: filename,
		Source:   source,
		AddedAt:  time.Now(),
	}, nil
}

// List returns all trusted keys, sorted by filename. Files that fail to
// parse as keys are skipped.
func (s *Store) List() ([]TrustedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

func (s *Store) listLocked() ([]TrustedKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read trust store: %w", err)
	}

	var keys []TrustedKey
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if _, err := ParsePublicKeyPEM(data); err != nil {
			continue
		}

		info, _ := entry.Info()
		added := time.Time{}
		if info != nil {
			added = info.ModTime()
		}

		keys = append(keys, TrustedKey{
			ID:       KeyID(data),
			PEM:      string(data),
			Filename: entry.Name(),
			Source:   SourceUser,
			AddedAt:  added,
		})
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Filename < keys[j].Filename
	})
	return keys, nil
}

// Remove deletes a key by its ID or filename.
func (s *Store) Remove(idOrFilename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.listLocked()
	if err != nil {
		return err
	}

	for _, key := range keys {
		if key.ID == idOrFilename || key.Filename == idOrFilename ||
			strings.TrimSuffix(key.Filename, ".pem") == idOrFilename {
			return os.Remove(filepath.Join(s.dir, key.Filename))
		}
	}
	return fmt.Errorf("%w: %s", ErrKeyNotFound, idOrFilename)
}

// Get returns a key by ID or filename.
func (s *Store) Get(idOrFilename string) (TrustedKey, bool) {
	keys, err := s.List()
	if err != nil {
		return TrustedKey{}, false
	}
	for _, key := range keys {
		if key.ID == idOrFilename || key.Filename == idOrFilename ||
			strings.TrimSuffix(key.Filename, ".pem") == idOrFilename {
			return key, true
		}
	}
	return TrustedKey{}, false
}

// Lookup finds a key by its canonical base64 form. The input may be the
// stored base64 or a full PEM block; both normalize to the same bytes.
func (s *Store) Lookup(base64OrPEM string) (TrustedKey, bool) {
	want := NormalizeKey(base64OrPEM)
	keys, err := s.List()
	if err != nil {
		return TrustedKey{}, false
	}
	for _, key := range keys {
		if key.Base64() == want {
			return key, true
		}
	}
	return TrustedKey{}, false
}

// Count returns the number of trusted keys.
func (s *Store) Count() int {
	keys, err := s.List()
	if err != nil {
		return 0
	}
	return len(keys)
}

// sanitizeFilename keeps filenames to a safe character set.
func sanitizeFilename(name string) string {
	name = strings.TrimSuffix(name, ".pem")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
}
