package identity

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"os"
	"path"

	"github.com/natefinch/atomic"
)

// Store keeps persistent identities on disk as PEM pairs named by the
// hash of their display name, with an index file listing the names.
// Transient identities never pass through the store.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) fileName(displayName string) string {
	ss := sha256.New()
	ss.Write([]byte(displayName))
	return path.Join(s.dir, hex.EncodeToString(ss.Sum(nil)))
}

func (s *Store) indexName() string {
	return path.Join(s.dir, "identities")
}

// Save writes the identity's PEM pair and adds it to the index.
// Transient identities are rejected.
func (s *Store) Save(id *Identity) error {
	if !id.Persistent {
		return fmt.Errorf("identity: refusing to save transient identity %q", id.DisplayName)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}
	certPEM, keyPEM, err := id.EncodePEM()
	if err != nil {
		return err
	}
	fn := s.fileName(id.DisplayName)
	if err := atomic.WriteFile(fn+".cert", bytes.NewReader(certPEM)); err != nil {
		return err
	}
	if err := atomic.WriteFile(fn+".key", bytes.NewReader(keyPEM)); err != nil {
		return err
	}
	names, err := s.List()
	if err != nil {
		return err
	}
	// Already indexed: nothing more to do.
	for _, n := range names {
		if n == id.DisplayName {
			return nil
		}
	}
	names = append(names, id.DisplayName)
	return s.writeIndex(names)
}

// Load reads a persistent identity by display name.
func (s *Store) Load(displayName string) (*Identity, error) {
	fn := s.fileName(displayName)
	keyPair, err := tls.LoadX509KeyPair(fn+".cert", fn+".key")
	if err != nil {
		return nil, fmt.Errorf("identity: failed to load %q: %w", displayName, err)
	}
	return &Identity{
		Certificate: keyPair,
		DisplayName: displayName,
		Persistent:  true,
	}, nil
}

// Delete removes the identity's files and index entry.
func (s *Store) Delete(displayName string) error {
	fn := s.fileName(displayName)
	os.Remove(fn + ".cert")
	os.Remove(fn + ".key")
	names, err := s.List()
	if err != nil {
		return err
	}
	remaining := names[:0]
	for _, n := range names {
		if n != displayName {
			remaining = append(remaining, n)
		}
	}
	return s.writeIndex(remaining)
}

// List returns the display names of all stored identities.
func (s *Store) List() (names []string, err error) {
	f, err := os.Open(s.indexName())
	if err != nil {
		if os.IsNotExist(err) {
			err = nil
		}
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			names = append(names, line)
		}
	}
	err = scanner.Err()
	return
}

func (s *Store) writeIndex(names []string) error {
	b := new(bytes.Buffer)
	for _, n := range names {
		fmt.Fprintln(b, n)
	}
	return atomic.WriteFile(s.indexName(), b)
}
