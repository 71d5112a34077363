package credstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltSize = 16
	keySize  = chacha20poly1305.KeySize
)

// file layout: magic | salt | nonce | ciphertext
var fileMagic = []byte("MAS1")

// KDFParams tunes the argon2id derivation of the file key.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultKDFParams mirrors the interactive argon2id recommendation.
var DefaultKDFParams = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

// Option configures a FileStore.
type Option func(*FileStore)

// WithKDFParams overrides the key derivation cost.
func WithKDFParams(p KDFParams) Option {
	return func(s *FileStore) { s.kdf = p }
}

// FileStore keeps the session in a single encrypted file readable only by
// the owner. Writes are atomic: readers see either the old or the new pair.
type FileStore struct {
	path       string
	passphrase []byte
	kdf        KDFParams

	mu   sync.Mutex
	salt []byte
	key  []byte
}

// NewFileStore returns a store at path encrypted with a key derived from passphrase.
func NewFileStore(path, passphrase string, opts ...Option) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("credential store path is required")
	}
	if passphrase == "" {
		return nil, errors.New("credential store passphrase is required")
	}
	s := &FileStore{path: path, passphrase: []byte(passphrase), kdf: DefaultKDFParams}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load decrypts the stored session. A missing file means logged out.
func (s *FileStore) Load(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	headerSize := len(fileMagic) + saltSize + chacha20poly1305.NonceSizeX
	if len(raw) < headerSize+chacha20poly1305.Overhead || !bytes.Equal(raw[:len(fileMagic)], fileMagic) {
		return nil, ErrCorrupt
	}
	salt := raw[len(fileMagic) : len(fileMagic)+saltSize]
	nonce := raw[len(fileMagic)+saltSize : headerSize]

	aead, err := chacha20poly1305.NewX(s.keyFor(salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, raw[headerSize:], raw[:len(fileMagic)+saltSize])
	if err != nil {
		return nil, ErrCorrupt
	}

	var session Session
	if err := json.Unmarshal(plaintext, &session); err != nil || !session.Valid() {
		return nil, ErrCorrupt
	}
	return &session, nil
}

// Save encrypts and atomically replaces the stored session.
func (s *FileStore) Save(ctx context.Context, session Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !session.Valid() {
		return errors.New("refusing to store an incomplete session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.salt == nil {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return err
		}
		s.keyFor(salt)
	}

	plaintext, err := json.Marshal(session)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	header := make([]byte, 0, len(fileMagic)+saltSize+len(nonce))
	header = append(header, fileMagic...)
	header = append(header, s.salt...)
	sealed := aead.Seal(nil, nonce, plaintext, header)

	out := make([]byte, 0, len(header)+len(nonce)+len(sealed))
	out = append(out, header...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return writeAtomic(s.path, out)
}

// Clear removes the stored session.
func (s *FileStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}

// keyFor derives, and caches, the key for salt. Caller holds s.mu.
func (s *FileStore) keyFor(salt []byte) []byte {
	if s.key != nil && bytes.Equal(s.salt, salt) {
		return s.key
	}
	s.salt = append([]byte(nil), salt...)
	s.key = argon2.IDKey(s.passphrase, s.salt, s.kdf.Time, s.kdf.Memory, s.kdf.Threads, keySize)
	return s.key
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}
