package keyring

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeyStore persists key ring entries. Implementations must be safe for
// concurrent use through a single KeyRing.
type KeyStore interface {
	// Put appends an entry.
	Put(entry Entry) error
	// Entries returns all stored entries.
	Entries() ([]Entry, error)
}

// MemoryStore keeps entries in process memory. Entries vanish with the
// process; suitable for transient members and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Put implements KeyStore.
func (s *MemoryStore) Put(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries implements KeyStore.
func (s *MemoryStore) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...), nil
}

const (
	envelopeVersion = 1
	saltSize        = 16

	kdfTime     = 2
	kdfMemoryKB = 64 * 1024
	kdfThreads  = 1
)

// ErrStoreAuthFailed indicates the passphrase did not decrypt the store
// file.
var ErrStoreAuthFailed = errors.New("key store authentication failed")

type envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdfTime"`
	KDFMemoryKB uint32 `json:"kdfMemoryKb"`
	KDFThreads  uint8  `json:"kdfThreads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// FileStore persists entries to a single file, encrypted with a key derived
// from the passphrase via argon2id and sealed with XChaCha20-Poly1305. The
// whole entry set is rewritten on every Put.
type FileStore struct {
	mu         sync.Mutex
	path       string
	passphrase string
	entries    []Entry
	loaded     bool
}

// NewFileStore opens (or lazily creates) an encrypted key store at path.
func NewFileStore(path, passphrase string) *FileStore {
	return &FileStore{path: path, passphrase: passphrase}
}

// Put implements KeyStore.
func (s *FileStore) Put(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	s.entries = append(s.entries, entry)
	return s.flush()
}

// Entries implements KeyStore.
func (s *FileStore) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	return append([]Entry(nil), s.entries...), nil
}

func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read key store: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("could not parse key store envelope: %w", err)
	}
	if env.Version != envelopeVersion || env.KDF != "argon2id" {
		return fmt.Errorf("unsupported key store envelope (version %d, kdf %q)", env.Version, env.KDF)
	}

	key := argon2.IDKey([]byte(s.passphrase), env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return ErrStoreAuthFailed
	}

	if err := json.Unmarshal(plaintext, &s.entries); err != nil {
		return fmt.Errorf("could not parse key store entries: %w", err)
	}
	s.loaded = true
	return nil
}

func (s *FileStore) flush() error {
	plaintext, err := json.Marshal(s.entries)
	if err != nil {
		return err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	key := argon2.IDKey([]byte(s.passphrase), salt, kdfTime, kdfMemoryKB, kdfThreads, chacha20poly1305.KeySize)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	env := envelope{
		Version:     envelopeVersion,
		KDF:         "argon2id",
		KDFTime:     kdfTime,
		KDFMemoryKB: kdfMemoryKB,
		KDFThreads:  kdfThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
