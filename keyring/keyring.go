package keyring

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/ruteri/identity-sdk/interfaces"
)

// Algorithm identifies the signature scheme of keys this ring generates.
const Algorithm = "ED25519"

// Entry is a key pair held by a KeyStore. The private half stays inside the
// keyring package.
type Entry struct {
	Key       interfaces.Key     `json:"key"`
	Private   ed25519.PrivateKey `json:"private"`
	CreatedAt time.Time          `json:"createdAt"`
}

// KeyRing holds a member's key material and exposes signing capability at a
// privilege level. Multiple keys of the same level may coexist (device
// provisioning); a signer always uses the most recently generated key that
// meets the requested level.
type KeyRing struct {
	mu    sync.RWMutex
	store KeyStore
}

// New creates a KeyRing backed by an in-memory store.
func New() *KeyRing {
	return NewWithStore(NewMemoryStore())
}

// NewWithStore creates a KeyRing backed by the given store.
func NewWithStore(store KeyStore) *KeyRing {
	return &KeyRing{store: store}
}

// GenerateKey creates a fresh Ed25519 key pair tagged with level and stores
// the private half internally. Only the public key is returned.
func (r *KeyRing) GenerateKey(level interfaces.Level) (interfaces.Key, error) {
	if !level.Valid() {
		return interfaces.Key{}, fmt.Errorf("invalid privilege level %q", level)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return interfaces.Key{}, fmt.Errorf("could not generate key: %w", err)
	}

	key := interfaces.Key{
		ID:        KeyID(pub),
		Algorithm: Algorithm,
		Level:     level,
		PublicKey: base64.RawURLEncoding.EncodeToString(pub),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Put(Entry{Key: key, Private: priv, CreatedAt: time.Now()}); err != nil {
		return interfaces.Key{}, fmt.Errorf("could not store key: %w", err)
	}
	return key, nil
}

// Signer returns a signing capability using the most recently generated key
// at or above the requested level. Fails with KeyNotFoundError if no key
// qualifies.
func (r *KeyRing) Signer(level interfaces.Level) (interfaces.Signer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := r.store.Entries()
	if err != nil {
		return nil, fmt.Errorf("could not read key store: %w", err)
	}

	var best *Entry
	for i := range entries {
		e := &entries[i]
		if !e.Key.Level.Meets(level) {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	if best == nil {
		return nil, &interfaces.KeyNotFoundError{Level: level}
	}

	return &signer{
		keyID: best.Key.ID,
		priv:  append(ed25519.PrivateKey(nil), best.Private...),
	}, nil
}

// PublicKeys returns the public halves of every key in the ring.
func (r *KeyRing) PublicKeys() ([]interfaces.Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := r.store.Entries()
	if err != nil {
		return nil, fmt.Errorf("could not read key store: %w", err)
	}
	keys := make([]interfaces.Key, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// KeyID derives a stable identifier from a public key: the first 16 bytes of
// its SHA3-256 digest, base64url-encoded.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha3.Sum256(pub)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// DecodePublicKey parses the base64url public key material of a Key.
func DecodePublicKey(key interfaces.Key) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("could not decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

type signer struct {
	keyID string
	priv  ed25519.PrivateKey
}

func (s *signer) KeyID() string { return s.keyID }

func (s *signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}
