package codec

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ruteri/identity-sdk/interfaces"
)

// Canonicalize produces the deterministic byte form of a protocol payload.
// The payload is marshaled to JSON, decoded into a generic value, and
// re-marshaled; encoding/json emits object keys in sorted order, which fixes
// the byte layout independent of struct definition or map iteration order.
// Fields tagged omitempty disappear entirely when unset, so "absent" and
// "zero" canonicalize identically.
func Canonicalize(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("could not normalize payload: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("could not canonicalize payload: %w", err)
	}
	return canonical, nil
}

// Sign canonicalizes payload and signs it with the given signer on behalf of
// memberID.
func Sign(payload any, memberID string, signer interfaces.Signer) (interfaces.Signature, error) {
	data, err := Canonicalize(payload)
	if err != nil {
		return interfaces.Signature{}, err
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return interfaces.Signature{}, fmt.Errorf("signing failed: %w", err)
	}
	return interfaces.Signature{
		MemberID:  memberID,
		KeyID:     signer.KeyID(),
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks sig over the canonical form of payload against the given
// public key. A mismatch returns false with a nil error; only a malformed
// signature encoding or key yields an error.
func Verify(payload any, sig interfaces.Signature, publicKey interfaces.Key) (bool, error) {
	data, err := Canonicalize(payload)
	if err != nil {
		return false, err
	}

	sigBytes, err := base64.RawURLEncoding.DecodeString(sig.Signature)
	if err != nil {
		return false, &interfaces.SignatureFormatError{Reason: "signature is not valid base64url"}
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return false, &interfaces.SignatureFormatError{Reason: fmt.Sprintf("signature length %d, want %d", len(sigBytes), ed25519.SignatureSize)}
	}

	pubBytes, err := base64.RawURLEncoding.DecodeString(publicKey.PublicKey)
	if err != nil {
		return false, &interfaces.SignatureFormatError{Reason: "public key is not valid base64url"}
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return false, &interfaces.SignatureFormatError{Reason: fmt.Sprintf("public key length %d, want %d", len(pubBytes), ed25519.PublicKeySize)}
	}

	return ed25519.Verify(ed25519.PublicKey(pubBytes), data, sigBytes), nil
}
