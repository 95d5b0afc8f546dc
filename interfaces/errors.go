package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrentModification indicates the authoritative LastHash moved
	// between read and write. Recoverable by retrying from a fresh read;
	// the SDK never retries on the caller's behalf.
	ErrConcurrentModification = errors.New("member state changed concurrently")

	// ErrMemberNotFound indicates an alias or member ID did not resolve.
	ErrMemberNotFound = errors.New("member not found")

	// ErrInvalidState indicates a callback state whose embedded CSRF token
	// hash does not match the supplied token. Fatal to that callback.
	ErrInvalidState = errors.New("callback state does not match CSRF token")

	// ErrInvalidSignature indicates a callback signature that does not
	// verify against the platform key. Fatal to that callback.
	ErrInvalidSignature = errors.New("callback signature verification failed")
)

// InvalidRealmError is raised before any network call when an alias's
// explicit realm conflicts with the member's partner affiliation.
type InvalidRealmError struct {
	AliasRealm string
	PartnerID  string
}

func (e *InvalidRealmError) Error() string {
	return fmt.Sprintf("alias realm %q conflicts with member partner %q", e.AliasRealm, e.PartnerID)
}

// VerificationError is returned when the authoritative source rejects a
// recovery verification code. Recoverable only by requesting a new code.
type VerificationError struct {
	Status VerificationStatus
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("recovery code verification failed: %s", e.Status)
}

// KeyNotFoundError indicates a signer was requested for a privilege level
// with no matching key in the ring. A configuration error, not retried.
type KeyNotFoundError struct {
	Level Level
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("no key at or above level %s", e.Level)
}

// SignatureFormatError indicates signature bytes that could not be decoded.
// Distinct from a verification mismatch, which is reported as false without
// an error.
type SignatureFormatError struct {
	Reason string
}

func (e *SignatureFormatError) Error() string {
	return fmt.Sprintf("malformed signature: %s", e.Reason)
}

// RPCUnavailableError wraps a transport-level failure from the gateway
// collaborator. The cause is preserved unchanged; retry policy belongs to
// the caller.
type RPCUnavailableError struct {
	Op  string
	Err error
}

func (e *RPCUnavailableError) Error() string {
	return fmt.Sprintf("gateway unavailable during %s: %v", e.Op, e.Err)
}

func (e *RPCUnavailableError) Unwrap() error { return e.Err }
