// Package interfaces defines core types and interfaces for the member
// identity SDK, separating the protocol contract from implementations.
//
// The package provides the shared vocabulary of the system:
//
// # Domain Types
//
// Alias: A human-memorable identifier (email, domain, phone) resolvable to a
// member ID, optionally scoped to a realm.
//
// Key / Level: A member's public signing key tagged with a privilege level
// (LOW < STANDARD < PRIVILEGED). Operations require a key at or above a given
// level.
//
// MemberSnapshot: The authoritative server-side view of a member, including
// the hash-chain pointer (LastHash) that every mutation must chain from.
//
// MemberUpdate / MemberOperation: An operation batch describing mutation
// intent (add alias, remove key, set recovery rule, recover) submitted
// against a base hash.
//
// Authorization / RecoveryOperation: Recovery proofs binding a replacement
// privileged key to a specific version of the member, signed either by a
// trusted agent or by the platform after code verification.
//
// # Gateway
//
// Gateway is the external RPC collaborator every component calls into. The
// SDK ships an HTTP implementation in package gateway and an in-memory
// authoritative implementation in gateway/gatewaytest.
//
// # Errors
//
// The typed error taxonomy: ErrConcurrentModification, InvalidRealmError,
// VerificationError, ErrInvalidState, ErrInvalidSignature, KeyNotFoundError,
// RPCUnavailableError, SignatureFormatError, ErrMemberNotFound.
package interfaces
