package interfaces

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Level is the privilege tier a key must meet to authorize an operation.
// Levels are ordered LOW < STANDARD < PRIVILEGED.
type Level string

const (
	LevelLow        Level = "LOW"
	LevelStandard   Level = "STANDARD"
	LevelPrivileged Level = "PRIVILEGED"
)

var levelRank = map[Level]int{
	LevelLow:        1,
	LevelStandard:   2,
	LevelPrivileged: 3,
}

// Valid reports whether the level is one of the defined tiers.
func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Meets reports whether a key of this level satisfies the required level.
func (l Level) Meets(required Level) bool {
	return levelRank[l] >= levelRank[required]
}

// AliasType discriminates the kinds of human-memorable identifiers.
type AliasType string

const (
	AliasEmail  AliasType = "EMAIL"
	AliasDomain AliasType = "DOMAIN"
	AliasPhone  AliasType = "PHONE"
)

// Alias is a human-memorable identifier resolvable to a member ID. Realm
// scopes the alias to a partner; an empty realm means the default
// unaffiliated realm.
type Alias struct {
	Type  AliasType `json:"type"`
	Value string    `json:"value"`
	Realm string    `json:"realm,omitempty"`
}

// Normalized returns a copy with the value trimmed and, for email and domain
// aliases, lowercased. Aliases are always normalized before hashing or
// transmission.
func (a Alias) Normalized() Alias {
	out := a
	out.Value = strings.TrimSpace(out.Value)
	if a.Type == AliasEmail || a.Type == AliasDomain {
		out.Value = strings.ToLower(out.Value)
	}
	return out
}

// Validate checks the alias has a known type and a non-empty value.
func (a Alias) Validate() error {
	switch a.Type {
	case AliasEmail, AliasDomain, AliasPhone:
	default:
		return fmt.Errorf("unknown alias type %q", a.Type)
	}
	if strings.TrimSpace(a.Value) == "" {
		return errors.New("alias value must not be empty")
	}
	return nil
}

// Hash returns the hex-encoded SHA3-256 digest of the normalized alias.
// Remove-alias operations reference aliases by this hash rather than by
// value.
func (a Alias) Hash() string {
	n := a.Normalized()
	// Field order is fixed by the struct definition, so the encoding is
	// deterministic.
	raw, _ := json.Marshal(n)
	sum := sha3.Sum256(raw)
	return fmt.Sprintf("%x", sum)
}

// Key is a member public key tagged with a privilege level. PublicKey is the
// base64url-encoded raw key material.
type Key struct {
	ID        string `json:"id"`
	Algorithm string `json:"algorithm"`
	Level     Level  `json:"level"`
	PublicKey string `json:"publicKey"`
}

// Equal compares two keys field by field.
func (k Key) Equal(other Key) bool {
	return k == other
}

// RecoveryRule designates who may authorize account recovery. PrimaryAgent
// is a member ID; the platform's own member ID selects the default
// code-verification path.
type RecoveryRule struct {
	PrimaryAgent    string   `json:"primaryAgent"`
	SecondaryAgents []string `json:"secondaryAgents,omitempty"`
}

// MemberSnapshot is the authoritative server-side view of a member. LastHash
// is an opaque version token advanced by the server on every accepted
// mutation; it is the basis of optimistic concurrency control.
type MemberSnapshot struct {
	ID           string        `json:"id"`
	LastHash     string        `json:"lastHash"`
	Aliases      []Alias       `json:"aliases,omitempty"`
	Keys         []Key         `json:"keys,omitempty"`
	RecoveryRule *RecoveryRule `json:"recoveryRule,omitempty"`
	PartnerID    string        `json:"partnerId,omitempty"`
}

// MemberOperation is a single mutation intent. Exactly one field is set.
// Operations describe intent ("add alias X"), not diffs against current
// state.
type MemberOperation struct {
	AddKey        *AddKeyOperation        `json:"addKey,omitempty"`
	RemoveKey     *RemoveKeyOperation     `json:"removeKey,omitempty"`
	AddAlias      *AddAliasOperation      `json:"addAlias,omitempty"`
	RemoveAlias   *RemoveAliasOperation   `json:"removeAlias,omitempty"`
	RecoveryRules *RecoveryRulesOperation `json:"recoveryRules,omitempty"`
	Recover       *RecoveryOperation      `json:"recover,omitempty"`
}

// AddKeyOperation approves a public key for the member.
type AddKeyOperation struct {
	Key Key `json:"key"`
}

// RemoveKeyOperation removes a key by ID.
type RemoveKeyOperation struct {
	KeyID string `json:"keyId"`
}

// AddAliasOperation attaches an alias, referenced by hash. The plaintext
// alias travels separately as operation metadata.
type AddAliasOperation struct {
	AliasHash string `json:"aliasHash"`
	Realm     string `json:"realm,omitempty"`
}

// RemoveAliasOperation detaches an alias by hash.
type RemoveAliasOperation struct {
	AliasHash string `json:"aliasHash"`
}

// RecoveryRulesOperation replaces the member's recovery rule.
type RecoveryRulesOperation struct {
	RecoveryRule RecoveryRule `json:"recoveryRule"`
}

// OperationMetadata carries plaintext context for operations that only
// reference hashed values.
type OperationMetadata struct {
	AddAlias *AddAliasMetadata `json:"addAlias,omitempty"`
}

// AddAliasMetadata is the plaintext alias for an AddAliasOperation.
type AddAliasMetadata struct {
	Alias Alias `json:"alias"`
}

// MemberUpdate is an operation batch submitted against a base hash. PrevHash
// must be the LastHash observed when the mutation was initiated; the server
// rejects the update if the member has advanced past it. PrevHash is empty
// only for the initial update that sets up a freshly reserved member ID.
type MemberUpdate struct {
	MemberID   string            `json:"memberId"`
	PrevHash   string            `json:"prevHash,omitempty"`
	Operations []MemberOperation `json:"operations"`
}

// Signature identifies a signing key and carries the base64url-encoded
// signature bytes over the canonical form of a payload.
type Signature struct {
	MemberID  string `json:"memberId"`
	KeyID     string `json:"keyId"`
	Signature string `json:"signature"`
}

// Authorization binds a replacement privileged key to a specific version of
// a member. PrevHash is captured once, when the authorization is
// constructed, and is covered by the authorizing signature; a stale
// authorization cannot be replayed after the member's state moves on.
type Authorization struct {
	MemberID  string `json:"memberId"`
	MemberKey Key    `json:"memberKey"`
	PrevHash  string `json:"prevHash"`
}

// RecoveryOperation is a signed authorization: the proof that either a
// trusted agent or the platform (after code verification) vouches for the
// key replacement.
type RecoveryOperation struct {
	Authorization  Authorization `json:"authorization"`
	AgentSignature Signature     `json:"agentSignature"`
}

// VerificationStatus reports the outcome of an out-of-band code check.
type VerificationStatus string

const (
	VerificationSuccess     VerificationStatus = "SUCCESS"
	VerificationInvalidCode VerificationStatus = "INVALID_CODE"
	VerificationExpired     VerificationStatus = "EXPIRED"
)

// Signer produces signatures with a single key held elsewhere. Private key
// material never crosses this boundary.
type Signer interface {
	// KeyID identifies the signing key.
	KeyID() string
	// Sign returns the raw signature over data.
	Sign(data []byte) ([]byte, error)
}
