package gatewaytest

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/ruteri/identity-sdk/codec"
	"github.com/ruteri/identity-sdk/interfaces"
	"github.com/ruteri/identity-sdk/keyring"
	"github.com/ruteri/identity-sdk/member"
)

// ErrUnauthorizedUpdate is returned when an update's signature does not
// verify, its signing key lacks the required privilege, or a recovery proof
// fails agent verification.
var ErrUnauthorizedUpdate = errors.New("update not authorized")

type memberRecord struct {
	snap interfaces.MemberSnapshot
}

type verification struct {
	memberID string
	code     string
	consumed bool
}

// Backend is an in-memory authoritative member store. It enforces the same
// rules as the production gateway: privileged signatures on every update,
// compare-and-swap on the member hash, realm checks on alias attachment, and
// agent verification on recovery proofs.
type Backend struct {
	mu            sync.Mutex
	members       map[string]*memberRecord
	aliases       map[string]string
	verifications map[string]*verification
	nonces        map[string]string

	platformID   string
	platformRing *keyring.KeyRing
}

// NewBackend creates a backend with a freshly generated platform member. The
// platform member acts as the default recovery agent and signs hosted-flow
// callbacks.
func NewBackend() *Backend {
	b := &Backend{
		members:       make(map[string]*memberRecord),
		aliases:       make(map[string]string),
		verifications: make(map[string]*verification),
		nonces:        make(map[string]string),
		platformID:    "m:" + uuid.NewString(),
		platformRing:  keyring.New(),
	}

	platformKey, err := b.platformRing.GenerateKey(interfaces.LevelPrivileged)
	if err != nil {
		panic(fmt.Sprintf("could not generate platform key: %v", err))
	}
	b.members[b.platformID] = &memberRecord{snap: interfaces.MemberSnapshot{
		ID:       b.platformID,
		LastHash: newHash("", []byte(b.platformID)),
		Keys:     []interfaces.Key{platformKey},
	}}
	return b
}

// PlatformID returns the member ID of the built-in platform member.
func (b *Backend) PlatformID() string { return b.platformID }

// CreateMemberID reserves a member ID. Repeating a nonce returns the ID it
// reserved the first time.
func (b *Backend) CreateMemberID(_ context.Context, nonce string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.nonces[nonce]; ok {
		return id, nil
	}
	id := "m:" + uuid.NewString()
	b.nonces[nonce] = id
	b.members[id] = &memberRecord{snap: interfaces.MemberSnapshot{ID: id}}
	return id, nil
}

// GetMember returns a copy of the member's authoritative snapshot.
func (b *Backend) GetMember(_ context.Context, memberID string) (interfaces.MemberSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.members[memberID]
	if !ok {
		return interfaces.MemberSnapshot{}, interfaces.ErrMemberNotFound
	}
	return copySnapshot(rec.snap), nil
}

// UpdateMember verifies and applies a signed operation batch, advancing the
// member's hash. PrevHash must equal the current hash exactly; recovery
// proofs additionally bind to the hash captured at authorization time.
func (b *Backend) UpdateMember(_ context.Context, update interfaces.MemberUpdate, sig interfaces.Signature, metadata []interfaces.OperationMetadata) (interfaces.MemberSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.members[update.MemberID]
	if !ok {
		return interfaces.MemberSnapshot{}, interfaces.ErrMemberNotFound
	}
	if update.PrevHash != rec.snap.LastHash {
		return interfaces.MemberSnapshot{}, interfaces.ErrConcurrentModification
	}

	signingKey, err := b.resolveSigningKey(rec, update, sig)
	if err != nil {
		return interfaces.MemberSnapshot{}, err
	}
	ok, err = codec.Verify(update, sig, signingKey)
	if err != nil {
		return interfaces.MemberSnapshot{}, err
	}
	if !ok {
		return interfaces.MemberSnapshot{}, fmt.Errorf("%w: signature does not verify", ErrUnauthorizedUpdate)
	}

	next := copySnapshot(rec.snap)
	aliasAdds := make(map[string]string)
	var aliasRemovals []string
	for _, op := range update.Operations {
		switch {
		case op.Recover != nil:
			if err := b.verifyRecovery(rec, update, sig, *op.Recover); err != nil {
				return interfaces.MemberSnapshot{}, err
			}
			// All prior keys are revoked; the batch's addKey operations
			// install the replacement ring.
			next.Keys = nil

		case op.AddKey != nil:
			next.Keys = upsertKey(next.Keys, op.AddKey.Key)

		case op.RemoveKey != nil:
			next.Keys = removeKey(next.Keys, op.RemoveKey.KeyID)

		case op.AddAlias != nil:
			alias, err := b.aliasFromMetadata(op.AddAlias, metadata)
			if err != nil {
				return interfaces.MemberSnapshot{}, err
			}
			if next.PartnerID != "" && next.PartnerID != member.DefaultRealm && op.AddAlias.Realm != next.PartnerID {
				return interfaces.MemberSnapshot{}, fmt.Errorf("%w: alias realm %q does not match partner %q", ErrUnauthorizedUpdate, op.AddAlias.Realm, next.PartnerID)
			}
			if owner, taken := b.aliases[op.AddAlias.AliasHash]; taken && owner != update.MemberID {
				return interfaces.MemberSnapshot{}, fmt.Errorf("alias already registered to another member")
			}
			aliasAdds[op.AddAlias.AliasHash] = update.MemberID
			next.Aliases = upsertAlias(next.Aliases, alias)

		case op.RemoveAlias != nil:
			if owner := b.aliases[op.RemoveAlias.AliasHash]; owner == update.MemberID {
				aliasRemovals = append(aliasRemovals, op.RemoveAlias.AliasHash)
			}
			delete(aliasAdds, op.RemoveAlias.AliasHash)
			next.Aliases = removeAlias(next.Aliases, op.RemoveAlias.AliasHash)

		case op.RecoveryRules != nil:
			rule := op.RecoveryRules.RecoveryRule
			next.RecoveryRule = &rule

		default:
			return interfaces.MemberSnapshot{}, fmt.Errorf("operation with no intent set")
		}
	}

	canonical, err := codec.Canonicalize(update)
	if err != nil {
		return interfaces.MemberSnapshot{}, err
	}
	next.LastHash = newHash(rec.snap.LastHash, canonical)

	// The batch is all-or-nothing; the alias index only changes once the
	// whole update has been accepted.
	for _, hash := range aliasRemovals {
		delete(b.aliases, hash)
	}
	for hash, owner := range aliasAdds {
		b.aliases[hash] = owner
	}
	rec.snap = next
	return copySnapshot(next), nil
}

// resolveSigningKey finds the key the update signature claims. Updates are
// signed by an existing privileged key, or during bootstrap and recovery by
// a key the batch itself introduces.
func (b *Backend) resolveSigningKey(rec *memberRecord, update interfaces.MemberUpdate, sig interfaces.Signature) (interfaces.Key, error) {
	candidates := append([]interfaces.Key{}, rec.snap.Keys...)
	for _, op := range update.Operations {
		if op.Recover != nil {
			candidates = append(candidates, op.Recover.Authorization.MemberKey)
		}
		// Fresh members have no keys yet; the initial batch is signed by
		// the privileged key it installs.
		if op.AddKey != nil && len(rec.snap.Keys) == 0 {
			candidates = append(candidates, op.AddKey.Key)
		}
	}

	for _, key := range candidates {
		if key.ID != sig.KeyID {
			continue
		}
		if !key.Level.Meets(interfaces.LevelPrivileged) {
			return interfaces.Key{}, fmt.Errorf("%w: key %s is not privileged", ErrUnauthorizedUpdate, key.ID)
		}
		return key, nil
	}
	return interfaces.Key{}, fmt.Errorf("%w: unknown signing key %s", ErrUnauthorizedUpdate, sig.KeyID)
}

// verifyRecovery checks a recovery proof: the authorization must target this
// member at its current hash, the update must be signed by the replacement
// key the authorization names, and the agent signature must come from a
// privileged key of an agent the member's recovery rule designates (or the
// platform).
func (b *Backend) verifyRecovery(rec *memberRecord, update interfaces.MemberUpdate, sig interfaces.Signature, op interfaces.RecoveryOperation) error {
	auth := op.Authorization
	if auth.MemberID != update.MemberID {
		return fmt.Errorf("%w: recovery authorization targets %s", ErrUnauthorizedUpdate, auth.MemberID)
	}
	if auth.PrevHash != rec.snap.LastHash {
		return interfaces.ErrConcurrentModification
	}
	if sig.KeyID != auth.MemberKey.ID {
		return fmt.Errorf("%w: recovery update must be signed by the authorized replacement key", ErrUnauthorizedUpdate)
	}

	agentID := op.AgentSignature.MemberID
	if !b.agentAllowed(rec, agentID) {
		return fmt.Errorf("%w: %s is not a recovery agent for this member", ErrUnauthorizedUpdate, agentID)
	}
	agent, ok := b.members[agentID]
	if !ok {
		return fmt.Errorf("%w: unknown recovery agent %s", ErrUnauthorizedUpdate, agentID)
	}

	var agentKey interfaces.Key
	for _, key := range agent.snap.Keys {
		if key.ID == op.AgentSignature.KeyID && key.Level.Meets(interfaces.LevelPrivileged) {
			agentKey = key
			break
		}
	}
	if agentKey.ID == "" {
		return fmt.Errorf("%w: agent %s has no privileged key %s", ErrUnauthorizedUpdate, agentID, op.AgentSignature.KeyID)
	}

	verified, err := codec.Verify(auth, op.AgentSignature, agentKey)
	if err != nil {
		return err
	}
	if !verified {
		return fmt.Errorf("%w: agent signature does not verify", ErrUnauthorizedUpdate)
	}
	return nil
}

func (b *Backend) agentAllowed(rec *memberRecord, agentID string) bool {
	if agentID == b.platformID {
		return true
	}
	if rec.snap.RecoveryRule == nil {
		return false
	}
	if rec.snap.RecoveryRule.PrimaryAgent == agentID {
		return true
	}
	for _, secondary := range rec.snap.RecoveryRule.SecondaryAgents {
		if secondary == agentID {
			return true
		}
	}
	return false
}

func (b *Backend) aliasFromMetadata(op *interfaces.AddAliasOperation, metadata []interfaces.OperationMetadata) (interfaces.Alias, error) {
	for _, m := range metadata {
		if m.AddAlias == nil {
			continue
		}
		if m.AddAlias.Alias.Hash() == op.AliasHash {
			return m.AddAlias.Alias.Normalized(), nil
		}
	}
	return interfaces.Alias{}, fmt.Errorf("no metadata carries the plaintext for alias hash %s", op.AliasHash)
}

// ResolveAlias returns the member ID the alias is registered to.
func (b *Backend) ResolveAlias(_ context.Context, alias interfaces.Alias) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.aliases[alias.Hash()]
	if !ok {
		return "", interfaces.ErrMemberNotFound
	}
	return id, nil
}

// BeginRecovery opens a recovery attempt for the member the alias resolves
// to. The generated code is retrievable via VerificationCode; a real
// deployment would deliver it out of band.
func (b *Backend) BeginRecovery(_ context.Context, alias interfaces.Alias) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	memberID, ok := b.aliases[alias.Hash()]
	if !ok {
		return "", interfaces.ErrMemberNotFound
	}

	code, err := randomCode()
	if err != nil {
		return "", err
	}
	verificationID := uuid.NewString()
	b.verifications[verificationID] = &verification{memberID: memberID, code: code}
	return verificationID, nil
}

// CompleteRecovery checks the out-of-band code and, on success, returns a
// platform-signed recovery operation binding privilegedKey to the member at
// its current hash. Each verification is single-use.
func (b *Backend) CompleteRecovery(_ context.Context, verificationID, code string, privilegedKey interfaces.Key) (interfaces.RecoveryOperation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.verifications[verificationID]
	if !ok || v.consumed {
		return interfaces.RecoveryOperation{}, &interfaces.VerificationError{Status: interfaces.VerificationExpired}
	}
	if v.code != code {
		return interfaces.RecoveryOperation{}, &interfaces.VerificationError{Status: interfaces.VerificationInvalidCode}
	}
	rec, ok := b.members[v.memberID]
	if !ok {
		return interfaces.RecoveryOperation{}, interfaces.ErrMemberNotFound
	}
	v.consumed = true

	auth := interfaces.Authorization{
		MemberID:  v.memberID,
		MemberKey: privilegedKey,
		PrevHash:  rec.snap.LastHash,
	}
	sig, err := b.platformSign(auth)
	if err != nil {
		return interfaces.RecoveryOperation{}, err
	}
	return interfaces.RecoveryOperation{Authorization: auth, AgentSignature: sig}, nil
}

// DefaultRecoveryAgent returns the platform member's ID.
func (b *Backend) DefaultRecoveryAgent(_ context.Context) (string, error) {
	return b.platformID, nil
}

// LookupPublicKey returns the identified key of a member.
func (b *Backend) LookupPublicKey(_ context.Context, memberID, keyID string) (interfaces.Key, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.members[memberID]
	if !ok {
		return interfaces.Key{}, interfaces.ErrMemberNotFound
	}
	for _, key := range rec.snap.Keys {
		if key.ID == keyID {
			return key, nil
		}
	}
	return interfaces.Key{}, interfaces.ErrMemberNotFound
}

// VerificationCode exposes the out-of-band code for a recovery attempt.
// Stands in for the email or SMS channel of a real deployment.
func (b *Backend) VerificationCode(verificationID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.verifications[verificationID]
	if !ok {
		return "", fmt.Errorf("unknown verification %s", verificationID)
	}
	return v.code, nil
}

// SetPartnerID marks a member as affiliated with a partner. Affiliation is
// an onboarding concern decided server-side, so tests set it directly.
func (b *Backend) SetPartnerID(memberID, partnerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.members[memberID]
	if !ok {
		return interfaces.ErrMemberNotFound
	}
	rec.snap.PartnerID = partnerID
	return nil
}

// SignTokenRequestState signs {tokenId, state} with the platform key, as the
// hosted flow does before redirecting back to the caller.
func (b *Backend) SignTokenRequestState(tokenID, serializedState string) (interfaces.Signature, error) {
	return b.platformSign(struct {
		TokenID string `json:"tokenId"`
		State   string `json:"state"`
	}{TokenID: tokenID, State: serializedState})
}

// CallbackURL builds the redirect URL the hosted flow would send the user
// back with: token-id, nonce, state, and the platform signature over
// {tokenId, state}.
func (b *Backend) CallbackURL(redirectBase, tokenID, serializedState string) (string, error) {
	sig, err := b.SignTokenRequestState(tokenID, serializedState)
	if err != nil {
		return "", err
	}
	sigJSON, err := json.Marshal(sig)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("token-id", tokenID)
	query.Set("nonce", uuid.NewString())
	query.Set("state", serializedState)
	query.Set("signature", string(sigJSON))
	return redirectBase + "?" + query.Encode(), nil
}

func (b *Backend) platformSign(payload any) (interfaces.Signature, error) {
	signer, err := b.platformRing.Signer(interfaces.LevelPrivileged)
	if err != nil {
		return interfaces.Signature{}, err
	}
	return codec.Sign(payload, b.platformID, signer)
}

// newHash chains the previous hash with the canonical update bytes. Opaque
// to clients; only equality matters.
func newHash(prev string, canonical []byte) string {
	h := sha3.New256()
	h.Write([]byte(prev))
	h.Write(canonical)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func copySnapshot(snap interfaces.MemberSnapshot) interfaces.MemberSnapshot {
	out := snap
	out.Aliases = append([]interfaces.Alias(nil), snap.Aliases...)
	out.Keys = append([]interfaces.Key(nil), snap.Keys...)
	if snap.RecoveryRule != nil {
		rule := *snap.RecoveryRule
		rule.SecondaryAgents = append([]string(nil), snap.RecoveryRule.SecondaryAgents...)
		out.RecoveryRule = &rule
	}
	return out
}

func upsertKey(keys []interfaces.Key, key interfaces.Key) []interfaces.Key {
	for i := range keys {
		if keys[i].ID == key.ID {
			keys[i] = key
			return keys
		}
	}
	return append(keys, key)
}

func removeKey(keys []interfaces.Key, keyID string) []interfaces.Key {
	out := keys[:0]
	for _, k := range keys {
		if k.ID != keyID {
			out = append(out, k)
		}
	}
	return out
}

func upsertAlias(aliases []interfaces.Alias, alias interfaces.Alias) []interfaces.Alias {
	for i := range aliases {
		if aliases[i].Hash() == alias.Hash() {
			aliases[i] = alias
			return aliases
		}
	}
	return append(aliases, alias)
}

func removeAlias(aliases []interfaces.Alias, aliasHash string) []interfaces.Alias {
	out := aliases[:0]
	for _, a := range aliases {
		if a.Hash() != aliasHash {
			out = append(out, a)
		}
	}
	return out
}
