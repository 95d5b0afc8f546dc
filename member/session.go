package member

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/identity-sdk/codec"
	"github.com/ruteri/identity-sdk/interfaces"
	"github.com/ruteri/identity-sdk/keyring"
)

// ErrDelegatedSession is returned when an identity mutation is attempted on
// a session acting under delegated authority. Only self-authority sessions
// may mutate member identity.
var ErrDelegatedSession = errors.New("session acts under delegated authority")

// Delegation marks a session as acting on another member's resources under
// an access token rather than with self authority.
type Delegation struct {
	TokenID           string
	CustomerInitiated bool
}

// Session is the mutation engine for a single member. It owns the only
// mutable copy of the member state and funnels every mutation through the
// signed, hash-chained update protocol.
type Session struct {
	mu    sync.RWMutex
	state State

	ring       *keyring.KeyRing
	gw         interfaces.Gateway
	log        *slog.Logger
	delegation *Delegation
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger attaches a structured logger. Sessions log nothing by default.
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// NewSession constructs a session around an authoritative snapshot, the key
// ring holding this device's private keys, and the gateway collaborator.
func NewSession(snap interfaces.MemberSnapshot, ring *keyring.KeyRing, gw interfaces.Gateway, opts ...SessionOption) *Session {
	s := &Session{
		state: NewState(snap),
		ring:  ring,
		gw:    gw,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the member ID.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ID()
}

// State returns a snapshot copy of the current member state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// KeyRing returns the ring holding this session's signing keys.
func (s *Session) KeyRing() *keyring.KeyRing { return s.ring }

// Delegation returns the acting-as context, nil for self-authority
// sessions.
func (s *Session) Delegation() *Delegation { return s.delegation }

// ForAccessToken derives a session acting on resources granted by an access
// token. The derived session shares the key ring and gateway but refuses
// identity mutations.
func (s *Session) ForAccessToken(tokenID string, customerInitiated bool) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Session{
		state:      s.state,
		ring:       s.ring,
		gw:         s.gw,
		log:        s.log,
		delegation: &Delegation{TokenID: tokenID, CustomerInitiated: customerInitiated},
	}
}

// Refresh replaces the local state with a fresh authoritative snapshot.
func (s *Session) Refresh(ctx context.Context) error {
	snap, err := s.gw.GetMember(ctx, s.ID())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = s.state.WithMerged(snap)
	s.mu.Unlock()
	return nil
}

// AddAlias attaches a single alias to the member.
func (s *Session) AddAlias(ctx context.Context, alias interfaces.Alias) error {
	return s.AddAliases(ctx, []interfaces.Alias{alias})
}

// AddAliases attaches aliases to the member. Aliases with no realm inherit
// the member's partner ID; an alias whose explicit realm conflicts with the
// partner ID is rejected with InvalidRealmError before any network call.
func (s *Session) AddAliases(ctx context.Context, aliases []interfaces.Alias) error {
	partnerID := s.State().PartnerID()

	ops := make([]interfaces.MemberOperation, 0, len(aliases))
	metadata := make([]interfaces.OperationMetadata, 0, len(aliases))
	for _, alias := range aliases {
		if err := alias.Validate(); err != nil {
			return fmt.Errorf("invalid alias: %w", err)
		}
		normalized, err := NormalizeAliasRealm(alias, partnerID)
		if err != nil {
			return err
		}
		op, meta := AddAliasOperation(normalized)
		ops = append(ops, op)
		metadata = append(metadata, meta)
	}
	return s.applyUpdate(ctx, ops, metadata)
}

// RemoveAlias detaches a single alias from the member.
func (s *Session) RemoveAlias(ctx context.Context, alias interfaces.Alias) error {
	return s.RemoveAliases(ctx, []interfaces.Alias{alias})
}

// RemoveAliases detaches aliases, referenced by hash.
func (s *Session) RemoveAliases(ctx context.Context, aliases []interfaces.Alias) error {
	ops := make([]interfaces.MemberOperation, 0, len(aliases))
	for _, alias := range aliases {
		ops = append(ops, RemoveAliasOperation(alias.Normalized()))
	}
	return s.applyUpdate(ctx, ops, nil)
}

// ApproveKey adds a public key to the member's approved set. Used to
// approve keys generated on a newly provisioned device.
func (s *Session) ApproveKey(ctx context.Context, key interfaces.Key) error {
	return s.ApproveKeys(ctx, []interfaces.Key{key})
}

// ApproveKeys adds public keys to the member's approved set.
func (s *Session) ApproveKeys(ctx context.Context, keys []interfaces.Key) error {
	ops := make([]interfaces.MemberOperation, 0, len(keys))
	for _, key := range keys {
		ops = append(ops, AddKeyOperation(key))
	}
	return s.applyUpdate(ctx, ops, nil)
}

// RemoveKey removes a single key by ID.
func (s *Session) RemoveKey(ctx context.Context, keyID string) error {
	return s.RemoveKeys(ctx, []string{keyID})
}

// RemoveKeys removes keys by ID.
func (s *Session) RemoveKeys(ctx context.Context, keyIDs []string) error {
	ops := make([]interfaces.MemberOperation, 0, len(keyIDs))
	for _, keyID := range keyIDs {
		ops = append(ops, RemoveKeyOperation(keyID))
	}
	return s.applyUpdate(ctx, ops, nil)
}

// RemoveNonStoredKeys removes every server-side key with no private
// counterpart in the local ring. A set difference, not a wipe: keys present
// in both sets are untouched. Used when the device's local storage is
// authoritative for which keys still work here.
func (s *Session) RemoveNonStoredKeys(ctx context.Context) error {
	stored, err := s.ring.PublicKeys()
	if err != nil {
		return err
	}
	storedSet := make(map[interfaces.Key]struct{}, len(stored))
	for _, key := range stored {
		storedSet[key] = struct{}{}
	}

	latest, err := s.gw.GetMember(ctx, s.ID())
	if err != nil {
		return err
	}
	var toRemove []string
	for _, key := range latest.Keys {
		if _, ok := storedSet[key]; !ok {
			toRemove = append(toRemove, key.ID)
		}
	}
	if len(toRemove) == 0 {
		return nil
	}
	return s.RemoveKeys(ctx, toRemove)
}

// SetRecoveryRule replaces the member's recovery rule.
func (s *Session) SetRecoveryRule(ctx context.Context, rule interfaces.RecoveryRule) error {
	return s.applyUpdate(ctx, []interfaces.MemberOperation{RecoveryRuleOperation(rule)}, nil)
}

// UseDefaultRecoveryRule sets the platform itself as the sole trusted
// recovery agent.
func (s *Session) UseDefaultRecoveryRule(ctx context.Context) error {
	agentID, err := s.gw.DefaultRecoveryAgent(ctx)
	if err != nil {
		return err
	}
	return s.SetRecoveryRule(ctx, interfaces.RecoveryRule{PrimaryAgent: agentID})
}

// AuthorizeRecovery signs a recovery authorization as a trusted agent. The
// signature covers the authorization's prevHash binding, so it cannot be
// replayed once the target member's state advances.
func (s *Session) AuthorizeRecovery(auth interfaces.Authorization) (interfaces.Signature, error) {
	signer, err := s.ring.Signer(interfaces.LevelPrivileged)
	if err != nil {
		return interfaces.Signature{}, err
	}
	return codec.Sign(auth, s.ID(), signer)
}

// applyUpdate runs the optimistic-concurrency protocol for one operation
// batch: fresh hash read, privileged signature, submit, merge. The fresh
// read is deliberate; chaining from a cached hash widens the race window
// without helping correctness.
func (s *Session) applyUpdate(ctx context.Context, ops []interfaces.MemberOperation, metadata []interfaces.OperationMetadata) error {
	if s.delegation != nil {
		return ErrDelegatedSession
	}

	memberID := s.ID()
	latest, err := s.gw.GetMember(ctx, memberID)
	if err != nil {
		return err
	}

	update := interfaces.MemberUpdate{
		MemberID:   memberID,
		PrevHash:   latest.LastHash,
		Operations: ops,
	}
	signer, err := s.ring.Signer(interfaces.LevelPrivileged)
	if err != nil {
		return err
	}
	sig, err := codec.Sign(update, memberID, signer)
	if err != nil {
		return err
	}

	snap, err := s.gw.UpdateMember(ctx, update, sig, metadata)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = s.state.WithMerged(snap)
	s.mu.Unlock()

	if s.log != nil {
		s.log.Debug("member update accepted",
			"member_id", memberID,
			"operations", len(ops),
			"last_hash", snap.LastHash)
	}
	return nil
}
