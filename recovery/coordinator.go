package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/identity-sdk/codec"
	"github.com/ruteri/identity-sdk/interfaces"
	"github.com/ruteri/identity-sdk/keyring"
	"github.com/ruteri/identity-sdk/member"
)

// Status is the coordinator's position in the recovery state machine.
type Status int

const (
	StatusIdle Status = iota
	StatusStarted
	StatusVerified
	StatusAuthorized
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStarted:
		return "started"
	case StatusVerified:
		return "verified"
	case StatusAuthorized:
		return "authorized"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrInvalidTransition is returned when a step is called out of order.
var ErrInvalidTransition = errors.New("recovery step not allowed in current status")

// Coordinator drives one in-flight recovery. It is ephemeral: construct one
// per attempt and discard it on completion or failure. A failed coordinator
// cannot be resumed; restart from Begin.
type Coordinator struct {
	gw  interfaces.Gateway
	log *slog.Logger

	mu             sync.Mutex
	status         Status
	verificationID string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger attaches a structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// NewCoordinator creates an idle coordinator. Recovery runs before any
// authenticated session exists, so only the gateway is needed.
func NewCoordinator(gw interfaces.Gateway, opts ...Option) *Coordinator {
	c := &Coordinator{gw: gw, status: StatusIdle}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the coordinator's current position.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// VerificationID identifies this recovery attempt server-side, empty before
// Begin.
func (c *Coordinator) VerificationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verificationID
}

// Begin starts recovery for the member an alias resolves to. The server
// associates an out-of-band code with the returned verification ID.
func (c *Coordinator) Begin(ctx context.Context, alias interfaces.Alias) (string, error) {
	c.mu.Lock()
	if c.status != StatusIdle {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: begin from %s", ErrInvalidTransition, c.status)
	}
	c.mu.Unlock()

	verificationID, err := c.gw.BeginRecovery(ctx, alias.Normalized())
	if err != nil {
		c.fail()
		return "", err
	}

	c.mu.Lock()
	c.status = StatusStarted
	c.verificationID = verificationID
	c.mu.Unlock()

	if c.log != nil {
		c.log.Info("recovery started", "verification_id", verificationID)
	}
	return verificationID, nil
}

// CreateAuthorization builds an unsigned authorization binding a replacement
// privileged key to the member's current hash, for a trusted agent to sign.
// Usable independently of any in-flight coordinator state; the agent, not
// the recoverer, typically calls it.
func CreateAuthorization(ctx context.Context, gw interfaces.Gateway, memberID string, newPrivilegedKey interfaces.Key) (interfaces.Authorization, error) {
	snap, err := gw.GetMember(ctx, memberID)
	if err != nil {
		return interfaces.Authorization{}, err
	}
	return interfaces.Authorization{
		MemberID:  memberID,
		MemberKey: newPrivilegedKey,
		PrevHash:  snap.LastHash,
	}, nil
}

// VerifyCode submits the out-of-band code. On success the platform returns
// a recovery operation it has signed itself, binding newPrivilegedKey to the
// member; no external agent signature is needed. A rejected code fails with
// VerificationError and the coordinator becomes Failed.
func (c *Coordinator) VerifyCode(ctx context.Context, code string, newPrivilegedKey interfaces.Key) (interfaces.RecoveryOperation, error) {
	c.mu.Lock()
	if c.status != StatusStarted {
		c.mu.Unlock()
		return interfaces.RecoveryOperation{}, fmt.Errorf("%w: verify from %s", ErrInvalidTransition, c.status)
	}
	verificationID := c.verificationID
	c.mu.Unlock()

	op, err := c.gw.CompleteRecovery(ctx, verificationID, code, newPrivilegedKey)
	if err != nil {
		c.fail()
		return interfaces.RecoveryOperation{}, err
	}

	c.mu.Lock()
	c.status = StatusVerified
	c.mu.Unlock()
	return op, nil
}

// AcceptAgentAuthorization records a trusted agent's signed authorization as
// the recovery proof. No verification code is needed on this path; trust
// derives from the agent's signature instead of the out-of-band channel.
func (c *Coordinator) AcceptAgentAuthorization(op interfaces.RecoveryOperation) error {
	if op.AgentSignature.Signature == "" {
		return fmt.Errorf("recovery operation carries no agent signature")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusIdle && c.status != StatusStarted && c.status != StatusAuthorized {
		return fmt.Errorf("%w: authorize from %s", ErrInvalidTransition, c.status)
	}
	c.status = StatusAuthorized
	return nil
}

// Complete replaces the member's keys. It generates fresh STANDARD and LOW
// keys in the new ring (the PRIVILEGED key must already be there), builds an
// update carrying the recovery proofs plus the three key additions, signs it
// with the new privileged key, and submits it against the member's current
// hash.
//
// A concurrent-modification failure here is terminal: the recovery operation
// is single-use server-side, so the whole protocol restarts from Begin.
func (c *Coordinator) Complete(
	ctx context.Context,
	memberID string,
	recoveryOps []interfaces.RecoveryOperation,
	newPrivilegedKey interfaces.Key,
	ring *keyring.KeyRing,
) (*member.Session, error) {
	c.mu.Lock()
	if c.status != StatusVerified && c.status != StatusAuthorized {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, c.status)
	}
	c.mu.Unlock()

	session, err := complete(ctx, c.gw, c.log, memberID, recoveryOps, newPrivilegedKey, ring)
	if err != nil {
		c.fail()
		return nil, err
	}

	c.mu.Lock()
	c.status = StatusCompleted
	c.mu.Unlock()
	return session, nil
}

// CompleteWithDefaultRule runs the verification-code path end to end for
// members whose recovery rule designates the platform itself: verify the
// code, then complete with the platform-signed recovery operation. The ring
// must be fresh; all three key levels are generated into it.
func (c *Coordinator) CompleteWithDefaultRule(
	ctx context.Context,
	memberID, verificationID, code string,
	ring *keyring.KeyRing,
) (*member.Session, error) {
	c.mu.Lock()
	switch c.status {
	case StatusIdle, StatusStarted:
	default:
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: complete with default rule from %s", ErrInvalidTransition, c.status)
	}
	c.status = StatusStarted
	c.verificationID = verificationID
	c.mu.Unlock()

	privilegedKey, err := ring.GenerateKey(interfaces.LevelPrivileged)
	if err != nil {
		c.fail()
		return nil, err
	}

	op, err := c.VerifyCode(ctx, code, privilegedKey)
	if err != nil {
		return nil, err
	}
	return c.Complete(ctx, memberID, []interfaces.RecoveryOperation{op}, privilegedKey, ring)
}

func (c *Coordinator) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusCompleted {
		c.status = StatusFailed
	}
}

func complete(
	ctx context.Context,
	gw interfaces.Gateway,
	log *slog.Logger,
	memberID string,
	recoveryOps []interfaces.RecoveryOperation,
	newPrivilegedKey interfaces.Key,
	ring *keyring.KeyRing,
) (*member.Session, error) {
	// The old keys are lost by definition; everything below is signed with
	// the replacement privileged key.
	if _, err := ring.GenerateKey(interfaces.LevelStandard); err != nil {
		return nil, err
	}
	if _, err := ring.GenerateKey(interfaces.LevelLow); err != nil {
		return nil, err
	}
	signer, err := ring.Signer(interfaces.LevelPrivileged)
	if err != nil {
		return nil, err
	}
	if signer.KeyID() != newPrivilegedKey.ID {
		return nil, fmt.Errorf("ring's privileged key %s does not match recovery key %s", signer.KeyID(), newPrivilegedKey.ID)
	}

	snap, err := gw.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	ops := make([]interfaces.MemberOperation, 0, len(recoveryOps)+3)
	for _, op := range recoveryOps {
		ops = append(ops, member.RecoverOperation(op))
	}
	newKeys, err := ring.PublicKeys()
	if err != nil {
		return nil, err
	}
	for _, key := range newKeys {
		ops = append(ops, member.AddKeyOperation(key))
	}

	update := interfaces.MemberUpdate{
		MemberID:   memberID,
		PrevHash:   snap.LastHash,
		Operations: ops,
	}
	sig, err := codec.Sign(update, memberID, signer)
	if err != nil {
		return nil, err
	}

	recovered, err := gw.UpdateMember(ctx, update, sig, nil)
	if err != nil {
		return nil, err
	}

	if log != nil {
		log.Info("recovery completed", "member_id", memberID, "last_hash", recovered.LastHash)
	}

	var opts []member.SessionOption
	if log != nil {
		opts = append(opts, member.WithLogger(log))
	}
	return member.NewSession(recovered, ring, gw, opts...), nil
}
