package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ruteri/identity-sdk/codec"
	"github.com/ruteri/identity-sdk/interfaces"
	"github.com/ruteri/identity-sdk/keyring"
	"github.com/ruteri/identity-sdk/member"
	"github.com/ruteri/identity-sdk/recovery"
	"github.com/ruteri/identity-sdk/tokenrequest"
)

// Client is the SDK facade. It is safe for concurrent use; sessions it
// creates carry their own state.
type Client struct {
	gw  interfaces.Gateway
	log *slog.Logger

	verifier *tokenrequest.Verifier
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a structured logger. The client logs nothing by
// default.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates an SDK client on top of a gateway collaborator.
func NewClient(gw interfaces.Gateway, opts ...Option) *Client {
	c := &Client{gw: gw, verifier: tokenrequest.NewVerifier(gw)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateMember provisions a new member: reserves an ID, generates a full key
// set at all three privilege levels into a fresh in-memory ring, designates
// the platform as recovery agent, and optionally attaches an initial alias.
// The whole setup is one signed batch, so a member is never visible
// half-created.
func (c *Client) CreateMember(ctx context.Context, alias *interfaces.Alias) (*member.Session, error) {
	return c.CreateMemberWithStore(ctx, alias, keyring.NewMemoryStore())
}

// CreateMemberWithStore provisions a new member whose keys live in the given
// store, for callers that persist key material across processes.
func (c *Client) CreateMemberWithStore(ctx context.Context, alias *interfaces.Alias, store keyring.KeyStore) (*member.Session, error) {
	if alias != nil {
		if err := alias.Validate(); err != nil {
			return nil, fmt.Errorf("invalid alias: %w", err)
		}
	}

	memberID, err := c.gw.CreateMemberID(ctx, uuid.NewString())
	if err != nil {
		return nil, err
	}

	ring := keyring.NewWithStore(store)
	keys := make([]interfaces.Key, 0, 3)
	for _, level := range []interfaces.Level{interfaces.LevelPrivileged, interfaces.LevelStandard, interfaces.LevelLow} {
		key, err := ring.GenerateKey(level)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	agentID, err := c.gw.DefaultRecoveryAgent(ctx)
	if err != nil {
		return nil, err
	}

	ops := make([]interfaces.MemberOperation, 0, 5)
	for _, key := range keys {
		ops = append(ops, member.AddKeyOperation(key))
	}
	ops = append(ops, member.RecoveryRuleOperation(interfaces.RecoveryRule{PrimaryAgent: agentID}))

	var metadata []interfaces.OperationMetadata
	if alias != nil {
		op, meta := member.AddAliasOperation(alias.Normalized())
		ops = append(ops, op)
		metadata = append(metadata, meta)
	}

	// The initial update chains from nothing; PrevHash stays empty.
	update := interfaces.MemberUpdate{MemberID: memberID, Operations: ops}
	signer, err := ring.Signer(interfaces.LevelPrivileged)
	if err != nil {
		return nil, err
	}
	sig, err := codec.Sign(update, memberID, signer)
	if err != nil {
		return nil, err
	}
	snap, err := c.gw.UpdateMember(ctx, update, sig, metadata)
	if err != nil {
		return nil, err
	}

	if c.log != nil {
		c.log.Info("member created", "member_id", memberID)
	}
	return member.NewSession(snap, ring, c.gw, c.sessionOptions()...), nil
}

// Login opens a session for an existing member using keys already present in
// the ring.
func (c *Client) Login(ctx context.Context, memberID string, ring *keyring.KeyRing) (*member.Session, error) {
	snap, err := c.gw.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return member.NewSession(snap, ring, c.gw, c.sessionOptions()...), nil
}

// DeviceInfo is the outcome of provisioning a new device for an existing
// member: fresh keys generated locally, not yet approved. An existing
// session must approve the keys before Login works on this device.
type DeviceInfo struct {
	MemberID string
	Keys     []interfaces.Key
	Ring     *keyring.KeyRing
}

// ProvisionDevice generates a full key set on this device for the member an
// alias resolves to. The returned keys carry no authority until a session
// holding the member's existing privileged key approves them.
func (c *Client) ProvisionDevice(ctx context.Context, alias interfaces.Alias) (DeviceInfo, error) {
	return c.ProvisionDeviceWithStore(ctx, alias, keyring.NewMemoryStore())
}

// ProvisionDeviceWithStore is ProvisionDevice with the device's keys held in
// the given store.
func (c *Client) ProvisionDeviceWithStore(ctx context.Context, alias interfaces.Alias, store keyring.KeyStore) (DeviceInfo, error) {
	memberID, err := c.gw.ResolveAlias(ctx, alias.Normalized())
	if err != nil {
		return DeviceInfo{}, err
	}

	ring := keyring.NewWithStore(store)
	keys := make([]interfaces.Key, 0, 3)
	for _, level := range []interfaces.Level{interfaces.LevelPrivileged, interfaces.LevelStandard, interfaces.LevelLow} {
		key, err := ring.GenerateKey(level)
		if err != nil {
			return DeviceInfo{}, err
		}
		keys = append(keys, key)
	}
	return DeviceInfo{MemberID: memberID, Keys: keys, Ring: ring}, nil
}

// AliasExists reports whether an alias is registered to any member.
func (c *Client) AliasExists(ctx context.Context, alias interfaces.Alias) (bool, error) {
	_, err := c.gw.ResolveAlias(ctx, alias.Normalized())
	if errors.Is(err, interfaces.ErrMemberNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetMemberID returns the member ID an alias resolves to, or
// ErrMemberNotFound.
func (c *Client) GetMemberID(ctx context.Context, alias interfaces.Alias) (string, error) {
	return c.gw.ResolveAlias(ctx, alias.Normalized())
}

// DefaultRecoveryAgent returns the platform's recovery agent member ID.
func (c *Client) DefaultRecoveryAgent(ctx context.Context) (string, error) {
	return c.gw.DefaultRecoveryAgent(ctx)
}

// BeginRecovery starts account recovery for the member an alias resolves to.
// The returned coordinator drives the rest of the protocol; the verification
// ID identifies the attempt server-side.
func (c *Client) BeginRecovery(ctx context.Context, alias interfaces.Alias) (*recovery.Coordinator, string, error) {
	coord := recovery.NewCoordinator(c.gw, c.recoveryOptions()...)
	verificationID, err := coord.Begin(ctx, alias)
	if err != nil {
		return nil, "", err
	}
	return coord, verificationID, nil
}

// CompleteRecoveryWithDefaultRule runs the verification-code recovery path
// end to end for a member whose recovery rule designates the platform. The
// ring must be fresh; the member's replacement keys are generated into it.
func (c *Client) CompleteRecoveryWithDefaultRule(ctx context.Context, memberID, verificationID, code string, ring *keyring.KeyRing) (*member.Session, error) {
	coord := recovery.NewCoordinator(c.gw, c.recoveryOptions()...)
	return coord.CompleteWithDefaultRule(ctx, memberID, verificationID, code, ring)
}

// CompleteRecovery finishes recovery using agent-signed authorizations. The
// new privileged key must already be in the ring; replacement STANDARD and
// LOW keys are generated during completion.
func (c *Client) CompleteRecovery(ctx context.Context, memberID string, recoveryOps []interfaces.RecoveryOperation, newPrivilegedKey interfaces.Key, ring *keyring.KeyRing) (*member.Session, error) {
	if len(recoveryOps) == 0 {
		return nil, errors.New("at least one recovery operation is required")
	}
	coord := recovery.NewCoordinator(c.gw, c.recoveryOptions()...)
	for _, op := range recoveryOps {
		if err := coord.AcceptAgentAuthorization(op); err != nil {
			return nil, err
		}
	}
	return coord.Complete(ctx, memberID, recoveryOps, newPrivilegedKey, ring)
}

// CreateRecoveryAuthorization builds an unsigned authorization binding a
// replacement privileged key to the member's current hash, for a trusted
// agent to sign with Session.AuthorizeRecovery.
func (c *Client) CreateRecoveryAuthorization(ctx context.Context, memberID string, newPrivilegedKey interfaces.Key) (interfaces.Authorization, error) {
	return recovery.CreateAuthorization(ctx, c.gw, memberID, newPrivilegedKey)
}

// TokenRequestURL builds the hosted-flow redirect URL for a stored token
// request, binding the caller's CSRF token into the state parameter.
func (c *Client) TokenRequestURL(webAppBase, requestID, innerState, csrfToken string) (string, error) {
	return tokenrequest.RequestURL(webAppBase, requestID, innerState, csrfToken)
}

// ParseTokenRequestCallback verifies a hosted-flow callback URL: CSRF
// binding first, then the platform signature over the callback parameters.
func (c *Client) ParseTokenRequestCallback(ctx context.Context, callbackURL, csrfToken string) (tokenrequest.Callback, error) {
	return c.verifier.ParseCallback(ctx, callbackURL, csrfToken)
}

func (c *Client) sessionOptions() []member.SessionOption {
	if c.log == nil {
		return nil
	}
	return []member.SessionOption{member.WithLogger(c.log)}
}

func (c *Client) recoveryOptions() []recovery.Option {
	if c.log == nil {
		return nil
	}
	return []recovery.Option{recovery.WithLogger(c.log)}
}

// Await bounds an operation with a plain timeout for callers that do not
// thread contexts. The zero timeout means no bound beyond ctx itself.
func Await[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
