package recovery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/identity-sdk/gateway/gatewaytest"
	"github.com/ruteri/identity-sdk/interfaces"
	"github.com/ruteri/identity-sdk/keyring"
	"github.com/ruteri/identity-sdk/member"
	"github.com/ruteri/identity-sdk/recovery"
	"github.com/ruteri/identity-sdk/sdk"
)

var recoveryAlias = interfaces.Alias{Type: interfaces.AliasEmail, Value: "recover-me@example.com"}

func createMemberWithAlias(t *testing.T, backend *gatewaytest.Backend, alias interfaces.Alias) *member.Session {
	t.Helper()
	session, err := sdk.NewClient(backend).CreateMember(context.Background(), &alias)
	require.NoError(t, err)
	return session
}

func TestCodeRecoveryEndToEnd(t *testing.T) {
	backend := gatewaytest.NewBackend()
	ctx := context.Background()
	lost := createMemberWithAlias(t, backend, recoveryAlias)
	oldKeys := lost.State().Keys()

	// The recovering device has none of the old keys.
	coord := recovery.NewCoordinator(backend)
	assert.Equal(t, recovery.StatusIdle, coord.Status())

	verificationID, err := coord.Begin(ctx, recoveryAlias)
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusStarted, coord.Status())
	assert.Equal(t, verificationID, coord.VerificationID())

	code, err := backend.VerificationCode(verificationID)
	require.NoError(t, err)

	ring := keyring.New()
	recovered, err := coord.CompleteWithDefaultRule(ctx, lost.ID(), verificationID, code, ring)
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusCompleted, coord.Status())
	assert.Equal(t, lost.ID(), recovered.ID())

	// All old keys are gone; exactly the new ring's keys remain.
	newKeys := recovered.State().Keys()
	require.Len(t, newKeys, 3)
	for _, old := range oldKeys {
		for _, fresh := range newKeys {
			assert.NotEqual(t, old.ID, fresh.ID)
		}
	}

	// The recovered session holds a working privileged key.
	require.NoError(t, recovered.AddAlias(ctx, interfaces.Alias{Type: interfaces.AliasEmail, Value: "back@example.com"}))

	// The alias survives recovery.
	id, err := backend.ResolveAlias(ctx, recoveryAlias)
	require.NoError(t, err)
	assert.Equal(t, lost.ID(), id)
}

func TestWrongCodeFailsRecovery(t *testing.T) {
	backend := gatewaytest.NewBackend()
	ctx := context.Background()
	lost := createMemberWithAlias(t, backend, recoveryAlias)

	coord := recovery.NewCoordinator(backend)
	verificationID, err := coord.Begin(ctx, recoveryAlias)
	require.NoError(t, err)

	ring := keyring.New()
	_, err = coord.CompleteWithDefaultRule(ctx, lost.ID(), verificationID, "000000", ring)
	var verificationErr *interfaces.VerificationError
	require.ErrorAs(t, err, &verificationErr)
	assert.Equal(t, interfaces.VerificationInvalidCode, verificationErr.Status)
	assert.Equal(t, recovery.StatusFailed, coord.Status())

	// A failed coordinator cannot be resumed.
	_, err = coord.Begin(ctx, recoveryAlias)
	require.ErrorIs(t, err, recovery.ErrInvalidTransition)
}

func TestRecoveryAuthorizationBindsToHash(t *testing.T) {
	backend := gatewaytest.NewBackend()
	ctx := context.Background()
	lost := createMemberWithAlias(t, backend, recoveryAlias)

	coord := recovery.NewCoordinator(backend)
	verificationID, err := coord.Begin(ctx, recoveryAlias)
	require.NoError(t, err)
	code, err := backend.VerificationCode(verificationID)
	require.NoError(t, err)

	ring := keyring.New()
	newKey, err := ring.GenerateKey(interfaces.LevelPrivileged)
	require.NoError(t, err)

	// The platform signs an authorization pinned to the current hash.
	op, err := coord.VerifyCode(ctx, code, newKey)
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusVerified, coord.Status())

	// The member moves on before completion; the old session still works.
	require.NoError(t, lost.AddAlias(ctx, interfaces.Alias{Type: interfaces.AliasEmail, Value: "moved-on@example.com"}))

	_, err = coord.Complete(ctx, lost.ID(), []interfaces.RecoveryOperation{op}, newKey, ring)
	require.ErrorIs(t, err, interfaces.ErrConcurrentModification)
	assert.Equal(t, recovery.StatusFailed, coord.Status())
}

func TestAgentRecovery(t *testing.T) {
	backend := gatewaytest.NewBackend()
	ctx := context.Background()
	client := sdk.NewClient(backend)

	agent, err := client.CreateMember(ctx, nil)
	require.NoError(t, err)

	lost := createMemberWithAlias(t, backend, recoveryAlias)
	require.NoError(t, lost.SetRecoveryRule(ctx, interfaces.RecoveryRule{PrimaryAgent: agent.ID()}))

	// The recovering device generates a replacement privileged key and asks
	// the agent to vouch for it.
	ring := keyring.New()
	newKey, err := ring.GenerateKey(interfaces.LevelPrivileged)
	require.NoError(t, err)

	auth, err := recovery.CreateAuthorization(ctx, backend, lost.ID(), newKey)
	require.NoError(t, err)
	agentSig, err := agent.AuthorizeRecovery(auth)
	require.NoError(t, err)
	op := interfaces.RecoveryOperation{Authorization: auth, AgentSignature: agentSig}

	coord := recovery.NewCoordinator(backend)
	require.NoError(t, coord.AcceptAgentAuthorization(op))
	assert.Equal(t, recovery.StatusAuthorized, coord.Status())

	recovered, err := coord.Complete(ctx, lost.ID(), []interfaces.RecoveryOperation{op}, newKey, ring)
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusCompleted, coord.Status())
	require.Len(t, recovered.State().Keys(), 3)
}

func TestAgentAuthorizationFromUntrustedAgentRejected(t *testing.T) {
	backend := gatewaytest.NewBackend()
	ctx := context.Background()
	client := sdk.NewClient(backend)

	intruder, err := client.CreateMember(ctx, nil)
	require.NoError(t, err)

	// The lost member's rule designates the platform, not the intruder.
	lost := createMemberWithAlias(t, backend, recoveryAlias)

	ring := keyring.New()
	newKey, err := ring.GenerateKey(interfaces.LevelPrivileged)
	require.NoError(t, err)

	auth, err := recovery.CreateAuthorization(ctx, backend, lost.ID(), newKey)
	require.NoError(t, err)
	intruderSig, err := intruder.AuthorizeRecovery(auth)
	require.NoError(t, err)
	op := interfaces.RecoveryOperation{Authorization: auth, AgentSignature: intruderSig}

	coord := recovery.NewCoordinator(backend)
	require.NoError(t, coord.AcceptAgentAuthorization(op))
	_, err = coord.Complete(ctx, lost.ID(), []interfaces.RecoveryOperation{op}, newKey, ring)
	require.ErrorIs(t, err, gatewaytest.ErrUnauthorizedUpdate)
}

func TestStepsOutOfOrder(t *testing.T) {
	backend := gatewaytest.NewBackend()
	ctx := context.Background()

	coord := recovery.NewCoordinator(backend)
	_, err := coord.VerifyCode(ctx, "123456", interfaces.Key{})
	require.ErrorIs(t, err, recovery.ErrInvalidTransition)

	_, err = coord.Complete(ctx, "m:1", nil, interfaces.Key{}, keyring.New())
	require.ErrorIs(t, err, recovery.ErrInvalidTransition)

	err = coord.AcceptAgentAuthorization(interfaces.RecoveryOperation{})
	require.Error(t, err, "an operation without an agent signature is rejected")
}
