package gatewaytest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/identity-sdk/codec"
	"github.com/ruteri/identity-sdk/gateway/gatewaytest"
	"github.com/ruteri/identity-sdk/interfaces"
	"github.com/ruteri/identity-sdk/member"
	"github.com/ruteri/identity-sdk/sdk"
)

func TestUpdateRequiresPrivilegedKey(t *testing.T) {
	backend := gatewaytest.NewBackend()
	ctx := context.Background()

	session, err := sdk.NewClient(backend).CreateMember(ctx, nil)
	require.NoError(t, err)

	// Sign a mutation with the STANDARD key; the backend must refuse it.
	signer, err := session.KeyRing().Signer(interfaces.LevelStandard)
	require.NoError(t, err)

	snap, err := backend.GetMember(ctx, session.ID())
	require.NoError(t, err)
	update := interfaces.MemberUpdate{
		MemberID:   session.ID(),
		PrevHash:   snap.LastHash,
		Operations: []interfaces.MemberOperation{member.RemoveKeyOperation("k")},
	}
	sig, err := codec.Sign(update, session.ID(), signer)
	require.NoError(t, err)

	_, err = backend.UpdateMember(ctx, update, sig, nil)
	require.ErrorIs(t, err, gatewaytest.ErrUnauthorizedUpdate)
}

func TestAliasUniqueAcrossMembers(t *testing.T) {
	backend := gatewaytest.NewBackend()
	client := sdk.NewClient(backend)
	ctx := context.Background()

	alias := interfaces.Alias{Type: interfaces.AliasEmail, Value: "taken@example.com"}
	_, err := client.CreateMember(ctx, &alias)
	require.NoError(t, err)

	other, err := client.CreateMember(ctx, nil)
	require.NoError(t, err)
	err = other.AddAlias(ctx, alias)
	require.Error(t, err)
}

func TestServerSideRealmEnforcement(t *testing.T) {
	backend := gatewaytest.NewBackend()
	client := sdk.NewClient(backend)
	ctx := context.Background()

	created, err := client.CreateMember(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, backend.SetPartnerID(created.ID(), "acme"))

	// A fresh login sees the affiliation; an unqualified alias inherits it.
	session, err := client.Login(ctx, created.ID(), created.KeyRing())
	require.NoError(t, err)
	assert.Equal(t, "acme", session.State().PartnerID())
	require.NoError(t, session.AddAlias(ctx, interfaces.Alias{Type: interfaces.AliasEmail, Value: "user@acme.com"}))

	aliases := session.State().Aliases()
	require.Len(t, aliases, 1)
	assert.Equal(t, "acme", aliases[0].Realm)

	// A hand-built update that smuggles a wrong-realm alias past the client
	// checks is rejected by the backend itself.
	snap, err := backend.GetMember(ctx, created.ID())
	require.NoError(t, err)
	rogue := interfaces.Alias{Type: interfaces.AliasEmail, Value: "user@other.com", Realm: "other"}
	op, meta := member.AddAliasOperation(rogue)
	update := interfaces.MemberUpdate{
		MemberID:   created.ID(),
		PrevHash:   snap.LastHash,
		Operations: []interfaces.MemberOperation{op},
	}
	signer, err := session.KeyRing().Signer(interfaces.LevelPrivileged)
	require.NoError(t, err)
	sig, err := codec.Sign(update, created.ID(), signer)
	require.NoError(t, err)

	_, err = backend.UpdateMember(ctx, update, sig, []interfaces.OperationMetadata{meta})
	require.ErrorIs(t, err, gatewaytest.ErrUnauthorizedUpdate)
}

func TestRejectedBatchLeavesNoTrace(t *testing.T) {
	backend := gatewaytest.NewBackend()
	client := sdk.NewClient(backend)
	ctx := context.Background()

	session, err := client.CreateMember(ctx, nil)
	require.NoError(t, err)

	// Batch: a valid alias plus an operation with no intent. The whole
	// batch must be rejected and the valid alias must not stick.
	good := interfaces.Alias{Type: interfaces.AliasEmail, Value: "good@example.com"}
	op, meta := member.AddAliasOperation(good)

	snap, err := backend.GetMember(ctx, session.ID())
	require.NoError(t, err)
	update := interfaces.MemberUpdate{
		MemberID:   session.ID(),
		PrevHash:   snap.LastHash,
		Operations: []interfaces.MemberOperation{op, {}},
	}
	signer, err := session.KeyRing().Signer(interfaces.LevelPrivileged)
	require.NoError(t, err)
	sig, err := codec.Sign(update, session.ID(), signer)
	require.NoError(t, err)

	_, err = backend.UpdateMember(ctx, update, sig, []interfaces.OperationMetadata{meta})
	require.Error(t, err)

	_, err = backend.ResolveAlias(ctx, good)
	require.ErrorIs(t, err, interfaces.ErrMemberNotFound)

	after, err := backend.GetMember(ctx, session.ID())
	require.NoError(t, err)
	assert.Equal(t, snap.LastHash, after.LastHash, "a rejected batch does not advance the hash")
}
