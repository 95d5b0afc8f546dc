package member_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/identity-sdk/gateway"
	"github.com/ruteri/identity-sdk/gateway/gatewaytest"
	"github.com/ruteri/identity-sdk/interfaces"
	"github.com/ruteri/identity-sdk/keyring"
	"github.com/ruteri/identity-sdk/member"
	"github.com/ruteri/identity-sdk/sdk"
)

func newRingWithPrivilegedKey(t *testing.T) (*keyring.KeyRing, interfaces.Key) {
	t.Helper()
	ring := keyring.New()
	key, err := ring.GenerateKey(interfaces.LevelPrivileged)
	require.NoError(t, err)
	return ring, key
}

func TestAddAliasInheritsPartnerRealm(t *testing.T) {
	ring, key := newRingWithPrivilegedKey(t)
	gw := new(gateway.MockGateway)

	snap := interfaces.MemberSnapshot{
		ID:        "m:1",
		LastHash:  "h1",
		Keys:      []interfaces.Key{key},
		PartnerID: "acme",
	}
	gw.On("GetMember", mock.Anything, "m:1").Return(snap, nil)

	var captured interfaces.MemberUpdate
	var capturedMeta []interfaces.OperationMetadata
	gw.On("UpdateMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(interfaces.MemberUpdate)
			capturedMeta = args.Get(3).([]interfaces.OperationMetadata)
		}).
		Return(interfaces.MemberSnapshot{ID: "m:1", LastHash: "h2", Keys: snap.Keys, PartnerID: "acme"}, nil)

	session := member.NewSession(snap, ring, gw)
	err := session.AddAlias(context.Background(), interfaces.Alias{Type: interfaces.AliasEmail, Value: "User@acme.com"})
	require.NoError(t, err)

	require.Len(t, captured.Operations, 1)
	assert.Equal(t, "h1", captured.PrevHash)
	assert.Equal(t, "acme", captured.Operations[0].AddAlias.Realm)
	assert.Equal(t, key.ID, capturedSignatureKeyID(t, gw), "update is signed by the privileged key")

	require.Len(t, capturedMeta, 1)
	assert.Equal(t, "user@acme.com", capturedMeta[0].AddAlias.Alias.Value)
	assert.Equal(t, "acme", capturedMeta[0].AddAlias.Alias.Realm)

	assert.Equal(t, "h2", session.State().LastHash())
}

func capturedSignatureKeyID(t *testing.T, gw *gateway.MockGateway) string {
	t.Helper()
	for _, call := range gw.Calls {
		if call.Method == "UpdateMember" {
			return call.Arguments.Get(2).(interfaces.Signature).KeyID
		}
	}
	t.Fatal("UpdateMember was not called")
	return ""
}

func TestAddAliasRejectsConflictingRealmWithoutNetworkCalls(t *testing.T) {
	ring, key := newRingWithPrivilegedKey(t)
	gw := new(gateway.MockGateway)

	snap := interfaces.MemberSnapshot{
		ID:        "m:1",
		LastHash:  "h1",
		Keys:      []interfaces.Key{key},
		PartnerID: "acme",
	}
	session := member.NewSession(snap, ring, gw)

	err := session.AddAlias(context.Background(), interfaces.Alias{
		Type:  interfaces.AliasEmail,
		Value: "user@other.com",
		Realm: "other",
	})
	var realmErr *interfaces.InvalidRealmError
	require.ErrorAs(t, err, &realmErr)
	assert.Equal(t, "other", realmErr.AliasRealm)
	assert.Equal(t, "acme", realmErr.PartnerID)

	gw.AssertNotCalled(t, "GetMember", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "UpdateMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAddAliasWithMatchingRealm(t *testing.T) {
	ring, key := newRingWithPrivilegedKey(t)
	gw := new(gateway.MockGateway)

	snap := interfaces.MemberSnapshot{ID: "m:1", LastHash: "h1", Keys: []interfaces.Key{key}, PartnerID: "acme"}
	gw.On("GetMember", mock.Anything, "m:1").Return(snap, nil)
	gw.On("UpdateMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.MemberSnapshot{ID: "m:1", LastHash: "h2"}, nil)

	session := member.NewSession(snap, ring, gw)
	err := session.AddAlias(context.Background(), interfaces.Alias{
		Type:  interfaces.AliasEmail,
		Value: "user@acme.com",
		Realm: "acme",
	})
	require.NoError(t, err)
}

func TestMutationUsesFreshHash(t *testing.T) {
	ring, key := newRingWithPrivilegedKey(t)
	gw := new(gateway.MockGateway)

	// The session was constructed with h1 but the member has moved to h5;
	// the update must chain from the fresh read.
	stale := interfaces.MemberSnapshot{ID: "m:1", LastHash: "h1", Keys: []interfaces.Key{key}}
	fresh := interfaces.MemberSnapshot{ID: "m:1", LastHash: "h5", Keys: []interfaces.Key{key}}
	gw.On("GetMember", mock.Anything, "m:1").Return(fresh, nil)

	var captured interfaces.MemberUpdate
	gw.On("UpdateMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(interfaces.MemberUpdate) }).
		Return(interfaces.MemberSnapshot{ID: "m:1", LastHash: "h6"}, nil)

	session := member.NewSession(stale, ring, gw)
	require.NoError(t, session.RemoveKey(context.Background(), "k-old"))
	assert.Equal(t, "h5", captured.PrevHash)
}

func TestConcurrentModificationSurfacesUnchanged(t *testing.T) {
	ring, key := newRingWithPrivilegedKey(t)
	gw := new(gateway.MockGateway)

	snap := interfaces.MemberSnapshot{ID: "m:1", LastHash: "h1", Keys: []interfaces.Key{key}}
	gw.On("GetMember", mock.Anything, "m:1").Return(snap, nil)
	gw.On("UpdateMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.MemberSnapshot{}, interfaces.ErrConcurrentModification)

	session := member.NewSession(snap, ring, gw)
	err := session.RemoveKey(context.Background(), "k-old")
	require.ErrorIs(t, err, interfaces.ErrConcurrentModification)

	// No retry on the caller's behalf.
	gw.AssertNumberOfCalls(t, "UpdateMember", 1)
	assert.Equal(t, "h1", session.State().LastHash())
}

func TestRemoveNonStoredKeys(t *testing.T) {
	ring, key := newRingWithPrivilegedKey(t)
	gw := new(gateway.MockGateway)

	foreign := interfaces.Key{ID: "k-foreign", Algorithm: "ED25519", Level: interfaces.LevelStandard, PublicKey: "AAAA"}
	snap := interfaces.MemberSnapshot{ID: "m:1", LastHash: "h1", Keys: []interfaces.Key{key, foreign}}
	gw.On("GetMember", mock.Anything, "m:1").Return(snap, nil)

	var captured interfaces.MemberUpdate
	gw.On("UpdateMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(interfaces.MemberUpdate) }).
		Return(interfaces.MemberSnapshot{ID: "m:1", LastHash: "h2", Keys: []interfaces.Key{key}}, nil)

	session := member.NewSession(snap, ring, gw)
	require.NoError(t, session.RemoveNonStoredKeys(context.Background()))

	require.Len(t, captured.Operations, 1)
	assert.Equal(t, "k-foreign", captured.Operations[0].RemoveKey.KeyID)
}

func TestRemoveNonStoredKeysNoopWhenAllStored(t *testing.T) {
	ring, key := newRingWithPrivilegedKey(t)
	gw := new(gateway.MockGateway)

	snap := interfaces.MemberSnapshot{ID: "m:1", LastHash: "h1", Keys: []interfaces.Key{key}}
	gw.On("GetMember", mock.Anything, "m:1").Return(snap, nil)

	session := member.NewSession(snap, ring, gw)
	require.NoError(t, session.RemoveNonStoredKeys(context.Background()))
	gw.AssertNotCalled(t, "UpdateMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDelegatedSessionRefusesIdentityMutation(t *testing.T) {
	ring, key := newRingWithPrivilegedKey(t)
	gw := new(gateway.MockGateway)

	snap := interfaces.MemberSnapshot{ID: "m:1", LastHash: "h1", Keys: []interfaces.Key{key}}
	session := member.NewSession(snap, ring, gw)

	delegated := session.ForAccessToken("tok-1", true)
	require.NotNil(t, delegated.Delegation())
	assert.Equal(t, "tok-1", delegated.Delegation().TokenID)

	err := delegated.RemoveKey(context.Background(), "k-old")
	require.ErrorIs(t, err, member.ErrDelegatedSession)
	gw.AssertNotCalled(t, "UpdateMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Two sessions racing over one member: the loser of the hash race gets a
// conflict and its local state stays at the hash it last observed.
func TestTwoSessionsConflictOnStaleHash(t *testing.T) {
	backend := gatewaytest.NewBackend()
	client := sdk.NewClient(backend)
	ctx := context.Background()

	created, err := client.CreateMember(ctx, nil)
	require.NoError(t, err)

	// Both sessions share the ring (same device) but race their updates.
	s1, err := client.Login(ctx, created.ID(), created.KeyRing())
	require.NoError(t, err)
	s2, err := client.Login(ctx, created.ID(), created.KeyRing())
	require.NoError(t, err)

	// s1 moves the member from h1 to h2.
	require.NoError(t, s1.AddAlias(ctx, interfaces.Alias{Type: interfaces.AliasEmail, Value: "first@example.com"}))

	// s2 re-reads and succeeds; the protocol reads fresh before writing.
	require.NoError(t, s2.AddAlias(ctx, interfaces.Alias{Type: interfaces.AliasEmail, Value: "second@example.com"}))

	// A hand-built update pinned to the stale hash is rejected.
	staleUpdate := interfaces.MemberUpdate{
		MemberID:   created.ID(),
		PrevHash:   "stale",
		Operations: []interfaces.MemberOperation{member.RemoveKeyOperation("k")},
	}
	_, err = backend.UpdateMember(ctx, staleUpdate, interfaces.Signature{}, nil)
	require.ErrorIs(t, err, interfaces.ErrConcurrentModification)
	assert.False(t, errors.Is(err, interfaces.ErrMemberNotFound))
}
