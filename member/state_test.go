package member

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/identity-sdk/interfaces"
)

func snapshotFixture() interfaces.MemberSnapshot {
	return interfaces.MemberSnapshot{
		ID:       "m:1",
		LastHash: "h1",
		Aliases:  []interfaces.Alias{{Type: interfaces.AliasEmail, Value: "a@b.c"}},
		Keys:     []interfaces.Key{{ID: "k1", Algorithm: "ED25519", Level: interfaces.LevelPrivileged}},
		RecoveryRule: &interfaces.RecoveryRule{
			PrimaryAgent:    "m:agent",
			SecondaryAgents: []string{"m:backup"},
		},
		PartnerID: "acme",
	}
}

func TestStateRoundTrip(t *testing.T) {
	snap := snapshotFixture()
	state := NewState(snap)

	assert.Equal(t, "m:1", state.ID())
	assert.Equal(t, "h1", state.LastHash())
	assert.Equal(t, "acme", state.PartnerID())
	assert.Equal(t, snap, state.Snapshot())
}

func TestStateIsDetachedFromSnapshot(t *testing.T) {
	snap := snapshotFixture()
	state := NewState(snap)

	snap.Keys[0].ID = "mutated"
	snap.RecoveryRule.PrimaryAgent = "mutated"
	assert.Equal(t, "k1", state.Keys()[0].ID)
	assert.Equal(t, "m:agent", state.RecoveryRule().PrimaryAgent)

	// Accessors hand out copies too.
	state.Keys()[0].ID = "mutated again"
	assert.Equal(t, "k1", state.Keys()[0].ID)
}

func TestWithMergedReplacesEverything(t *testing.T) {
	state := NewState(snapshotFixture())
	merged := state.WithMerged(interfaces.MemberSnapshot{ID: "m:1", LastHash: "h2"})

	assert.Equal(t, "h2", merged.LastHash())
	assert.Empty(t, merged.Aliases())
	assert.Empty(t, merged.Keys())
	assert.Nil(t, merged.RecoveryRule())

	// The original state is untouched.
	assert.Equal(t, "h1", state.LastHash())
	require.Len(t, state.Keys(), 1)
}

func TestStateEqual(t *testing.T) {
	a := NewState(snapshotFixture())
	b := NewState(snapshotFixture())
	assert.True(t, a.Equal(b))

	c := b.WithMerged(func() interfaces.MemberSnapshot {
		snap := snapshotFixture()
		snap.LastHash = "h2"
		return snap
	}())
	assert.False(t, a.Equal(c))

	d := b.WithMerged(func() interfaces.MemberSnapshot {
		snap := snapshotFixture()
		snap.RecoveryRule.SecondaryAgents = nil
		return snap
	}())
	assert.False(t, a.Equal(d))
}

func TestNormalizeAliasRealm(t *testing.T) {
	alias := interfaces.Alias{Type: interfaces.AliasEmail, Value: "A@B.C"}

	unaffiliated, err := NormalizeAliasRealm(alias, "")
	require.NoError(t, err)
	assert.Empty(t, unaffiliated.Realm)

	defaultRealm, err := NormalizeAliasRealm(alias, DefaultRealm)
	require.NoError(t, err)
	assert.Empty(t, defaultRealm.Realm)

	inherited, err := NormalizeAliasRealm(alias, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", inherited.Realm)
	assert.Equal(t, "a@b.c", inherited.Value)

	alias.Realm = "acme"
	matching, err := NormalizeAliasRealm(alias, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", matching.Realm)

	alias.Realm = "other"
	_, err = NormalizeAliasRealm(alias, "acme")
	var realmErr *interfaces.InvalidRealmError
	require.ErrorAs(t, err, &realmErr)
	assert.Equal(t, "other", realmErr.AliasRealm)
	assert.Equal(t, "acme", realmErr.PartnerID)
}
