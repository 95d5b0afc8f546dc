package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelOrdering(t *testing.T) {
	assert.True(t, LevelPrivileged.Meets(LevelLow))
	assert.True(t, LevelPrivileged.Meets(LevelStandard))
	assert.True(t, LevelPrivileged.Meets(LevelPrivileged))
	assert.True(t, LevelStandard.Meets(LevelLow))
	assert.False(t, LevelStandard.Meets(LevelPrivileged))
	assert.False(t, LevelLow.Meets(LevelStandard))

	assert.True(t, LevelLow.Valid())
	assert.False(t, Level("ROOT").Valid())
}

func TestAliasNormalization(t *testing.T) {
	email := Alias{Type: AliasEmail, Value: "  Alice@Example.COM "}
	assert.Equal(t, "alice@example.com", email.Normalized().Value)

	domain := Alias{Type: AliasDomain, Value: "Example.ORG"}
	assert.Equal(t, "example.org", domain.Normalized().Value)

	// Phone values keep their case; only whitespace is trimmed.
	phone := Alias{Type: AliasPhone, Value: " +1-555-0100 "}
	assert.Equal(t, "+1-555-0100", phone.Normalized().Value)
}

func TestAliasValidate(t *testing.T) {
	require.NoError(t, Alias{Type: AliasEmail, Value: "a@b.c"}.Validate())
	require.Error(t, Alias{Type: "USERNAME", Value: "alice"}.Validate())
	require.Error(t, Alias{Type: AliasEmail, Value: "   "}.Validate())
}

func TestAliasHash(t *testing.T) {
	a := Alias{Type: AliasEmail, Value: "Alice@Example.com"}
	b := Alias{Type: AliasEmail, Value: "alice@example.com"}
	assert.Equal(t, a.Hash(), b.Hash(), "hash is computed over the normalized alias")

	c := Alias{Type: AliasEmail, Value: "alice@example.com", Realm: "acme"}
	assert.NotEqual(t, a.Hash(), c.Hash(), "realm scopes the alias identity")
	assert.Len(t, a.Hash(), 64)
}
