package member

import (
	"github.com/ruteri/identity-sdk/interfaces"
)

// DefaultRealm is the unaffiliated realm. Members whose PartnerID equals
// DefaultRealm (or is empty) carry no realm restriction on their aliases.
const DefaultRealm = "default"

// NormalizeAliasRealm validates an alias against a member's partner
// affiliation and fills in the realm where the caller left it unset. Pure
// function, no I/O; a realm conflict fails with InvalidRealmError before any
// network call can happen.
func NormalizeAliasRealm(alias interfaces.Alias, partnerID string) (interfaces.Alias, error) {
	if partnerID == "" || partnerID == DefaultRealm {
		return alias.Normalized(), nil
	}
	if alias.Realm != "" && alias.Realm != partnerID {
		return interfaces.Alias{}, &interfaces.InvalidRealmError{AliasRealm: alias.Realm, PartnerID: partnerID}
	}
	alias.Realm = partnerID
	return alias.Normalized(), nil
}

// AddAliasOperation builds the intent operation and plaintext metadata for
// attaching a normalized alias.
func AddAliasOperation(alias interfaces.Alias) (interfaces.MemberOperation, interfaces.OperationMetadata) {
	op := interfaces.MemberOperation{
		AddAlias: &interfaces.AddAliasOperation{
			AliasHash: alias.Hash(),
			Realm:     alias.Realm,
		},
	}
	meta := interfaces.OperationMetadata{
		AddAlias: &interfaces.AddAliasMetadata{Alias: alias},
	}
	return op, meta
}

// RemoveAliasOperation builds the intent operation detaching an alias by
// hash.
func RemoveAliasOperation(alias interfaces.Alias) interfaces.MemberOperation {
	return interfaces.MemberOperation{
		RemoveAlias: &interfaces.RemoveAliasOperation{AliasHash: alias.Hash()},
	}
}

// AddKeyOperation builds the intent operation approving a public key.
func AddKeyOperation(key interfaces.Key) interfaces.MemberOperation {
	return interfaces.MemberOperation{
		AddKey: &interfaces.AddKeyOperation{Key: key},
	}
}

// RemoveKeyOperation builds the intent operation removing a key by ID.
func RemoveKeyOperation(keyID string) interfaces.MemberOperation {
	return interfaces.MemberOperation{
		RemoveKey: &interfaces.RemoveKeyOperation{KeyID: keyID},
	}
}

// RecoveryRuleOperation builds the intent operation replacing the recovery
// rule.
func RecoveryRuleOperation(rule interfaces.RecoveryRule) interfaces.MemberOperation {
	return interfaces.MemberOperation{
		RecoveryRules: &interfaces.RecoveryRulesOperation{RecoveryRule: rule},
	}
}

// RecoverOperation wraps a signed recovery proof as an update operation.
func RecoverOperation(op interfaces.RecoveryOperation) interfaces.MemberOperation {
	return interfaces.MemberOperation{Recover: &op}
}
