package member

import (
	"github.com/ruteri/identity-sdk/interfaces"
)

// State is an immutable snapshot of a member: aliases, keys, recovery rule,
// partner affiliation, and the hash-chain pointer. It is owned exclusively
// by its Session; everything handed out is a copy.
type State struct {
	id           string
	lastHash     string
	aliases      []interfaces.Alias
	keys         []interfaces.Key
	recoveryRule *interfaces.RecoveryRule
	partnerID    string
}

// NewState builds a State from an authoritative snapshot.
func NewState(snap interfaces.MemberSnapshot) State {
	return State{}.WithMerged(snap)
}

// WithMerged returns a new State with every field replaced from the
// authoritative snapshot. Merges are all-or-nothing and always advance
// LastHash; there are no partial merges.
func (s State) WithMerged(snap interfaces.MemberSnapshot) State {
	out := State{
		id:        snap.ID,
		lastHash:  snap.LastHash,
		partnerID: snap.PartnerID,
		aliases:   append([]interfaces.Alias(nil), snap.Aliases...),
		keys:      append([]interfaces.Key(nil), snap.Keys...),
	}
	if snap.RecoveryRule != nil {
		rule := *snap.RecoveryRule
		rule.SecondaryAgents = append([]string(nil), snap.RecoveryRule.SecondaryAgents...)
		out.recoveryRule = &rule
	}
	return out
}

// ID returns the immutable member ID.
func (s State) ID() string { return s.id }

// LastHash returns the most recently observed server version token.
func (s State) LastHash() string { return s.lastHash }

// PartnerID returns the member's affiliation realm, empty if unaffiliated.
func (s State) PartnerID() string { return s.partnerID }

// Aliases returns a copy of the member's aliases.
func (s State) Aliases() []interfaces.Alias {
	return append([]interfaces.Alias(nil), s.aliases...)
}

// Keys returns a copy of the member's approved public keys.
func (s State) Keys() []interfaces.Key {
	return append([]interfaces.Key(nil), s.keys...)
}

// RecoveryRule returns a copy of the member's recovery rule, nil if none is
// set.
func (s State) RecoveryRule() *interfaces.RecoveryRule {
	if s.recoveryRule == nil {
		return nil
	}
	rule := *s.recoveryRule
	rule.SecondaryAgents = append([]string(nil), s.recoveryRule.SecondaryAgents...)
	return &rule
}

// Snapshot converts the state back to the wire representation.
func (s State) Snapshot() interfaces.MemberSnapshot {
	return interfaces.MemberSnapshot{
		ID:           s.id,
		LastHash:     s.lastHash,
		Aliases:      s.Aliases(),
		Keys:         s.Keys(),
		RecoveryRule: s.RecoveryRule(),
		PartnerID:    s.partnerID,
	}
}

// Equal compares two states field by field.
func (s State) Equal(other State) bool {
	if s.id != other.id || s.lastHash != other.lastHash || s.partnerID != other.partnerID {
		return false
	}
	if len(s.aliases) != len(other.aliases) || len(s.keys) != len(other.keys) {
		return false
	}
	for i := range s.aliases {
		if s.aliases[i] != other.aliases[i] {
			return false
		}
	}
	for i := range s.keys {
		if s.keys[i] != other.keys[i] {
			return false
		}
	}
	switch {
	case s.recoveryRule == nil && other.recoveryRule == nil:
		return true
	case s.recoveryRule == nil || other.recoveryRule == nil:
		return false
	}
	if s.recoveryRule.PrimaryAgent != other.recoveryRule.PrimaryAgent {
		return false
	}
	if len(s.recoveryRule.SecondaryAgents) != len(other.recoveryRule.SecondaryAgents) {
		return false
	}
	for i := range s.recoveryRule.SecondaryAgents {
		if s.recoveryRule.SecondaryAgents[i] != other.recoveryRule.SecondaryAgents[i] {
			return false
		}
	}
	return true
}
