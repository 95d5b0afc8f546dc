package interfaces

import "context"

// Gateway is the authoritative RPC collaborator. Implementations own
// transport concerns (retries, TLS, timeouts) and surface transport
// failures as RPCUnavailableError; protocol-level rejections map to the
// typed errors in this package.
type Gateway interface {
	// CreateMemberID reserves a fresh member ID server-side. The nonce
	// deduplicates retried reservations.
	CreateMemberID(ctx context.Context, nonce string) (string, error)

	// GetMember fetches the authoritative snapshot, including the current
	// LastHash. This is the read side of the compare-and-swap protocol.
	GetMember(ctx context.Context, memberID string) (MemberSnapshot, error)

	// UpdateMember submits a signed operation batch. Returns the new
	// authoritative snapshot on success, ErrConcurrentModification if
	// update.PrevHash is stale.
	UpdateMember(ctx context.Context, update MemberUpdate, sig Signature, metadata []OperationMetadata) (MemberSnapshot, error)

	// ResolveAlias returns the member ID an alias resolves to, or
	// ErrMemberNotFound.
	ResolveAlias(ctx context.Context, alias Alias) (string, error)

	// BeginRecovery starts a recovery attempt for the member an alias
	// resolves to and returns the verification ID identifying it. The
	// out-of-band code is delivered via a channel the platform already
	// trusts.
	BeginRecovery(ctx context.Context, alias Alias) (string, error)

	// CompleteRecovery submits the out-of-band code. On success the
	// platform returns a recovery operation it has signed itself, binding
	// privilegedKey to the member's current hash. A rejected code yields
	// VerificationError.
	CompleteRecovery(ctx context.Context, verificationID, code string, privilegedKey Key) (RecoveryOperation, error)

	// DefaultRecoveryAgent returns the member ID of the platform's own
	// recovery agent.
	DefaultRecoveryAgent(ctx context.Context) (string, error)

	// LookupPublicKey returns the identified key of a member. Used to
	// verify platform signatures on hosted-flow callbacks.
	LookupPublicKey(ctx context.Context, memberID, keyID string) (Key, error)
}
