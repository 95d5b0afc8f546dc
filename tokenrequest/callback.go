package tokenrequest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/ruteri/identity-sdk/codec"
	"github.com/ruteri/identity-sdk/interfaces"
)

// State is the value round-tripped through the hosted flow: the hash of the
// caller's CSRF token plus whatever opaque state the caller wants back.
type State struct {
	CSRFTokenHash string `json:"csrfTokenHash"`
	InnerState    string `json:"innerState"`
}

// Serialize encodes the state as base64url JSON for embedding in a URL.
func (s State) Serialize() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ParseState decodes a serialized state parameter.
func ParseState(serialized string) (State, error) {
	raw, err := base64.RawURLEncoding.DecodeString(serialized)
	if err != nil {
		return State{}, fmt.Errorf("state is not valid base64url: %w", err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("could not parse state: %w", err)
	}
	return s, nil
}

// HashString returns the hex SHA3-256 digest of s. The empty string is a
// valid input and hashes like any other; callers opting out of CSRF binding
// must pass the same empty token on both ends.
func HashString(s string) string {
	sum := sha3.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// RequestURL builds the hosted-flow redirect URL for a stored token
// request, embedding {hash(csrfToken), innerState} as the state parameter.
func RequestURL(webAppBase, requestID, innerState, csrfToken string) (string, error) {
	serialized, err := State{
		CSRFTokenHash: HashString(csrfToken),
		InnerState:    innerState,
	}.Serialize()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/request-token/%s?state=%s", webAppBase, url.PathEscape(requestID), url.QueryEscape(serialized)), nil
}

// statePayload is the canonical payload the platform signs over.
type statePayload struct {
	TokenID string `json:"tokenId"`
	State   string `json:"state"`
}

// Callback is the verified outcome of a hosted-flow redirect.
type Callback struct {
	TokenID    string
	InnerState string
}

// Verifier parses and verifies hosted-flow callback URLs. The platform's
// signing keys are fetched through the gateway once per key ID and cached;
// platform keys are long-lived.
type Verifier struct {
	gw interfaces.Gateway

	mu           sync.Mutex
	platformID   string
	platformKeys map[string]interfaces.Key
}

// NewVerifier creates a callback verifier backed by the gateway.
func NewVerifier(gw interfaces.Gateway) *Verifier {
	return &Verifier{gw: gw, platformKeys: make(map[string]interfaces.Key)}
}

// ParseCallback extracts and verifies the callback parameters. It checks
// that the state's embedded CSRF hash equals hash(csrfToken), then verifies
// the platform signature over {tokenId, state}. Returns ErrInvalidState on
// CSRF mismatch and ErrInvalidSignature on signature mismatch; both are
// fatal to the callback.
func (v *Verifier) ParseCallback(ctx context.Context, callbackURL, csrfToken string) (Callback, error) {
	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return Callback{}, fmt.Errorf("could not parse callback url: %w", err)
	}
	params, err := parseCallbackQuery(parsed.Query())
	if err != nil {
		return Callback{}, err
	}

	state, err := ParseState(params.serializedState)
	if err != nil {
		return Callback{}, err
	}
	if state.CSRFTokenHash != HashString(csrfToken) {
		return Callback{}, interfaces.ErrInvalidState
	}

	platformKey, err := v.lookupPlatformKey(ctx, params.signature.KeyID)
	if err != nil {
		return Callback{}, err
	}

	ok, err := codec.Verify(statePayload{
		TokenID: params.tokenID,
		State:   params.serializedState,
	}, params.signature, platformKey)
	if err != nil {
		return Callback{}, err
	}
	if !ok {
		return Callback{}, interfaces.ErrInvalidSignature
	}

	return Callback{TokenID: params.tokenID, InnerState: state.InnerState}, nil
}

type callbackParameters struct {
	tokenID         string
	nonce           string
	serializedState string
	signature       interfaces.Signature
}

func parseCallbackQuery(query url.Values) (callbackParameters, error) {
	const (
		tokenIDParam   = "token-id"
		nonceParam     = "nonce"
		stateParam     = "state"
		signatureParam = "signature"
	)
	for _, name := range []string{tokenIDParam, stateParam, signatureParam} {
		if query.Get(name) == "" {
			return callbackParameters{}, fmt.Errorf("callback query missing %q parameter", name)
		}
	}

	var sig interfaces.Signature
	if err := json.Unmarshal([]byte(query.Get(signatureParam)), &sig); err != nil {
		return callbackParameters{}, fmt.Errorf("could not parse callback signature: %w", err)
	}

	return callbackParameters{
		tokenID:         query.Get(tokenIDParam),
		nonce:           query.Get(nonceParam),
		serializedState: query.Get(stateParam),
		signature:       sig,
	}, nil
}

func (v *Verifier) lookupPlatformKey(ctx context.Context, keyID string) (interfaces.Key, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.platformKeys[keyID]; ok {
		return key, nil
	}
	if v.platformID == "" {
		platformID, err := v.gw.DefaultRecoveryAgent(ctx)
		if err != nil {
			return interfaces.Key{}, err
		}
		v.platformID = platformID
	}
	key, err := v.gw.LookupPublicKey(ctx, v.platformID, keyID)
	if err != nil {
		return interfaces.Key{}, err
	}
	v.platformKeys[keyID] = key
	return key, nil
}
