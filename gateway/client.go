package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ruteri/identity-sdk/interfaces"
)

// Client talks to the authoritative member gateway over HTTP. It implements
// interfaces.Gateway and handles request encoding, response parsing, and
// error mapping.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a gateway client for the given base URL
// (e.g. "http://localhost:8080").
//
// Parameters:
//   - baseURL: The base URL of the gateway API
//   - timeout: Request timeout duration (optional, default 30 seconds)
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// CreateMemberID reserves a fresh member ID. The nonce deduplicates retried
// reservations: repeating the same nonce returns the same ID.
func (c *Client) CreateMemberID(ctx context.Context, nonce string) (string, error) {
	var result struct {
		MemberID string `json:"memberId"`
	}
	err := c.post(ctx, "create member", "/api/v1/members", struct {
		Nonce string `json:"nonce"`
	}{Nonce: nonce}, &result)
	if err != nil {
		return "", err
	}
	return result.MemberID, nil
}

// GetMember fetches the authoritative member snapshot.
func (c *Client) GetMember(ctx context.Context, memberID string) (interfaces.MemberSnapshot, error) {
	var snap interfaces.MemberSnapshot
	path := fmt.Sprintf("/api/v1/members/%s", url.PathEscape(memberID))
	if err := c.get(ctx, "get member", path, &snap); err != nil {
		return interfaces.MemberSnapshot{}, err
	}
	return snap, nil
}

// UpdateMember submits a signed operation batch and returns the new
// authoritative snapshot. A stale PrevHash surfaces as
// ErrConcurrentModification.
func (c *Client) UpdateMember(ctx context.Context, update interfaces.MemberUpdate, sig interfaces.Signature, metadata []interfaces.OperationMetadata) (interfaces.MemberSnapshot, error) {
	var snap interfaces.MemberSnapshot
	path := fmt.Sprintf("/api/v1/members/%s/updates", url.PathEscape(update.MemberID))
	err := c.post(ctx, "update member", path, struct {
		Update    interfaces.MemberUpdate        `json:"update"`
		Signature interfaces.Signature           `json:"signature"`
		Metadata  []interfaces.OperationMetadata `json:"metadata,omitempty"`
	}{Update: update, Signature: sig, Metadata: metadata}, &snap)
	if err != nil {
		return interfaces.MemberSnapshot{}, err
	}
	return snap, nil
}

// ResolveAlias returns the member ID the alias resolves to.
func (c *Client) ResolveAlias(ctx context.Context, alias interfaces.Alias) (string, error) {
	var result struct {
		MemberID string `json:"memberId"`
	}
	err := c.post(ctx, "resolve alias", "/api/v1/aliases/resolve", struct {
		Alias interfaces.Alias `json:"alias"`
	}{Alias: alias.Normalized()}, &result)
	if err != nil {
		return "", err
	}
	return result.MemberID, nil
}

// BeginRecovery starts a recovery attempt for the member the alias resolves
// to and returns the verification ID.
func (c *Client) BeginRecovery(ctx context.Context, alias interfaces.Alias) (string, error) {
	var result struct {
		VerificationID string `json:"verificationId"`
	}
	err := c.post(ctx, "begin recovery", "/api/v1/recovery/begin", struct {
		Alias interfaces.Alias `json:"alias"`
	}{Alias: alias.Normalized()}, &result)
	if err != nil {
		return "", err
	}
	return result.VerificationID, nil
}

// CompleteRecovery submits the out-of-band code and returns the
// platform-signed recovery operation. A rejected code surfaces as
// VerificationError.
func (c *Client) CompleteRecovery(ctx context.Context, verificationID, code string, privilegedKey interfaces.Key) (interfaces.RecoveryOperation, error) {
	var result struct {
		RecoveryOperation interfaces.RecoveryOperation `json:"recoveryOperation"`
	}
	err := c.post(ctx, "complete recovery", "/api/v1/recovery/complete", struct {
		VerificationID string         `json:"verificationId"`
		Code           string         `json:"code"`
		Key            interfaces.Key `json:"key"`
	}{VerificationID: verificationID, Code: code, Key: privilegedKey}, &result)
	if err != nil {
		return interfaces.RecoveryOperation{}, err
	}
	return result.RecoveryOperation, nil
}

// DefaultRecoveryAgent returns the member ID of the platform's recovery
// agent.
func (c *Client) DefaultRecoveryAgent(ctx context.Context) (string, error) {
	var result struct {
		MemberID string `json:"memberId"`
	}
	if err := c.get(ctx, "default recovery agent", "/api/v1/recovery/default-agent", &result); err != nil {
		return "", err
	}
	return result.MemberID, nil
}

// LookupPublicKey returns the identified public key of a member.
func (c *Client) LookupPublicKey(ctx context.Context, memberID, keyID string) (interfaces.Key, error) {
	var key interfaces.Key
	path := fmt.Sprintf("/api/v1/members/%s/keys/%s", url.PathEscape(memberID), url.PathEscape(keyID))
	if err := c.get(ctx, "lookup public key", path, &key); err != nil {
		return interfaces.Key{}, err
	}
	return key, nil
}

func (c *Client) get(ctx context.Context, op, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(op, req, out)
}

func (c *Client) post(ctx context.Context, op, path string, body, out interface{}) error {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqJSON))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &interfaces.RPCUnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.decodeError(op, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", op, err)
	}
	return nil
}

// errorBody is the gateway's JSON error envelope. VerificationStatus is set
// only on rejected recovery codes.
type errorBody struct {
	Message            string                        `json:"message"`
	VerificationStatus interfaces.VerificationStatus `json:"verificationStatus,omitempty"`
}

func (c *Client) decodeError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	switch resp.StatusCode {
	case http.StatusConflict:
		return interfaces.ErrConcurrentModification
	case http.StatusNotFound:
		return interfaces.ErrMemberNotFound
	case http.StatusForbidden:
		if body.VerificationStatus != "" {
			return &interfaces.VerificationError{Status: body.VerificationStatus}
		}
	}
	if body.Message != "" {
		return fmt.Errorf("%s failed with code %d: %s", op, resp.StatusCode, body.Message)
	}
	return fmt.Errorf("%s failed with code %d: %s", op, resp.StatusCode, string(raw))
}
