// Package client implements invitectl's side of the gatelog control API:
// invite management over HTTPS, and redeeming an invite through pairing.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/protocol"
	"github.com/NicolasHaas/gatelog/pkg/version"
)

// ErrNotFound is returned when the server knows no usable invite for a code.
var ErrNotFound = errors.New("client: not found")

// APIError is a non-2xx reply from the control API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Client talks to one gatelog node.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the node at addr ("host:port" or an https URL).
// The node's self-signed certificate is accepted without verification.
func New(addr, token string) *Client {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // self-signed node certs (TOFU model)
		MinVersion:         tls.VersionTLS13,
	}
	hc := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}
	if !strings.Contains(addr, "://") {
		addr = "https://" + addr
	}
	return NewWithHTTPClient(addr, token, hc)
}

// NewWithHTTPClient creates a client that sends requests through hc.
func NewWithHTTPClient(baseURL, token string, hc *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
	}
}

// Info returns the node's public description.
func (c *Client) Info(ctx context.Context) (*protocol.InfoResponse, error) {
	var out protocol.InfoResponse
	if err := c.doJSON(ctx, http.MethodGet, protocol.PathInfo, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateInvite issues an invite and returns its code.
func (c *Client) CreateInvite(ctx context.Context, req protocol.CreateInviteRequest) (string, error) {
	var out protocol.CreateInviteResponse
	if err := c.doJSON(ctx, http.MethodPost, protocol.PathInvites, req, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

// ListInvites lists admissible invites, or every invite if all is set.
func (c *Client) ListInvites(ctx context.Context, all bool) ([]protocol.InviteInfo, error) {
	path := protocol.PathInvites
	if all {
		path += "?all=true"
	}
	var out protocol.ListInvitesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Invites, nil
}

// ShowInvite resolves code. Returns ErrNotFound if it is unknown or no
// longer admissible.
func (c *Client) ShowInvite(ctx context.Context, code string) (*protocol.InviteInfo, error) {
	var out protocol.InviteInfo
	if err := c.doJSON(ctx, http.MethodGet, invitePath(protocol.PathInvite, code), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Revoke revokes code. It reports false if the node knows no such invite.
func (c *Client) Revoke(ctx context.Context, code string) (bool, error) {
	var out protocol.RevokeInviteResponse
	if err := c.doJSON(ctx, http.MethodDelete, invitePath(protocol.PathInvite, code), nil, &out); err != nil {
		return false, err
	}
	return out.Revoked, nil
}

// Claim records a redemption attempt for code.
func (c *Client) Claim(ctx context.Context, code, claimedBy string) error {
	req := protocol.ClaimInviteRequest{ClaimedBy: claimedBy}
	return c.doJSON(ctx, http.MethodPost, invitePath(protocol.PathClaims, code), req, nil)
}

// CreateToken mints an API token. The raw token is only returned here.
func (c *Client) CreateToken(ctx context.Context, req protocol.CreateTokenRequest) (*protocol.CreateTokenResponse, error) {
	var out protocol.CreateTokenResponse
	if err := c.doJSON(ctx, http.MethodPost, protocol.PathTokens, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export returns every invite on the node as YAML.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, protocol.PathExport, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func invitePath(pattern, code string) string {
	return strings.Replace(pattern, "{code}", url.PathEscape(code), 1)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: marshal: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

// do sends one request and turns non-2xx replies into errors. The caller
// closes the body of a successful response.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return nil, ErrNotFound
	}
	apiErr := &APIError{Status: resp.StatusCode}
	var e protocol.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, protocol.MaxJSONBody)).Decode(&e); err == nil {
		apiErr.Message = e.Error
	}
	return nil, apiErr
}
