// Package client provides a Go client for the Trustgate API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client is a Trustgate API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new Trustgate client
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Proof is a serialized zero-knowledge proof
type Proof struct {
	Curve  string `json:"curve"`
	Scheme string `json:"scheme"`
	Data   []byte `json:"proof"`
}

// Attestation is a vendor's claim for one token and epoch. Score, Signature
// and the address parts are 0x-prefixed field elements.
type Attestation struct {
	VendorID     string `json:"vendorId"`
	Address      string `json:"address"`
	Epoch        string `json:"epoch"`
	Score        string `json:"score"`
	Signature    string `json:"signature"`
	AddressPart1 string `json:"addressPart1"`
	AddressPart2 string `json:"addressPart2"`
	Proof        *Proof `json:"proof"`
}

// SubmitAck acknowledges an accepted attestation
type SubmitAck struct {
	Status   string `json:"status"`
	VendorID string `json:"vendorId"`
	Address  string `json:"address"`
	Epoch    string `json:"epoch"`
}

// Certification is the aggregation outcome for one token and epoch
type Certification struct {
	Address     string   `json:"address"`
	Epoch       string   `json:"epoch"`
	Status      string   `json:"status"`
	AgreedScore string   `json:"agreedScore,omitempty"`
	Quorum      int      `json:"quorum"`
	VendorIDs   []string `json:"vendorIds"`
	CreatedAt   string   `json:"createdAt,omitempty"`
}

// WhitelistSubmission carries a certified proof and its revealed outputs
type WhitelistSubmission struct {
	Address      string `json:"address"`
	Score        string `json:"score"`
	Signature    string `json:"signature"`
	AddressPart1 string `json:"addressPart1"`
	AddressPart2 string `json:"addressPart2"`
	Proof        *Proof `json:"proof"`
}

// WhitelistEntry is the public whitelist state of one token
type WhitelistEntry struct {
	Address       string `json:"address"`
	State         string `json:"state"`
	IsWhitelisted bool   `json:"isWhitelisted"`
	LastScore     string `json:"lastScore,omitempty"`
	LastUpdatedAt string `json:"lastUpdatedAt,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// ListWhitelistOptions filters and pages a whitelist listing
type ListWhitelistOptions struct {
	State       string
	Whitelisted *bool
	Limit       int
	Cursor      string
}

// ListWhitelistResponse is one page of whitelist entries
type ListWhitelistResponse struct {
	Entries    []WhitelistEntry `json:"entries"`
	HasMore    bool             `json:"hasMore"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// Threshold is the whitelist submission threshold
type Threshold struct {
	Value string `json:"threshold"`
}

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SubmitAttestation submits a vendor attestation for aggregation
func (c *Client) SubmitAttestation(ctx context.Context, att Attestation) (*SubmitAck, error) {
	var resp SubmitAck
	if err := c.post(ctx, "/api/v1/attestations", att, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCertification gets the certification for a token. An empty epoch means
// the current UTC day.
func (c *Client) GetCertification(ctx context.Context, address, epoch string) (*Certification, error) {
	path := "/api/v1/certifications/" + url.PathEscape(address)
	if epoch != "" {
		path += "?epoch=" + url.QueryEscape(epoch)
	}

	var resp Certification
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitWhitelist submits a certified proof for whitelist evaluation
func (c *Client) SubmitWhitelist(ctx context.Context, sub WhitelistSubmission) (*WhitelistEntry, error) {
	var resp WhitelistEntry
	if err := c.post(ctx, "/api/v1/whitelist/submit", sub, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetWhitelistEntry gets the whitelist state of a token
func (c *Client) GetWhitelistEntry(ctx context.Context, address string) (*WhitelistEntry, error) {
	var resp WhitelistEntry
	if err := c.get(ctx, "/api/v1/whitelist/"+url.PathEscape(address), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListWhitelist lists whitelist entries
func (c *Client) ListWhitelist(ctx context.Context, opts ListWhitelistOptions) (*ListWhitelistResponse, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	if opts.Whitelisted != nil {
		q.Set("whitelisted", fmt.Sprintf("%v", *opts.Whitelisted))
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	path := "/api/v1/whitelist"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListWhitelistResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetThreshold gets the whitelist submission threshold
func (c *Client) GetThreshold(ctx context.Context) (*Threshold, error) {
	var resp Threshold
	if err := c.get(ctx, "/api/v1/whitelist/threshold", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateThreshold sets the whitelist submission threshold. Requires an API
// key on servers with auth enabled.
func (c *Client) UpdateThreshold(ctx context.Context, value string) (*Threshold, error) {
	var resp Threshold
	if err := c.put(ctx, "/api/v1/whitelist/threshold", Threshold{Value: value}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.send(ctx, http.MethodPost, path, body, result)
}

func (c *Client) put(ctx context.Context, path string, body, result any) error {
	return c.send(ctx, http.MethodPut, path, body, result)
}

func (c *Client) send(ctx context.Context, method, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return &errResp.Error
}
