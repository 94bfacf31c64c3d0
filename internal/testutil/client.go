package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

// Client calls the admin API and checks every exchange against the
// OpenAPI document when a validator is set.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Validator  *OpenAPIValidator
}

// NewClient creates a client for baseURL. validator may be nil.
func NewClient(baseURL string, validator *OpenAPIValidator) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Validator:  validator,
	}
}

// Authenticate exchanges apiKey for a token used by later requests.
func (c *Client) Authenticate(t *testing.T, apiKey string) {
	t.Helper()
	c.Token = ""

	resp := c.Do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"api_key": apiKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticate: status=%d body=%s", resp.StatusCode, ReadBody(t, resp))
	}

	var out struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	DecodeJSON(t, resp, &out)
	c.Token = out.Data.AccessToken
}

// Do sends a request with an optional JSON body.
func (c *Client) Do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	if c.Validator != nil {
		c.Validator.ValidateRequest(t, req, raw)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}

	if c.Validator != nil {
		c.Validator.ValidateResponse(t, req, resp)
	}
	return resp
}

// DecodeJSON decodes and closes the response body.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ReadBody returns and closes the response body.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
