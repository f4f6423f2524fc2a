package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.storeforge.example.com"
	}
	return &Client{BaseURL: baseURL, APIKey: apiKey, HTTP: http.DefaultClient}
}

// APIError is any non-2xx response other than a quota denial.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storeforge: %d %s", e.Status, e.Message)
}

// RateLimitError is returned for 429 responses.
type RateLimitError struct {
	Reason     string
	Message    string
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("storeforge: %s (retry after %s)", e.Message, e.RetryAfter)
}

type Window struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// Quota is the caller's usage. Stores is nil when the queried endpoint does
// not count toward the monthly store ceiling.
type Quota struct {
	Plan     string  `json:"plan"`
	Endpoint string  `json:"endpoint,omitempty"`
	Stores   *Window `json:"stores,omitempty"`
	Hourly   Window  `json:"hourly"`
	Daily    Window  `json:"daily"`
}

type Store struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SourceURL string `json:"source_url"`
	Status    string `json:"status"`
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
}

// Quota reports current usage. A non-empty endpoint narrows request counts to it.
func (c *Client) Quota(ctx context.Context, endpoint string) (*Quota, error) {
	u, err := url.Parse(c.BaseURL + "/v1/quota")
	if err != nil {
		return nil, err
	}
	if endpoint != "" {
		u.RawQuery = url.Values{"endpoint": {endpoint}}.Encode()
	}
	var out Quota
	if err := c.do(ctx, http.MethodGet, u.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateStore queues a store built from a product URL.
func (c *Client) GenerateStore(ctx context.Context, productURL string) (*Store, error) {
	var out Store
	if err := c.do(ctx, http.MethodPost, c.BaseURL+"/v1/generate-store", map[string]string{"url": productURL}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.headers(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return rateLimitError(resp)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Message
		if msg == "" {
			msg = e.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func rateLimitError(resp *http.Response) *RateLimitError {
	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
		Reason     string `json:"reason"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	e := &RateLimitError{Reason: body.Reason, Message: body.Error}
	if e.Message == "" {
		e.Message = "rate limit exceeded"
	}
	secs := body.RetryAfter
	if v, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		secs = v
	}
	e.RetryAfter = time.Duration(secs) * time.Second
	if v, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit")); err == nil {
		e.Limit = v
	}
	if v, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		e.ResetAt = time.Unix(v, 0).UTC()
	}
	return e
}
