package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ernie/namesweep/internal/domain"
)

// MaxBatchSize is the most names the profile endpoint accepts per request
const MaxBatchSize = 100

// ErrEmptyResolution is returned when the authority answers a batch with no
// usable profiles at all
var ErrEmptyResolution = errors.New("profile lookup returned no profiles")

// ErrInvalidProfileID is returned when the authority sends a profile id that
// is not a UUID
var ErrInvalidProfileID = errors.New("profile lookup returned an invalid id")

// BatchError describes a failed profile lookup call
type BatchError struct {
	StatusCode int // zero when no response was received
	Latency    time.Duration
	Err        error
}

func (e *BatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("profile lookup returned %d (latency=%v): %v", e.StatusCode, e.Latency, e.Err)
	}
	return fmt.Sprintf("profile lookup failed (latency=%v): %v", e.Latency, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Profile is a single entry of the authority's response
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Resolution maps case-folded display names to the canonical identifier the
// authority currently assigns them. Names the authority does not recognise
// are absent.
type Resolution map[string]string

// Lookup returns the canonical identifier for name, ignoring case
func (r Resolution) Lookup(name string) (string, bool) {
	id, ok := r[domain.FoldName(name)]
	return id, ok
}

// NewResolution builds a Resolution from authority profiles. Entries missing
// a name or id are dropped. Any id that does not parse as a UUID fails the
// whole resolution with ErrInvalidProfileID.
func NewResolution(profiles []Profile) (Resolution, error) {
	res := make(Resolution, len(profiles))
	for _, p := range profiles {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.ID) == "" {
			continue
		}
		id, err := domain.ParseID(p.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %q for %q", ErrInvalidProfileID, p.ID, p.Name)
		}
		key := domain.FoldName(p.Name)
		if _, exists := res[key]; exists {
			continue
		}
		res[key] = id
	}
	return res, nil
}

// Client resolves display names to identifiers through the profile lookup API
type Client struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithUserAgent sets the User-Agent header sent with each request.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(userAgent)
	}
}

// New creates a profile lookup client for the given endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("profile lookup url required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("parse profile lookup url: %w", err)
	}
	client := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ResolveBatch posts up to MaxBatchSize names and returns the profiles the
// authority recognised. Any error means the whole batch is unresolved.
func (c *Client) ResolveBatch(ctx context.Context, names []string) (Resolution, error) {
	if len(names) == 0 {
		return nil, errors.New("names must not be empty")
	}
	if len(names) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d names exceeds limit of %d", len(names), MaxBatchSize)
	}

	body, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("encode names: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return nil, &BatchError{Latency: latency, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &BatchError{
			StatusCode: resp.StatusCode,
			Latency:    latency,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(snippet))),
		}
	}

	var profiles []Profile
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		return nil, &BatchError{StatusCode: resp.StatusCode, Latency: latency, Err: fmt.Errorf("decode profiles: %w", err)}
	}

	res, err := NewResolution(profiles)
	if err != nil {
		return nil, &BatchError{StatusCode: resp.StatusCode, Latency: latency, Err: err}
	}
	if len(res) == 0 {
		return nil, &BatchError{StatusCode: resp.StatusCode, Latency: latency, Err: ErrEmptyResolution}
	}
	return res, nil
}
