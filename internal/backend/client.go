// Package backend implements the HTTP client for the GPU-bound lip-sync
// inference service.
//
// Each GPU slot runs its own instance of the service, so every call takes the
// slot's base URL. The client itself performs no retries; fault policy (query
// error budgets, timeouts, requeueing) belongs to the caller driving the task.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Default configuration values.
const (
	// DefaultSubmitTimeout bounds a submission round-trip. The service
	// answers quickly even when busy; a slow accept means it is wedged.
	DefaultSubmitTimeout = 30 * time.Second

	// DefaultQueryTimeout bounds a status poll.
	DefaultQueryTimeout = 10 * time.Second

	pathSubmit = "/easy/submit"
	pathQuery  = "/easy/query"

	paramCode = "code"

	maxErrorBodyReadSize = 1024
)

// ErrSubmitRejected indicates the service answered a submission with a
// non-success envelope or an error status. The job was not enqueued.
var ErrSubmitRejected = errors.New("backend rejected submission")

// SubmitOptions are the knobs forwarded verbatim in a submission.
type SubmitOptions struct {
	// Chaofen enables super-resolution post-processing (0 or 1).
	Chaofen int

	// WatermarkSwitch enables the service watermark (0 or 1).
	WatermarkSwitch int

	// PN selects the looping behavior when audio outlasts video (>= 1).
	PN int
}

// Client talks to inference service instances.
type Client struct {
	// HTTPClient is the standard HTTP client used for requests. If nil,
	// http.DefaultClient is used. Inject a resilient client here to get
	// circuit breaking; keep it retry-free so poll cadence stays honest.
	HTTPClient *http.Client

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// SubmitTimeout bounds Submit calls. Zero means DefaultSubmitTimeout.
	SubmitTimeout time.Duration

	// QueryTimeout bounds Query calls. Zero means DefaultQueryTimeout.
	QueryTimeout time.Duration
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// NewClient creates a new inference service client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		SubmitTimeout: DefaultSubmitTimeout,
		QueryTimeout:  DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient sets a custom standard library HTTP client. This allows
// injection of any *http.Client, including ones wrapped with circuit
// breakers or other middleware.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.UserAgent = ua
	}
}

// WithTimeouts sets the per-call submit and query timeouts.
func WithTimeouts(submit, query time.Duration) ClientOption {
	return func(c *Client) {
		c.SubmitTimeout = submit
		c.QueryTimeout = query
	}
}

// Submit asks the service at baseURL to synthesize a talking-head video.
// containerVideo and containerAudio are paths as the service's container sees
// them. code is the job identifier used for all subsequent queries.
//
// A nil return means the service accepted the job. Rejections return an error
// wrapping ErrSubmitRejected; transport failures return the underlying error.
func (c *Client) Submit(ctx context.Context, baseURL, code, containerVideo, containerAudio string, opts SubmitOptions) error {
	if c.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.SubmitTimeout)
		defer cancel()
	}

	payload := submitRequest{
		AudioURL:        containerAudio,
		VideoURL:        containerVideo,
		Code:            code,
		Chaofen:         opts.Chaofen,
		WatermarkSwitch: opts.WatermarkSwitch,
		PN:              opts.PN,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding submit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+pathSubmit, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("executing submit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
		return fmt.Errorf("%w: status %d: %s", ErrSubmitRejected, resp.StatusCode, string(snippet))
	}

	var envelope submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: undecodable response: %v", ErrSubmitRejected, err)
	}
	if !envelope.Success.Bool() {
		if envelope.Msg != "" {
			return fmt.Errorf("%w: %s", ErrSubmitRejected, envelope.Msg)
		}
		return fmt.Errorf("%w: success flag not set", ErrSubmitRejected)
	}

	return nil
}

// Query fetches the current state of a submitted job. Transport errors,
// non-200 statuses, and undecodable bodies all return an error; the caller
// decides how many consecutive errors it tolerates before giving up.
func (c *Client) Query(ctx context.Context, baseURL, code string) (*QueryResult, error) {
	if c.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.QueryTimeout)
		defer cancel()
	}

	queryURL := fmt.Sprintf("%s%s?%s=%s", baseURL, pathQuery, paramCode, url.QueryEscape(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating query request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
		return nil, fmt.Errorf("unexpected query status %d: %s", resp.StatusCode, string(snippet))
	}

	var envelope queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding query response: %w", err)
	}

	// A missing data block is the service's way of saying "accepted but not
	// started"; keep polling.
	if envelope.Data == nil {
		return &QueryResult{Phase: PhaseProcessing, Message: envelope.Msg}, nil
	}

	res := &QueryResult{
		Phase:    phaseFromStatus(envelope.Data.Status.Int()),
		Progress: clampProgress(envelope.Data.Progress.Int()),
		Result:   envelope.Data.Result,
		Message:  envelope.Data.Msg,
	}
	if res.Message == "" {
		res.Message = envelope.Msg
	}
	return res, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func clampProgress(p int64) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}
