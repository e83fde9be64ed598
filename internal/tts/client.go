// Package tts implements the HTTP client for the GPU-bound voice-cloning
// service.
//
// Each GPU slot has a paired TTS sidecar sharing the slot's data volume, so
// reference audio is passed as a container-side path. The service answers
// /v1/invoke with the raw synthesized audio in the response body; there is no
// JSON envelope to inspect, only the status code and the payload size.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default configuration values.
const (
	// DefaultTimeout bounds one synthesis call. Long-form text on a busy
	// GPU genuinely takes this long; do not trim it down casually.
	DefaultTimeout = 20 * time.Minute

	// DefaultMinAudioSize is the smallest response that counts as real
	// audio. The service reports 200 with a header-only WAV when synthesis
	// silently fails.
	DefaultMinAudioSize = 10 * 1024

	// DefaultFormat is the audio container requested from the service.
	DefaultFormat = "wav"

	pathInvoke = "/v1/invoke"
	pathUnload = "/v1/unload"

	maxErrorBodyReadSize = 1024
)

// Errors returned by Synthesize. Callers treat any of them as "no usable
// audio" and fall back to the reference recording.
var (
	ErrSynthesisFailed = errors.New("tts synthesis failed")
	ErrAudioTooSmall   = errors.New("tts audio below minimum size")
)

// invokeRequest is the wire payload for /v1/invoke.
type invokeRequest struct {
	Text           string `json:"text"`
	ReferenceAudio string `json:"reference_audio"`
	ReferenceText  string `json:"reference_text"`
	Format         string `json:"format"`
}

// Client talks to voice-cloning service instances.
type Client struct {
	// HTTPClient is the standard HTTP client used for requests. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// Timeout bounds Synthesize calls. Zero means DefaultTimeout.
	Timeout time.Duration

	// MinAudioSize is the smallest acceptable synthesis result in bytes.
	// Zero means DefaultMinAudioSize.
	MinAudioSize int64

	// ReferenceText is sent alongside the reference audio when the voice
	// model wants a transcript. Usually empty.
	ReferenceText string
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// NewClient creates a new voice-cloning service client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		Timeout:      DefaultTimeout,
		MinAudioSize: DefaultMinAudioSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient sets a custom standard library HTTP client.
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

// WithTimeout sets the synthesis timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.Timeout = timeout
	}
}

// WithMinAudioSize sets the minimum acceptable audio size in bytes.
func WithMinAudioSize(size int64) ClientOption {
	return func(c *Client) {
		c.MinAudioSize = size
	}
}

// WithReferenceText sets the transcript sent with the reference audio.
func WithReferenceText(text string) ClientOption {
	return func(c *Client) {
		c.ReferenceText = text
	}
}

// Synthesize clones the reference voice speaking text and returns the raw
// audio bytes. referenceAudio is the container-side path of the reference
// recording on the target slot's shared volume. format selects the audio
// container; empty means DefaultFormat.
func (c *Client) Synthesize(ctx context.Context, baseURL, text, referenceAudio, format string) ([]byte, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}
	if format == "" {
		format = DefaultFormat
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := invokeRequest{
		Text:           text,
		ReferenceAudio: referenceAudio,
		ReferenceText:  c.ReferenceText,
		Format:         format,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding invoke payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+pathInvoke, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSynthesisFailed, resp.StatusCode, string(snippet))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading audio: %v", ErrSynthesisFailed, err)
	}

	minSize := c.MinAudioSize
	if minSize <= 0 {
		minSize = DefaultMinAudioSize
	}
	if int64(len(audio)) < minSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrAudioTooSmall, len(audio))
	}

	return audio, nil
}

// Unload asks the service to release its models from VRAM. Best-effort: the
// next Synthesize reloads them, so callers log failures and move on.
func (c *Client) Unload(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+pathUnload, nil)
	if err != nil {
		return fmt.Errorf("creating unload request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("executing unload request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyReadSize))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected unload status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
