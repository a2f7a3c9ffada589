// Package api: REST client for the Music Genie backend
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	DefaultTimeout    = 30 * time.Second
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second
	DefaultMaxAudioMB = 50.0
)

// HTTPClient is shared by every Client that is not handed its own
var HTTPClient = &http.Client{
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("stopped after %d redirects", len(via))
		}
		return nil
	},
}

type Client struct {
	baseURL       string
	http          *http.Client
	timeout       time.Duration
	retries       int
	retryDelay    time.Duration
	maxAudioBytes int64
	logger        zerolog.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetry sets how many times a retryable failure is retried and the fixed pause between tries.
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = max(retries, 0)
		c.retryDelay = delay
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMaxAudioSize(mb float64) Option {
	return func(c *Client) { c.maxAudioBytes = int64(mb * 1024 * 1024) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          HTTPClient,
		timeout:       DefaultTimeout,
		retries:       DefaultRetries,
		retryDelay:    DefaultRetryDelay,
		maxAudioBytes: int64(DefaultMaxAudioMB * 1024 * 1024),
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithoutRetry returns a copy of c that makes a single attempt per request,
// for callers that run their own retry policy.
func (c *Client) WithoutRetry() *Client {
	cp := *c
	cp.retries = 0
	return &cp
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// ResolveURL turns a backend-relative reference such as /audio/x.wav into an absolute URL.
func (c *Client) ResolveURL(ref string) string {
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	return c.baseURL + "/" + strings.TrimLeft(ref, "/")
}

type response struct {
	status int
	header http.Header
	body   []byte
}

type request struct {
	op      string
	method  string
	url     string
	payload any
	limit   int64 // 0 = unlimited
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do runs the request with per-attempt timeouts and fixed-delay retries.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	var body []byte
	if req.payload != nil {
		b, err := json.Marshal(req.payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", req.op, err)
		}
		body = b
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &NetworkError{Op: req.op, Err: ctx.Err()}
			case <-time.After(c.retryDelay):
			}
		}

		resp, err := c.attempt(ctx, req, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		c.logger.Warn().
			Err(err).
			Str("op", req.op).
			Int("attempt", attempt+1).
			Int("max_attempts", c.retries+1).
			Msg("request failed")
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, req request, body []byte) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.op, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json, audio/*")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	var src io.Reader = resp.Body
	if req.limit > 0 {
		src = io.LimitReader(resp.Body, req.limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, &NetworkError{Op: req.op, Err: err}
	}
	if req.limit > 0 && int64(len(data)) > req.limit {
		return nil, fmt.Errorf("%s: %w", req.op, ErrTooLarge)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, data)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}
