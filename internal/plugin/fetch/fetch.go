// Package fetch performs the HTTP GET requests used to resolve plugin
// metadata and download plugin archives.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	slogcontext "github.com/veqryn/slog-context"
)

const (
	// DefaultMaxRedirects is the number of redirects followed before giving up.
	DefaultMaxRedirects = 10
	// DefaultTimeout bounds a single request including reading the body.
	DefaultTimeout = 5 * time.Minute
)

// ErrNetwork is wrapped by every transport level failure.
var ErrNetwork = errors.New("network error")

// ErrTooLarge is returned when a response body exceeds the configured limit.
var ErrTooLarge = errors.New("response body too large")

// ErrDecode is returned by GetJSON when the body is not the expected JSON.
var ErrDecode = errors.New("failed to decode response")

// StatusError is returned when the server answers with a non 2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %s", e.URL, e.Status)
}

// Client wraps an http.Client with a redirect cap.
type Client struct {
	http *http.Client
}

// Options configures a Client.
type Options struct {
	// Timeout for a single request. Zero uses DefaultTimeout.
	Timeout time.Duration
	// MaxRedirects followed per request. Zero uses DefaultMaxRedirects.
	MaxRedirects int
	// Transport overrides the round tripper, mainly for tests.
	Transport http.RoundTripper
}

// New creates a Client from the given options.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: opts.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// GetOptions contains options for a single GET.
type GetOptions struct {
	MaxBytes int64
	Accept   string
}

// GetOptionFn sets parameters for Get.
type GetOptionFn func(opt *GetOptions)

// WithMaxBytes limits the size of the response body. Zero means unlimited.
func WithMaxBytes(n int64) GetOptionFn {
	return func(opt *GetOptions) {
		opt.MaxBytes = n
	}
}

// WithAccept sets the Accept header.
func WithAccept(accept string) GetOptionFn {
	return func(opt *GetOptions) {
		opt.Accept = accept
	}
}

// Get downloads url fully into memory.
func (c *Client) Get(ctx context.Context, url string, opts ...GetOptionFn) (_ []byte, err error) {
	options := &GetOptions{}
	for _, opt := range opts {
		opt(options)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if options.Accept != "" {
		req.Header.Set("Accept", options.Accept)
	}

	slogcontext.FromCtx(ctx).DebugContext(ctx, "sending request", "realm", "plugin", "url", url)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("GET %s: %w", url, errors.Join(ctxErr, ErrNetwork))
		}
		return nil, fmt.Errorf("GET %s: %w: %w", url, ErrNetwork, err)
	}
	defer func() {
		err = errors.Join(err, resp.Body.Close())
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body io.Reader = resp.Body
	if options.MaxBytes > 0 {
		if resp.ContentLength > options.MaxBytes {
			return nil, fmt.Errorf("GET %s: %w: %d > %d bytes", url, ErrTooLarge, resp.ContentLength, options.MaxBytes)
		}
		body = io.LimitReader(resp.Body, options.MaxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: failed to read response body: %w: %w", url, ErrNetwork, err)
	}
	if options.MaxBytes > 0 && int64(len(data)) > options.MaxBytes {
		return nil, fmt.Errorf("GET %s: %w: exceeds %d bytes", url, ErrTooLarge, options.MaxBytes)
	}

	return data, nil
}

// GetJSON fetches url and decodes the JSON body into result.
func (c *Client) GetJSON(ctx context.Context, url string, result any) error {
	data, err := c.Get(ctx, url, WithAccept("application/json"))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("%w from %s: %w", ErrDecode, url, err)
	}
	return nil
}
