// Package client talks to a running ComfyUI server's job API: submitting
// prompt mappings, polling for results, downloading rendered images, and
// cancelling in-flight jobs. Depending on version, servers expose the API
// either at the root or under an /api prefix; the client negotiates which
// once and caches the answer instead of brute-forcing both on every call.
package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const apiPrefix = "/api"

// Client is a connection to one ComfyUI server.
type Client struct {
	baseURL  string
	clientID string
	httpc    *http.Client
	logger   *slog.Logger

	mu         sync.Mutex
	prefix     string
	negotiated bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the server at baseURL, e.g.
// "http://127.0.0.1:8188". Each client gets a unique id so the server can
// route progress messages back to it.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: uuid.New().String(),
		httpc:    &http.Client{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the unique id used for submissions and the websocket
// connection.
func (c *Client) ClientID() string {
	return c.clientID
}

// resolvePrefix determines whether the server wants the /api prefix. The
// probe hits the queue-info endpoint, which is cheap and present on every
// version. The result is cached; Invalidate drops it.
func (c *Client) resolvePrefix(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.negotiated {
		return c.prefix
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+apiPrefix+"/prompt", nil)
	if err != nil {
		return ""
	}
	resp, err := c.httpc.Do(req)
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			c.prefix = apiPrefix
		}
	}
	c.negotiated = true
	c.logger.Debug("negotiated api prefix", "prefix", c.prefix)
	return c.prefix
}

// Invalidate drops the negotiated prefix so the next call re-probes. Called
// when a previously working prefix starts failing.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.negotiated = false
	c.prefix = ""
	c.mu.Unlock()
}

// endpoint builds the URL for path under the negotiated prefix.
func (c *Client) endpoint(ctx context.Context, path string) string {
	return c.baseURL + c.resolvePrefix(ctx) + path
}

// altEndpoint builds the URL for path under the variant that was NOT
// negotiated, for one-shot fallbacks.
func (c *Client) altEndpoint(ctx context.Context, path string) string {
	if c.resolvePrefix(ctx) == apiPrefix {
		return c.baseURL + path
	}
	return c.baseURL + apiPrefix + path
}
