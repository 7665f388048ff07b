package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/dnscache"
)

// DefaultTimeout bounds each HTTP request made by Client.
const DefaultTimeout = 30 * time.Second

// Client talks to a Server over HTTP. Transport failures and 5xx answers are
// reported as ErrUnavailable.
type Client struct {
	base     *url.URL
	http     *http.Client
	resolver *dnscache.Resolver
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default cached-DNS HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote url %q: scheme must be http or https", baseURL)
	}

	c := &Client{base: u, resolver: &dnscache.Resolver{}}
	c.http = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         c.dialContext,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// dialContext resolves through the client's DNS cache before dialing.
func (c *Client) dialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	ips, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &net.DNSError{Err: "no IP addresses found", Name: host}
	}
	return nil, lastErr
}

// RefreshDNS refreshes cached lookups every interval until ctx is done.
func (c *Client) RefreshDNS(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.resolver.Refresh(true)
		}
	}
}

// Pull fetches one page of documents after cursor.
func (c *Client) Pull(ctx context.Context, cursor string, limit int) (Page, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := c.base.JoinPath("v1", "documents")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("pull: %w", err)
	}
	var page Page
	if err := c.do(req, &page); err != nil {
		return Page{}, fmt.Errorf("pull: %w", err)
	}
	return page, nil
}

// Push uploads envelopes.
func (c *Client) Push(ctx context.Context, pr PushRequest) (PushResult, error) {
	body, err := json.Marshal(pr)
	if err != nil {
		return PushResult{}, fmt.Errorf("push: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath("v1", "push").String(), bytes.NewReader(body))
	if err != nil {
		return PushResult{}, fmt.Errorf("push: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res PushResult
	if err := c.do(req, &res); err != nil {
		return PushResult{}, fmt.Errorf("push: %w", err)
	}
	return res, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: %s: %s", ErrBadRequest, resp.Status, msg)
		}
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	return nil
}
