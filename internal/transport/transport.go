// Package transport issues the browser-like HTTP requests a form journey makes.
//
// All sessions share one pooled http.Transport. Each session gets its own
// http.Client and cookie jar, because the runner pairs the anti-forgery token
// with a session cookie.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alphagov/forms-load-tests/internal/tracing"
)

// Header values sent on every request.
const (
	AcceptHeader         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	AcceptLanguageHeader = "en-GB,en;q=0.5"
	DefaultUserAgent     = "Gatling load tests"
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string

	// Timeout bounds each request including redirects and body read.
	Timeout time.Duration

	// MaxRPS caps the aggregate request rate across all sessions. 0 disables it.
	MaxRPS float64

	// Propagate injects W3C trace context headers.
	Propagate bool

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultOptions returns pool settings suitable for load generation.
func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:             baseURL,
		UserAgent:           DefaultUserAgent,
		Timeout:             60 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Client is the shared half of the transport.
type Client struct {
	base      *url.URL
	origin    string
	opts      Options
	transport *http.Transport
	limiter   *rate.Limiter
}

// New validates opts and builds the shared connection pool.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute http(s)", opts.BaseURL)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	// Compression stays enabled so the transport negotiates gzip and
	// decompresses transparently.
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if opts.MaxIdleConns > 0 {
		tr.MaxIdleConns = opts.MaxIdleConns
	}
	if opts.MaxIdleConnsPerHost > 0 {
		tr.MaxIdleConnsPerHost = opts.MaxIdleConnsPerHost
	}
	if opts.IdleConnTimeout > 0 {
		tr.IdleConnTimeout = opts.IdleConnTimeout
	}

	c := &Client{
		base:      base,
		origin:    base.Scheme + "://" + base.Host,
		opts:      opts,
		transport: tr,
	}
	if opts.MaxRPS > 0 {
		burst := int(opts.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), burst)
	}
	return c, nil
}

// Origin returns the scheme and host requests are sent to.
func (c *Client) Origin() string {
	return c.origin
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// NewSession returns a handle with a fresh cookie jar.
func (c *Client) NewSession() *Session {
	// cookiejar.New only fails for a non-nil Options with a bad PublicSuffixList.
	jar, _ := cookiejar.New(nil)
	return &Session{
		client: c,
		http: &http.Client{
			Transport: c.transport,
			Timeout:   c.opts.Timeout,
			Jar:       jar,
		},
	}
}

// Result describes one completed exchange.
type Result struct {
	Method     string
	URL        string
	StatusCode int
	Bytes      int64
	Duration   time.Duration
}

// Session issues requests on behalf of one simulated user.
type Session struct {
	client *Client
	http   *http.Client
}

// Start fetches the first page of a journey as a top-level navigation.
func (s *Session) Start(ctx context.Context, path string) ([]byte, Result, error) {
	req, err := s.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, Result{Method: http.MethodGet, URL: path}, err
	}
	req.Header.Set("Sec-Fetch-Site", "none")
	return s.do(req)
}

// Submit posts form values to path as a same-origin form submission.
func (s *Session) Submit(ctx context.Context, path string, form url.Values) ([]byte, Result, error) {
	req, err := s.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, Result{Method: http.MethodPost, URL: path}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", s.client.origin)
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	return s.do(req)
}

func (s *Session) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target, err := s.client.resolve(path)
	if err != nil {
		return nil, &Error{Method: method, URL: path, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{Method: method, URL: target, Err: err}
	}
	h := req.Header
	h.Set("Accept", AcceptHeader)
	h.Set("Accept-Language", AcceptLanguageHeader)
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("User-Agent", s.client.opts.UserAgent)
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-User", "?1")
	if s.client.opts.Propagate {
		tracing.InjectHTTPHeaders(ctx, h)
	}
	return req, nil
}

func (s *Session) do(req *http.Request) ([]byte, Result, error) {
	res := Result{Method: req.Method, URL: req.URL.String()}

	if s.client.limiter != nil {
		if err := s.client.limiter.Wait(req.Context()); err != nil {
			return nil, res, &Error{Method: req.Method, URL: res.URL, Err: err}
		}
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		res.Duration = time.Since(start)
		return nil, res, &Error{Method: req.Method, URL: res.URL, Err: withContextErr(req, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	res.Duration = time.Since(start)
	res.StatusCode = resp.StatusCode
	res.Bytes = int64(len(body))
	if resp.Request != nil && resp.Request.URL != nil {
		res.URL = resp.Request.URL.String()
	}
	if err != nil {
		return nil, res, &Error{Method: req.Method, URL: res.URL, StatusCode: resp.StatusCode, Err: withContextErr(req, err)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return body, res, &Error{Method: req.Method, URL: res.URL, StatusCode: resp.StatusCode}
	}
	return body, res, nil
}

// withContextErr makes sure a failure caused by the request context ending
// matches that context error.
func withContextErr(req *http.Request, err error) error {
	ctxErr := req.Context().Err()
	if ctxErr == nil || errors.Is(err, ctxErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ctxErr, err)
}

// resolve turns an action path into an absolute URL on the base host. Absolute
// actions are accepted as-is.
func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(path))
	if err != nil {
		return "", err
	}
	return c.base.ResolveReference(ref).String(), nil
}
