// Package challenge is the HTTP client for an upstream that sits behind a
// JavaScript anti-bot challenge.
//
// Requests go through a resty client whose transport is wrapped by
// cloudflare-bp (browser-like TLS and headers). Clearance cookies live in an
// explicit *Session. When a request on a reused session comes back as a
// challenge page, the client repasses once (fresh cookies, re-prime the site)
// and retries once. That repass is the only retry this client does.
package challenge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/sakif/deckvault/internal/apperror"
)

var tracer = otel.Tracer("deckvault/upstream/challenge")

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	DefaultTimeout   = 15 * time.Second
)

// errChallenged marks a response that is a challenge page rather than data.
// It never leaves this package.
var errChallenged = errors.New("challenge response")

var challengeMarkers = [][]byte{
	[]byte("Just a moment..."),
	[]byte("cf-chl"),
	[]byte("challenge-platform"),
	[]byte("cf_chl_opt"),
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API origin, e.g. https://api2.moxfield.com.
	BaseURL string
	// SiteURL is fetched once per session to collect clearance cookies.
	// Empty disables priming.
	SiteURL string
	// Referer is sent on every request. Defaults to SiteURL.
	Referer   string
	UserAgent string
	Timeout   time.Duration
	// RateLimit is the sustained requests per second; <= 0 means unlimited.
	RateLimit float64
	RateBurst int
	// Transport replaces the default round tripper. Tests use it to stand
	// in for the network.
	Transport http.RoundTripper
}

// Client issues GET requests against the upstream API.
type Client struct {
	http    *resty.Client
	session *Session
	siteURL string
	limiter *rate.Limiter
	logger  *slog.Logger

	primeMu sync.Mutex
}

// New builds a Client around session. The session is not primed until the
// first request.
func New(cfg Config, session *Session, logger *slog.Logger) (*Client, error) {
	if session == nil {
		return nil, fmt.Errorf("challenge: session is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("challenge: invalid base url %q", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Referer == "" {
		cfg.Referer = cfg.SiteURL
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	httpClient.SetCookieJar(session)
	if cfg.Transport != nil {
		httpClient.SetTransport(cfg.Transport)
	}
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("User-Agent", cfg.UserAgent)
	httpClient.SetHeader("Accept", "application/json, text/plain, */*")
	if cfg.Referer != "" {
		httpClient.SetHeader("Referer", cfg.Referer)
	}
	httpClient.SetTimeout(cfg.Timeout)

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		http:    httpClient,
		session: session,
		siteURL: cfg.SiteURL,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}

	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return c.limiter.Wait(req.Context())
	})
	httpClient.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		c.logger.Debug("upstream response",
			slog.String("method", res.Request.Method),
			slog.String("url", res.Request.URL),
			slog.Int("status", res.StatusCode()),
			slog.Duration("duration", res.Time()),
		)
		return nil
	})

	return c, nil
}

// Fetch GETs path with query and returns the raw response body.
//
// Errors:
//   - apperror.ErrUpstreamUnavailable: network failure, or still challenged
//     after the repass
//   - apperror.ErrUpstreamTimeout: the request timed out
//   - apperror.ErrUpstreamHTTP: any other non-2xx response
func (c *Client) Fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "challenge.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("upstream.path", path))

	body, err := c.fetch(ctx, path, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream fetch failed")
		return nil, err
	}
	return body, nil
}

func (c *Client) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.ensurePrimed(ctx); err != nil {
		return nil, err
	}

	seen := c.session.Generation()
	body, err := c.get(ctx, path, query)
	if !errors.Is(err, errChallenged) {
		return body, err
	}

	c.logger.Warn("upstream challenge on reused session, repassing",
		slog.String("path", path),
		slog.Uint64("generation", seen),
	)
	if err := c.repass(ctx, seen); err != nil {
		return nil, err
	}

	body, err = c.get(ctx, path, query)
	if errors.Is(err, errChallenged) {
		return nil, apperror.UpstreamUnavailable("upstream challenge could not be passed", nil)
	}
	return body, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	res, err := req.Get(path)
	if err != nil {
		return nil, classifyTransportError(path, err)
	}
	if isChallenge(res) {
		return nil, errChallenged
	}
	if !res.IsSuccess() {
		return nil, apperror.UpstreamHTTP(res.StatusCode(), path)
	}
	return res.Body(), nil
}

func (c *Client) ensurePrimed(ctx context.Context) error {
	if c.session.Primed() {
		return nil
	}
	c.primeMu.Lock()
	defer c.primeMu.Unlock()
	return c.primeLocked(ctx)
}

// repass resets the session (unless a concurrent request already did) and
// primes it again.
func (c *Client) repass(ctx context.Context, seen uint64) error {
	c.primeMu.Lock()
	defer c.primeMu.Unlock()

	if _, err := c.session.reset(seen); err != nil {
		return apperror.UpstreamUnavailable("resetting upstream session", err)
	}
	return c.primeLocked(ctx)
}

// primeLocked must be called with primeMu held.
func (c *Client) primeLocked(ctx context.Context) error {
	if c.session.Primed() {
		return nil
	}
	if c.siteURL == "" {
		c.session.markPrimed()
		return nil
	}

	res, err := c.http.R().SetContext(ctx).Get(c.siteURL)
	if err != nil {
		return classifyTransportError(c.siteURL, err)
	}
	if isChallenge(res) {
		return apperror.UpstreamUnavailable("upstream challenge could not be passed", nil)
	}

	c.session.markPrimed()
	c.logger.Debug("upstream session primed",
		slog.String("site", c.siteURL),
		slog.Int("status", res.StatusCode()),
	)
	return nil
}

func isChallenge(res *resty.Response) bool {
	switch res.StatusCode() {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
	default:
		return false
	}
	if strings.EqualFold(res.Header().Get("cf-mitigated"), "challenge") {
		return true
	}
	body := res.Body()
	for _, marker := range challengeMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func classifyTransportError(path string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("challenge: GET %s: %w", path, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.UpstreamTimeout(path, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.UpstreamTimeout(path, err)
	}
	return apperror.UpstreamUnavailable(fmt.Sprintf("upstream unreachable: GET %s", path), err)
}
