// Package delivery is the client side of the contact pipeline. It validates,
// rate limits and sanitizes a submission locally, then posts it to the primary
// endpoint and, on failure, once to the fallback endpoint.
package delivery

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/zifrone/contact/internal/config"
	"github.com/zifrone/contact/internal/contact"
	"github.com/zifrone/contact/internal/csrf"
	"github.com/zifrone/contact/internal/ratelimit"
	"github.com/zifrone/contact/internal/sanitizer"
	"github.com/zifrone/contact/internal/validation"
)

// Request headers sent with every attempt
const (
	HeaderRequestedWith = "X-Requested-With"
	HeaderClientVersion = "X-Client-Version"
	HeaderTimestamp     = "X-Timestamp"
	HeaderRequestID     = "X-Request-ID"
)

const maxResponseBytes = 64 << 10

// Environment describes the host the client runs in. UserAgent and Referer
// travel in the payload; the screen and timezone only feed the local
// limiter fingerprint.
type Environment struct {
	UserAgent    string
	Referer      string
	ScreenWidth  int
	ScreenHeight int
	Timezone     string
}

// Ack is a successful delivery
type Ack struct {
	Endpoint     string
	UsedFallback bool
	StatusCode   int
	Message      string
	SessionID    string
}

// Client submits contact requests
type Client struct {
	cfg       config.ClientConfig
	http      *http.Client
	validator *validation.Validator
	sanitizer *sanitizer.TextSanitizer
	limiter   ratelimit.Limiter
	identity  string
	env       Environment
	csrf      TokenSource
	log       *slog.Logger
	now       func() time.Time
	sessionID func() (string, error)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its own Timeout is left alone;
// each attempt is bounded by the configured timeout regardless.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLimiter replaces the local limiter
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithEnvironment sets the host environment
func WithEnvironment(env Environment) Option {
	return func(c *Client) { c.env = env }
}

// WithTokenSource sets where CSRF tokens come from
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.csrf = ts }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client from a validated client configuration
func New(cfg config.ClientConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		http:      &http.Client{},
		validator: validation.Default(),
		sanitizer: sanitizer.New(),
		log:       slog.Default(),
		now:       time.Now,
		sessionID: newSessionID,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.NewMemoryStore(ratelimit.WithClock(c.now), ratelimit.WithLogger(c.log))
	}
	c.identity = ratelimit.Fingerprint(c.env.UserAgent, c.env.ScreenWidth, c.env.ScreenHeight, c.env.Timezone)
	return c, nil
}

// Config returns the client configuration
func (c *Client) Config() config.ClientConfig {
	return c.cfg
}

// Submit runs the delivery sequence. Errors are one of validation.Errors,
// ErrRateLimited or *DeliveryError.
func (c *Client) Submit(ctx context.Context, sub contact.Submission) (*Ack, error) {
	if report := c.validator.All(sub); !report.Valid {
		return nil, report.Errors
	}
	// The server validates what it receives after sanitizing, so do the same
	clean := c.sanitizer.Submission(sub)
	if report := c.validator.All(clean); !report.Valid {
		return nil, report.Errors
	}

	decision, err := c.limiter.Check(ctx, c.identity, c.cfg.RateLimit.Requests, c.cfg.RateLimit.Window)
	if err != nil {
		c.log.Warn("local rate limit check failed", slog.Any("error", err))
	} else if !decision.Allowed {
		return nil, ErrRateLimited
	}

	sessionID, err := c.sessionID()
	if err != nil {
		return nil, fmt.Errorf("delivery: session id: %w", err)
	}

	payload := contact.Payload{
		Submission:  clean,
		Timestamp:   c.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UserAgent:   contact.TruncateDiagnostic(c.env.UserAgent),
		Referer:     contact.TruncateDiagnostic(c.env.Referer),
		SessionID:   sessionID,
		FormVersion: c.cfg.FormVersion,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("delivery: encode payload: %w", err)
	}

	token := ""
	if c.csrf != nil {
		token = c.csrf(ctx)
	}

	ack, primaryErr := c.post(ctx, c.cfg.PrimaryEndpoint, body, token)
	if primaryErr == nil {
		ack.SessionID = sessionID
		return ack, nil
	}
	c.log.Warn("primary endpoint failed", slog.String("endpoint", primaryErr.Endpoint), slog.Any("error", primaryErr))

	ack, fallbackErr := c.post(ctx, c.cfg.FallbackEndpoint, body, token)
	if fallbackErr == nil {
		ack.UsedFallback = true
		ack.SessionID = sessionID
		return ack, nil
	}
	c.log.Warn("fallback endpoint failed", slog.String("endpoint", fallbackErr.Endpoint), slog.Any("error", fallbackErr))

	return nil, &DeliveryError{
		Primary:      primaryErr,
		Fallback:     fallbackErr,
		AlternateURL: ChatURL(c.cfg.WhatsAppNumber, ChatMessage(sub.Name, c.cfg.DefaultMessage)),
	}
}

type serverReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte, token string) (*Ack, *AttemptError) {
	target, err := c.resolve(endpoint)
	if err != nil {
		return nil, &AttemptError{Endpoint: endpoint, Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, &AttemptError{Endpoint: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestedWith, "XMLHttpRequest")
	req.Header.Set(HeaderClientVersion, c.cfg.ClientVersion)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(c.now().UnixMilli(), 10))
	req.Header.Set(HeaderRequestID, uuid.NewString())
	req.Header.Set("Cache-Control", "no-cache")
	if c.env.UserAgent != "" {
		req.Header.Set("User-Agent", c.env.UserAgent)
	}
	if token != "" {
		req.Header.Set(csrf.HeaderName, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = ErrTimeout
		}
		return nil, &AttemptError{Endpoint: target, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	var reply serverReply
	_ = json.Unmarshal(raw, &reply)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Debug("endpoint rejected submission",
			slog.String("endpoint", target),
			slog.Int("status", resp.StatusCode),
			slog.String("reply_error", reply.Error),
		)
		return nil, &AttemptError{Endpoint: target, StatusCode: resp.StatusCode}
	}

	return &Ack{Endpoint: target, StatusCode: resp.StatusCode, Message: reply.Message}, nil
}

// resolve turns a configured endpoint into an absolute URL against BaseURL
func (c *Client) resolve(endpoint string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("invalid base url %q", c.cfg.BaseURL)
	}
	return base.ResolveReference(ref).String(), nil
}

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
