// Package intake is the server side of the contact pipeline. Handler runs one
// request through a fixed sequence of stages and short-circuits to a response
// on the first failure. Adapters translate net/http and serverless events to
// and from the neutral Request and Response types.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/zifrone/contact/internal/contact"
	"github.com/zifrone/contact/internal/csrf"
	"github.com/zifrone/contact/internal/logger"
	"github.com/zifrone/contact/internal/mail"
	"github.com/zifrone/contact/internal/metrics"
	"github.com/zifrone/contact/internal/ratelimit"
	"github.com/zifrone/contact/internal/sanitizer"
	"github.com/zifrone/contact/internal/validation"
)

// AllowedHeaders lists the request headers browsers may send cross-origin
const AllowedHeaders = "Content-Type, X-Requested-With, X-CSRF-Token, X-Client-Version, X-Timestamp, X-Request-ID"

// Archiver records a dispatched submission. Failures never reach the caller.
type Archiver interface {
	Archive(ctx context.Context, sub contact.Submission, meta contact.Meta, msg *mail.Message) error
}

// TokenVerifier checks anti-forgery tokens
type TokenVerifier interface {
	Verify(token string) error
}

// Options holds Handler dependencies and settings
type Options struct {
	Composer *mail.Composer
	Sender   mail.Sender
	Limiter  ratelimit.Limiter

	MaxRequests       int
	Window            time.Duration
	AllowedOrigin     string
	TrustForwardedFor bool
	MaxBodyBytes      int64
	DispatchTimeout   time.Duration

	// Optional
	Archiver    Archiver
	CSRF        TokenVerifier
	EnforceCSRF bool
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
}

// Handler processes contact submissions
type Handler struct {
	opts      Options
	validator *validation.Validator
	sanitizer *sanitizer.TextSanitizer
	log       *slog.Logger
}

// NewHandler creates a Handler
func NewHandler(opts Options) (*Handler, error) {
	if opts.Composer == nil || opts.Sender == nil || opts.Limiter == nil {
		return nil, errors.New("intake: composer, sender and limiter are required")
	}
	if opts.EnforceCSRF && opts.CSRF == nil {
		return nil, errors.New("intake: csrf enforcement requires a verifier")
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 3
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 20 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Handler{
		opts:      opts,
		validator: validation.Default(),
		sanitizer: sanitizer.New(),
		log:       opts.Logger,
	}, nil
}

// MaxBodyBytes is the largest body the handler accepts
func (h *Handler) MaxBodyBytes() int64 {
	return h.opts.MaxBodyBytes
}

// run tracks the stages of one request
type run struct {
	trail []Stage
	last  Stage
}

func (r *run) enter(s Stage) {
	r.trail = append(r.trail, s)
	if s != StageError && s != StageResponded {
		r.last = s
	}
}

// Handle runs req through the state machine. It never returns an error;
// every failure becomes a response.
func (h *Handler) Handle(ctx context.Context, req Request) (out Response) {
	st := &run{}
	st.enter(StageReceived)
	log := logger.WithCorrelationID(ctx, h.log)

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while handling contact request", slog.Any("panic", p), slog.String("stage", string(st.last)))
			out = h.fail(st, http.StatusInternalServerError, replyBody{Error: errInternal, Message: msgSendFailed})
		}
	}()

	if req.Method == http.MethodOptions {
		return h.respond(st, http.StatusOK, nil)
	}
	if req.Method != http.MethodPost {
		return h.fail(st, http.StatusMethodNotAllowed, replyBody{Error: errMethodNotAllowed})
	}
	st.enter(StageMethodChecked)

	identity := ratelimit.ClientIP(req.Headers, req.RemoteAddr, h.opts.TrustForwardedFor)
	decision, err := h.opts.Limiter.Check(ctx, identity, h.opts.MaxRequests, h.opts.Window)
	if err != nil {
		// fail open
		log.Error("rate limiter unavailable, allowing request", slog.Any("error", err))
	} else if !decision.Allowed {
		metrics.RateLimitedTotal.Inc()
		metrics.RecordSubmission(metrics.OutcomeRateLimited)
		log.Warn("contact request rate limited", slog.String("client", ratelimit.HashIdentity(identity)))
		resp := h.fail(st, http.StatusTooManyRequests, replyBody{Error: errTooManyRequests})
		if decision.RetryAfter > 0 {
			resp.Headers.Set("Retry-After", strconv.Itoa(int((decision.RetryAfter+time.Second-1)/time.Second)))
		}
		return resp
	}
	st.enter(StageRateChecked)

	if h.opts.EnforceCSRF {
		if err := h.opts.CSRF.Verify(req.Headers.Get(csrf.HeaderName)); err != nil {
			metrics.RecordSubmission(metrics.OutcomeCSRFFailed)
			log.Warn("contact request failed csrf check", slog.Any("error", err))
			return h.fail(st, http.StatusForbidden, replyBody{Error: errInvalidCSRF})
		}
	}

	if req.BodyTooLarge || int64(len(req.Body)) > h.opts.MaxBodyBytes {
		metrics.RecordSubmission(metrics.OutcomeTooLarge)
		return h.fail(st, http.StatusRequestEntityTooLarge, replyBody{Error: errTooLarge})
	}

	var sub contact.Submission
	if err := json.Unmarshal(req.Body, &sub); err != nil {
		metrics.RecordSubmission(metrics.OutcomeInvalidJSON)
		return h.fail(st, http.StatusBadRequest, replyBody{Error: errInvalidJSON})
	}
	st.enter(StageParsed)

	sub = sub.Trimmed()
	if missing(sub) {
		metrics.RecordSubmission(metrics.OutcomeMissingFields)
		return h.fail(st, http.StatusBadRequest, replyBody{Error: errMissingFields})
	}
	if resp, ok := h.rejectInvalid(st, sub); !ok {
		return resp
	}
	st.enter(StageValidated)

	for field, patterns := range sanitizer.DetectSubmission(sub) {
		for _, p := range patterns {
			metrics.SuspiciousInputTotal.WithLabelValues(string(field), p).Inc()
		}
		log.Warn("suspicious content in contact submission",
			slog.String("field", string(field)),
			slog.Any("patterns", patterns),
		)
	}

	clean := h.sanitizer.Submission(sub)
	if resp, ok := h.rejectInvalid(st, clean); !ok {
		return resp
	}
	st.enter(StageSanitized)

	meta := contact.Meta{
		ID:             h.opts.NewID(),
		ReceivedAt:     h.opts.Now(),
		ClientIdentity: identity,
		UserAgent:      userAgent(req.Headers),
		Referer:        contact.TruncateDiagnostic(req.Headers.Get("Referer")),
	}

	msg, err := h.opts.Composer.Compose(clean, meta)
	if err != nil {
		metrics.RecordSubmission(metrics.OutcomeDispatchFailed)
		log.Error("failed to compose notification", slog.Any("error", err))
		return h.fail(st, http.StatusInternalServerError, replyBody{Error: errInternal, Message: msgSendFailed})
	}

	if err := h.dispatch(ctx, msg); err != nil {
		metrics.RecordSubmission(metrics.OutcomeDispatchFailed)
		log.Error("failed to dispatch notification",
			slog.String("submission_id", meta.ID),
			slog.Any("error", err),
		)
		return h.fail(st, http.StatusInternalServerError, replyBody{Error: errInternal, Message: msgSendFailed})
	}
	st.enter(StageEmailDispatched)
	metrics.RecordSubmission(metrics.OutcomeSuccess)

	log.Info("contact form submitted",
		slog.String("submission_id", meta.ID),
		slog.String("email", clean.Email),
		slog.String("subject", clean.Subject),
		slog.String("timestamp", meta.Timestamp()),
	)

	h.archive(ctx, log, clean, meta, msg)

	return h.respond(st, http.StatusOK, &replyBody{Success: true, Message: msgSent})
}

func (h *Handler) dispatch(ctx context.Context, msg *mail.Message) error {
	dctx, cancel := context.WithTimeout(ctx, h.opts.DispatchTimeout)
	defer cancel()

	start := time.Now()
	err := h.opts.Sender.Send(dctx, msg)
	metrics.RecordDispatch(time.Since(start), err)
	return err
}

// archive runs after a successful dispatch and is detached from the client's
// cancellation so a disconnect cannot drop the record
func (h *Handler) archive(ctx context.Context, log *slog.Logger, sub contact.Submission, meta contact.Meta, msg *mail.Message) {
	if h.opts.Archiver == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.DispatchTimeout)
	defer cancel()

	if err := h.opts.Archiver.Archive(actx, sub, meta, msg); err != nil {
		log.Error("failed to archive submission", slog.String("submission_id", meta.ID), slog.Any("error", err))
	}
}

// rejectInvalid validates sub and builds the 400 response when it fails
func (h *Handler) rejectInvalid(st *run, sub contact.Submission) (Response, bool) {
	report := h.validator.All(sub)
	if report.Valid {
		return Response{}, true
	}
	if _, bad := report.Errors[contact.FieldEmail]; bad {
		metrics.RecordSubmission(metrics.OutcomeInvalidEmail)
		return h.fail(st, http.StatusBadRequest, replyBody{Error: errInvalidEmail, Fields: report.Errors.Strings()}), false
	}
	metrics.RecordSubmission(metrics.OutcomeValidationFailed)
	return h.fail(st, http.StatusBadRequest, replyBody{Error: errValidation, Fields: report.Errors.Strings()}), false
}

func missing(sub contact.Submission) bool {
	for _, f := range contact.RequiredFields {
		if sub.Get(f) == "" {
			return true
		}
	}
	return false
}

func userAgent(h http.Header) string {
	ua := h.Get("User-Agent")
	if ua == "" {
		return "Unknown"
	}
	return contact.TruncateDiagnostic(ua)
}

func (h *Handler) fail(st *run, status int, body replyBody) Response {
	st.enter(StageError)
	return h.respond(st, status, &body)
}

func (h *Handler) respond(st *run, status int, body *replyBody) Response {
	st.enter(StageResponded)

	resp := Response{
		StatusCode: status,
		Headers:    h.headers(),
		Stage:      st.last,
		Trail:      st.trail,
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			raw = []byte(fmt.Sprintf(`{"error":%q}`, errInternal))
		}
		resp.Body = raw
	}
	return resp
}

// headers returns the fixed response header set
func (h *Handler) headers() http.Header {
	hdr := make(http.Header, 10)
	hdr.Set("Access-Control-Allow-Origin", h.opts.AllowedOrigin)
	hdr.Set("Access-Control-Allow-Headers", AllowedHeaders)
	hdr.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	hdr.Set("Content-Type", "application/json")
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("X-Frame-Options", "DENY")
	hdr.Set("X-XSS-Protection", "1; mode=block")
	hdr.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	if h.opts.AllowedOrigin != "*" {
		hdr.Set("Vary", "Origin")
	}
	return hdr
}

// SecurityHeaders returns the fixed header set for use outside Handle
func (h *Handler) SecurityHeaders() http.Header {
	return h.headers()
}
