package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zifrone/contact/internal/config"
	"github.com/zifrone/contact/internal/contact"
	"github.com/zifrone/contact/internal/logger"
	"github.com/zifrone/contact/internal/validation"
)

type recorded struct {
	path   string
	header http.Header
	body   []byte
}

type fakeEndpoints struct {
	mu       sync.Mutex
	requests []recorded
	status   map[string]int
	hang     map[string]bool
}

func (f *fakeEndpoints) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{path: r.URL.Path, header: r.Header.Clone(), body: body})
	status, ok := f.status[r.URL.Path]
	hang := f.hang[r.URL.Path]
	f.mu.Unlock()

	if hang {
		<-r.Context().Done()
		return
	}
	if !ok {
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusOK {
		_, _ = w.Write([]byte(`{"success":true,"message":"Message sent successfully"}`))
		return
	}
	_, _ = w.Write([]byte(`{"error":"Internal server error"}`))
}

func (f *fakeEndpoints) Requests() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

func newFake(primary, fallback int) (*fakeEndpoints, *httptest.Server) {
	f := &fakeEndpoints{
		status: map[string]int{"/primary": primary, "/fallback": fallback},
		hang:   map[string]bool{},
	}
	return f, httptest.NewServer(f)
}

func testConfig(baseURL string) config.ClientConfig {
	cfg := config.DefaultClientConfig()
	cfg.BaseURL = baseURL
	cfg.PrimaryEndpoint = "/primary"
	cfg.FallbackEndpoint = "/fallback"
	cfg.Timeout = 2 * time.Second
	return cfg
}

func newTestClient(t *testing.T, cfg config.ClientConfig, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithLogger(logger.Discard()),
		WithEnvironment(Environment{UserAgent: "test-agent/1.0", Referer: "https://zifr.one/contact", ScreenWidth: 1920, ScreenHeight: 1080, Timezone: "Asia/Kolkata"}),
	}, opts...)
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func validSubmission() contact.Submission {
	return contact.Submission{
		Name:    "Jane Doe",
		Email:   "jane@example.com",
		Subject: "Project inquiry",
		Message: "I would like to discuss a new project with you.",
	}
}

func TestSubmit_PrimarySuccess(t *testing.T) {
	f, srv := newFake(http.StatusOK, http.StatusOK)
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL), WithTokenSource(StaticToken("tok-123")))
	ack, err := c.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if ack.UsedFallback {
		t.Error("Expected primary to be used")
	}
	if ack.Message != "Message sent successfully" {
		t.Errorf("Unexpected message %q", ack.Message)
	}

	reqs := f.Requests()
	if len(reqs) != 1 || reqs[0].path != "/primary" {
		t.Fatalf("Expected a single primary request, got %+v", reqs)
	}

	h := reqs[0].header
	if h.Get(HeaderRequestedWith) != "XMLHttpRequest" {
		t.Errorf("Missing X-Requested-With")
	}
	if h.Get(HeaderClientVersion) != "1.0.0" {
		t.Errorf("Unexpected client version %q", h.Get(HeaderClientVersion))
	}
	if _, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64); err != nil {
		t.Errorf("Expected numeric timestamp, got %q", h.Get(HeaderTimestamp))
	}
	if _, err := uuid.Parse(h.Get(HeaderRequestID)); err != nil {
		t.Errorf("Expected UUID request id, got %q", h.Get(HeaderRequestID))
	}
	if h.Get("X-CSRF-Token") != "tok-123" {
		t.Errorf("Expected CSRF token header, got %q", h.Get("X-CSRF-Token"))
	}

	var payload contact.Payload
	if err := json.Unmarshal(reqs[0].body, &payload); err != nil {
		t.Fatalf("Expected JSON payload: %v", err)
	}
	if payload.Name != "Jane Doe" || payload.Email != "jane@example.com" {
		t.Errorf("Unexpected payload %+v", payload)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(payload.SessionID) {
		t.Errorf("Expected 32 hex session id, got %q", payload.SessionID)
	}
	if payload.SessionID != ack.SessionID {
		t.Error("Expected ack to carry the session id")
	}
	if payload.FormVersion != "1.0" || payload.UserAgent != "test-agent/1.0" {
		t.Errorf("Unexpected diagnostics %+v", payload)
	}
}

func TestSubmit_NoTokenHeaderWithoutSource(t *testing.T) {
	f, srv := newFake(http.StatusOK, http.StatusOK)
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))
	if _, err := c.Submit(context.Background(), validSubmission()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if f.Requests()[0].header.Get("X-CSRF-Token") != "" {
		t.Error("Expected no CSRF header")
	}
}

func TestSubmit_FallbackOnServerError(t *testing.T) {
	f, srv := newFake(http.StatusInternalServerError, http.StatusOK)
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))
	ack, err := c.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Expected overall success, got %v", err)
	}
	if !ack.UsedFallback {
		t.Error("Expected fallback to be used")
	}

	reqs := f.Requests()
	if len(reqs) != 2 || reqs[0].path != "/primary" || reqs[1].path != "/fallback" {
		t.Fatalf("Expected primary then fallback, got %d requests", len(reqs))
	}
	if string(reqs[0].body) != string(reqs[1].body) {
		t.Error("Expected the same payload on both attempts")
	}
	if reqs[0].header.Get(HeaderRequestID) == reqs[1].header.Get(HeaderRequestID) {
		t.Error("Expected a fresh request id per attempt")
	}
}

func TestSubmit_BothFail(t *testing.T) {
	f, srv := newFake(http.StatusInternalServerError, http.StatusBadGateway)
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))
	sub := validSubmission()
	before := sub

	_, err := c.Submit(context.Background(), sub)
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected *DeliveryError, got %v", err)
	}
	if derr.Primary.StatusCode != http.StatusInternalServerError || derr.Fallback.StatusCode != http.StatusBadGateway {
		t.Errorf("Unexpected attempt errors %v / %v", derr.Primary, derr.Fallback)
	}
	if !strings.HasPrefix(derr.AlternateURL, "https://wa.me/919876543210?text=") {
		t.Errorf("Unexpected alternate URL %q", derr.AlternateURL)
	}
	if !strings.Contains(derr.AlternateURL, "Jane%20Doe") {
		t.Errorf("Expected personalised message in %q", derr.AlternateURL)
	}
	if sub != before {
		t.Error("Submission must not be mutated")
	}
	if len(f.Requests()) != 2 {
		t.Errorf("Expected exactly two attempts, got %d", len(f.Requests()))
	}
}

func TestSubmit_Timeout(t *testing.T) {
	f, srv := newFake(http.StatusOK, http.StatusOK)
	f.hang["/primary"] = true
	f.hang["/fallback"] = true
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	c := newTestClient(t, cfg)

	_, err := c.Submit(context.Background(), validSubmission())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout in chain, got %v", err)
	}
}

func TestSubmit_NetworkFailureFallsBack(t *testing.T) {
	f, srv := newFake(http.StatusOK, http.StatusOK)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.PrimaryEndpoint = "http://127.0.0.1:1/unreachable"
	c := newTestClient(t, cfg)

	ack, err := c.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Expected fallback success, got %v", err)
	}
	if !ack.UsedFallback || len(f.Requests()) != 1 {
		t.Errorf("Expected only the fallback to be reached")
	}
}

func TestSubmit_ValidationShortCircuits(t *testing.T) {
	f, srv := newFake(http.StatusOK, http.StatusOK)
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))
	sub := validSubmission()
	sub.Email = "user@mailinator.com"
	sub.Name = "J"

	_, err := c.Submit(context.Background(), sub)
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("Expected validation.Errors, got %v", err)
	}
	if _, ok := verrs[contact.FieldEmail]; !ok {
		t.Error("Expected email error")
	}
	if _, ok := verrs[contact.FieldName]; !ok {
		t.Error("Expected name error")
	}
	if len(f.Requests()) != 0 {
		t.Error("Expected no network call")
	}
}

func TestSubmit_RevalidatesSanitizedValues(t *testing.T) {
	f, srv := newFake(http.StatusOK, http.StatusOK)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RateLimit.Requests = 1
	c := newTestClient(t, cfg)

	sub := validSubmission()
	sub.Message = "<b>hello</b> x"

	_, err := c.Submit(context.Background(), sub)
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("Expected validation.Errors, got %v", err)
	}
	if _, ok := verrs[contact.FieldMessage]; !ok {
		t.Errorf("Expected message error, got %v", verrs)
	}
	if len(f.Requests()) != 0 {
		t.Errorf("Expected no network call, got %d", len(f.Requests()))
	}

	// A field error does not use up the local rate limit
	if _, err := c.Submit(context.Background(), validSubmission()); err != nil {
		t.Errorf("Expected corrected submission to succeed, got %v", err)
	}
}

func TestSubmit_RateLimited(t *testing.T) {
	f, srv := newFake(http.StatusOK, http.StatusOK)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RateLimit.Requests = 2
	c := newTestClient(t, cfg)

	for i := 0; i < 2; i++ {
		if _, err := c.Submit(context.Background(), validSubmission()); err != nil {
			t.Fatalf("Submit %d failed: %v", i+1, err)
		}
	}
	if _, err := c.Submit(context.Background(), validSubmission()); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
	if len(f.Requests()) != 2 {
		t.Errorf("Expected the denied submission to make no call, got %d requests", len(f.Requests()))
	}
}

func TestSubmit_SanitizesBeforeSending(t *testing.T) {
	f, srv := newFake(http.StatusOK, http.StatusOK)
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))
	sub := validSubmission()
	sub.Message = "Hello <script>alert(1)</script><b>there</b>, let us talk soon."

	if _, err := c.Submit(context.Background(), sub); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var payload contact.Payload
	_ = json.Unmarshal(f.Requests()[0].body, &payload)
	if strings.Contains(strings.ToLower(payload.Message), "<script") || strings.Contains(payload.Message, "<b>") {
		t.Errorf("Expected sanitized message, got %q", payload.Message)
	}
	if payload.Message != "Hello there, let us talk soon." {
		t.Errorf("Unexpected sanitized message %q", payload.Message)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.Timeout = 0
	if _, err := New(cfg); err == nil {
		t.Error("Expected invalid config to be rejected")
	}
}
