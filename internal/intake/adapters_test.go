package intake

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

func TestServeHTTP(t *testing.T) {
	sender := &fakeSender{}
	h := newTestHandler(t, sender)
	srv := httptest.NewServer(h)
	defer srv.Close()

	raw, _ := json.Marshal(validBody())
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/send-contact-message", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("Expected security headers on the wire")
	}
	var b replyBody
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil || !b.Success {
		t.Errorf("Unexpected body %+v (%v)", b, err)
	}
	if !strings.Contains(sender.sent[0].Text, "203.0.113.50") {
		t.Error("Expected first forwarded hop as client identity")
	}
}

func TestServeHTTP_Options(t *testing.T) {
	h := newTestHandler(t, &fakeSender{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/send-contact-message", nil))

	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("Expected empty 200, got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Headers") != AllowedHeaders {
		t.Errorf("Unexpected allow headers %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestServeHTTP_TooLarge(t *testing.T) {
	h := newTestHandler(t, &fakeSender{}, func(o *Options) { o.MaxBodyBytes = 32 })
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"name":"` + strings.Repeat("a", 100) + `"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send-contact-message", body))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
}

func TestLambdaAdapter(t *testing.T) {
	sender := &fakeSender{}
	adapter := NewLambdaAdapter(newTestHandler(t, sender))

	raw, _ := json.Marshal(validBody())
	event := events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/.netlify/functions/send-contact-message",
		Headers:    map[string]string{"content-type": "application/json", "x-forwarded-for": "198.51.100.20"},
		Body:       string(raw),
		RequestContext: events.APIGatewayProxyRequestContext{
			RequestID: "req-abc",
			Identity:  events.APIGatewayRequestIdentity{SourceIP: "10.1.1.1"},
		},
	}

	out, err := adapter.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if out.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", out.StatusCode, out.Body)
	}
	if out.Headers["X-Content-Type-Options"] != "nosniff" || out.Headers["Access-Control-Allow-Origin"] != "*" {
		t.Errorf("Unexpected headers %v", out.Headers)
	}
	if !strings.Contains(sender.sent[0].Text, "198.51.100.20") {
		t.Error("Expected forwarded address as identity")
	}
}

func TestLambdaAdapter_Base64AndMethods(t *testing.T) {
	sender := &fakeSender{}
	adapter := NewLambdaAdapter(newTestHandler(t, sender))

	raw, _ := json.Marshal(validBody())
	out, _ := adapter.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:      http.MethodPost,
		Body:            base64.StdEncoding.EncodeToString(raw),
		IsBase64Encoded: true,
	})
	if out.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for base64 body, got %d: %s", out.StatusCode, out.Body)
	}

	out, _ = adapter.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodOptions})
	if out.StatusCode != http.StatusOK || out.Body != "" {
		t.Errorf("Expected empty 200 for OPTIONS, got %d %q", out.StatusCode, out.Body)
	}

	out, _ = adapter.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet})
	if out.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", out.StatusCode)
	}

	out, _ = adapter.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodPost, Body: "%%%", IsBase64Encoded: true})
	if out.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for undecodable body, got %d", out.StatusCode)
	}
}
