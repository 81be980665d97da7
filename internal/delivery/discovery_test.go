package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDiscoverCSRFToken(t *testing.T) {
	page := []byte(`<html><head><meta charset="utf-8"><meta name="csrf-token" content="meta-tok"></head></html>`)
	cookies := []*http.Cookie{{Name: "csrf-token", Value: "cookie-tok"}}

	if got := DiscoverCSRFToken(page, cookies); got != "meta-tok" {
		t.Errorf("Expected meta tag to win, got %q", got)
	}
	if got := DiscoverCSRFToken([]byte(`<html></html>`), cookies); got != "cookie-tok" {
		t.Errorf("Expected cookie fallback, got %q", got)
	}
	if got := DiscoverCSRFToken(nil, nil); got != "" {
		t.Errorf("Expected no token, got %q", got)
	}
}

func TestFetchCSRFToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrf-token", Value: "from-cookie"})
		_, _ = w.Write([]byte(`<!doctype html><title>Contact</title>`))
	}))
	defer srv.Close()

	token, err := FetchCSRFToken(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("FetchCSRFToken failed: %v", err)
	}
	if token != "from-cookie" {
		t.Errorf("Expected cookie token, got %q", token)
	}

	if got := PageTokenSource(srv.Client(), srv.URL+"/%zz")(context.Background()); got != "" {
		t.Errorf("Expected empty token for bad URL, got %q", got)
	}
}

func TestChatURL(t *testing.T) {
	got := ChatURL("+91 98765-43210", "Hi! I'm Jane & co")
	want := "https://wa.me/919876543210?text=Hi%21%20I%27m%20Jane%20%26%20co"
	if got != want {
		t.Errorf("ChatURL = %q, expected %q", got, want)
	}
	if CallURL("+919876543210") != "tel:+919876543210" {
		t.Error("Unexpected call URL")
	}
}

func TestChatMessage(t *testing.T) {
	if got := ChatMessage("", "default"); got != "default" {
		t.Errorf("Expected default message, got %q", got)
	}
	want := "Hi! I'm Jane and I found your website. I'd like to know more about your services."
	if got := ChatMessage(" Jane ", "default"); got != want {
		t.Errorf("ChatMessage = %q, expected %q", got, want)
	}
}
