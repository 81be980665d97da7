package ratelimit

import (
	"net/http"
	"strings"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		trust   bool
		want    string
	}{
		{"first forwarded hop", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", true, "203.0.113.7"},
		{"real ip fallback", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", true, "198.51.100.4"},
		{"forwarded ignored when untrusted", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "10.0.0.2:1234", false, "10.0.0.2"},
		{"remote addr host", nil, "192.0.2.1:5555", true, "192.0.2.1"},
		{"remote addr without port", nil, "192.0.2.1", true, "192.0.2.1"},
		{"ipv6 remote", nil, "[2001:db8::1]:443", true, "2001:db8::1"},
		{"blank forwarded", map[string]string{"X-Forwarded-For": " , 10.0.0.1"}, "192.0.2.1:1", true, "192.0.2.1"},
		{"unknown", nil, "", true, UnknownIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := ClientIP(h, tt.remote, tt.trust); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("Mozilla/5.0", 1920, 1080, "Asia/Kolkata")
	b := Fingerprint("Mozilla/5.0", 1920, 1080, "Asia/Kolkata")
	if a != b {
		t.Error("Expected fingerprint to be deterministic")
	}
	if !strings.HasPrefix(a, FingerprintPrefix) {
		t.Errorf("Expected prefix %q, got %q", FingerprintPrefix, a)
	}
	if len(a) != len(FingerprintPrefix)+32 {
		t.Errorf("Expected 32 encoded characters, got %q", a)
	}

	if c := Fingerprint("Mozilla/5.0", 1280, 720, "Asia/Kolkata"); c == a {
		t.Error("Expected different screen size to change the fingerprint")
	}

	// Only the first 100 characters of the user agent contribute
	long := strings.Repeat("x", 100)
	if Fingerprint(long+"tail1", 1, 1, "UTC") != Fingerprint(long+"tail2", 1, 1, "UTC") {
		t.Error("Expected user agent to be cut at 100 characters")
	}
}

func TestHashIdentity(t *testing.T) {
	h := HashIdentity("203.0.113.7")
	if len(h) != 32 {
		t.Errorf("Expected 32 hex characters, got %d", len(h))
	}
	if h == "203.0.113.7" {
		t.Error("Expected identity to be hashed")
	}
	if h != HashIdentity("203.0.113.7") {
		t.Error("Expected hash to be deterministic")
	}
}
