package ratelimit

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// UnknownIdentity is used when no client address can be determined
const UnknownIdentity = "unknown"

// FingerprintPrefix namespaces client-side fingerprint keys
const FingerprintPrefix = "contact_form_"

const (
	fingerprintLength = 32
	maxUserAgentInput = 100
)

// ClientIP derives the server-side identity from a request. With
// trustForwarded set it prefers the first X-Forwarded-For hop, then
// X-Real-IP. It falls back to the remote address host.
func ClientIP(h http.Header, remoteAddr string, trustForwarded bool) string {
	if trustForwarded {
		if xff := h.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(h.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	remoteAddr = strings.TrimSpace(remoteAddr)
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil && host != "" {
		return host
	}
	if remoteAddr != "" {
		return remoteAddr
	}
	return UnknownIdentity
}

// Fingerprint derives the client-side identity from browser traits. It is a
// low-entropy deterrent key, not an authenticator.
func Fingerprint(userAgent string, width, height int, timezone string) string {
	if len(userAgent) > maxUserAgentInput {
		userAgent = userAgent[:maxUserAgentInput]
	}
	raw := fmt.Sprintf("%s_%dx%d_%s", userAgent, width, height, timezone)

	sum := blake2b.Sum256([]byte(raw))
	encoded := base64.RawURLEncoding.EncodeToString(sum[:])
	return FingerprintPrefix + encoded[:fingerprintLength]
}

// HashIdentity returns a hex digest of an identity for storage outside the
// limiter, so raw client addresses are not persisted
func HashIdentity(identity string) string {
	sum := blake2b.Sum256([]byte(identity))
	return fmt.Sprintf("%x", sum[:16])
}
