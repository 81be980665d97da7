package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/zifrone/contact/internal/csrf"
)

const maxPageBytes = 1 << 20

// TokenSource yields the CSRF token to attach, or "" when none is known
type TokenSource func(ctx context.Context) string

// StaticToken returns a TokenSource for a fixed token
func StaticToken(token string) TokenSource {
	return func(context.Context) string { return token }
}

// DiscoverCSRFToken looks for <meta name="csrf-token"> in page, then for a
// csrf-token cookie
func DiscoverCSRFToken(page []byte, cookies []*http.Cookie) string {
	if token := metaToken(page); token != "" {
		return token
	}
	for _, c := range cookies {
		if c.Name == csrf.CookieName && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

func metaToken(page []byte) string {
	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "meta" {
				continue
			}
			var name, content string
			for _, a := range tok.Attr {
				switch strings.ToLower(a.Key) {
				case "name":
					name = a.Val
				case "content":
					content = a.Val
				}
			}
			if strings.EqualFold(name, csrf.MetaName) {
				return content
			}
		}
	}
}

// PageTokenSource fetches pageURL on every call and discovers a token in it.
// Failures yield no token.
func PageTokenSource(client *http.Client, pageURL string) TokenSource {
	return func(ctx context.Context) string {
		token, err := FetchCSRFToken(ctx, client, pageURL)
		if err != nil {
			return ""
		}
		return token
	}
}

// FetchCSRFToken loads the host page and runs DiscoverCSRFToken on it
func FetchCSRFToken(ctx context.Context, client *http.Client, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("csrf page request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("csrf page fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("csrf page fetch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("csrf page read: %w", err)
	}
	return DiscoverCSRFToken(body, resp.Cookies()), nil
}
