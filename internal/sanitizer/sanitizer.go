// Package sanitizer strips markup and script vectors from free-text form input
// before it is transmitted, stored, or embedded in an outgoing message.
//
// Sanitize is total and idempotent: every rule only removes text, and the
// rules are reapplied until the output stops changing, so a second pass over
// sanitized text is a no-op.
package sanitizer

import (
	"regexp"
	"strings"

	"github.com/zifrone/contact/internal/contact"
)

// DefaultMaxLength is the rune limit applied to every sanitized value
const DefaultMaxLength = 10000

var (
	scriptBlockRegex    = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	tagRegex            = regexp.MustCompile(`<[^>]*>`)
	danglingScriptRegex = regexp.MustCompile(`(?i)<script`)
	javascriptURIRegex  = regexp.MustCompile(`(?i)javascript:`)
	vbscriptURIRegex    = regexp.MustCompile(`(?i)vbscript:`)
	eventHandlerRegex   = regexp.MustCompile(`(?i)on\w+\s*=`)
	dataURIRegex        = regexp.MustCompile(`(?i)data:`)
)

// Sanitizer cleans a single free-text value
type Sanitizer interface {
	Sanitize(input string) string
}

// TextSanitizer implements Sanitizer with regex rules
type TextSanitizer struct {
	maxLength int
}

// New creates the full sanitizer: markup removal plus script scheme and
// inline event handler filtering
func New() *TextSanitizer {
	return &TextSanitizer{maxLength: DefaultMaxLength}
}

// WithMaxLength returns a copy with a different rune limit
func (s *TextSanitizer) WithMaxLength(n int) *TextSanitizer {
	c := *s
	if n > 0 {
		c.maxLength = n
	}
	return &c
}

var defaultSanitizer = New()

// Sanitize applies the full rule set with the default limit
func Sanitize(input string) string {
	return defaultSanitizer.Sanitize(input)
}

// Submission sanitizes every field of a submission with the full rule set
func Submission(sub contact.Submission) contact.Submission {
	return defaultSanitizer.Submission(sub)
}

// Sanitize runs the rule set to a fixed point. Invalid UTF-8 is dropped.
func (s *TextSanitizer) Sanitize(input string) string {
	if input == "" {
		return ""
	}

	result := strings.ToValidUTF8(input, "")
	for {
		next := s.pass(result)
		if next == result {
			return result
		}
		result = next
	}
}

// Submission sanitizes every field of sub
func (s *TextSanitizer) Submission(sub contact.Submission) contact.Submission {
	return sub.Map(func(_ contact.Field, v string) string { return s.Sanitize(v) })
}

func (s *TextSanitizer) pass(input string) string {
	result := strings.TrimSpace(input)
	result = RemoveScripts(result)
	result = StripTags(result)
	result = RemoveScriptSchemes(result)
	result = RemoveEventHandlers(result)
	result = RemoveDataURIs(result)
	return contact.Truncate(result, s.maxLength)
}

// RemoveScripts removes script blocks with their content and any leftover
// opening fragment
func RemoveScripts(input string) string {
	result := scriptBlockRegex.ReplaceAllString(input, "")
	return danglingScriptRegex.ReplaceAllString(result, "")
}

// StripTags removes every tag-like sequence
func StripTags(input string) string {
	return tagRegex.ReplaceAllString(input, "")
}

// RemoveScriptSchemes removes javascript: and vbscript: scheme prefixes
func RemoveScriptSchemes(input string) string {
	result := javascriptURIRegex.ReplaceAllString(input, "")
	return vbscriptURIRegex.ReplaceAllString(result, "")
}

// RemoveEventHandlers removes inline handler assignments such as onclick=
func RemoveEventHandlers(input string) string {
	return eventHandlerRegex.ReplaceAllString(input, "")
}

// RemoveDataURIs removes data: prefixes unless they introduce an image
func RemoveDataURIs(input string) string {
	locs := dataURIRegex.FindAllStringIndex(input, -1)
	if len(locs) == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input))
	last := 0
	for _, loc := range locs {
		if hasPrefixFold(input[loc[1]:], "image/") {
			continue
		}
		b.WriteString(input[last:loc[0]])
		last = loc[1]
	}
	b.WriteString(input[last:])
	return b.String()
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
