package delivery

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// ChatURL builds a wa.me link that opens a chat with message prefilled
func ChatURL(number, message string) string {
	digits := nonDigits.ReplaceAllString(number, "")
	return "https://wa.me/" + digits + "?text=" + encodeURIComponent(message)
}

// CallURL builds a tel: link for number
func CallURL(number string) string {
	return "tel:" + number
}

// ChatMessage personalises the opening message when the submitter's name is
// known and falls back to defaultMessage otherwise
func ChatMessage(name, defaultMessage string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultMessage
	}
	return fmt.Sprintf("Hi! I'm %s and I found your website. I'd like to know more about your services.", name)
}

// encodeURIComponent escapes like the browser function: spaces become %20
func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
