// Package mail composes contact notifications and hands them to an SMTP
// transport.
package mail

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"
)

// MaxHeaderLength bounds a single header value
const MaxHeaderLength = 1000

// Message is a composed notification ready for transport
type Message struct {
	ID        string
	From      mail.Address
	To        []mail.Address
	ReplyTo   *mail.Address
	Subject   string
	HTML      string
	Text      string
	Date      time.Time
	MessageID string
}

// EnvelopeFrom returns the SMTP MAIL FROM address
func (m *Message) EnvelopeFrom() string {
	return m.From.Address
}

// Recipients returns the SMTP RCPT TO addresses
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To))
	for _, a := range m.To {
		out = append(out, a.Address)
	}
	return out
}

// SanitizeHeaderValue removes CR and LF so a value cannot start a new header,
// and truncates it to MaxHeaderLength bytes on a rune boundary
func SanitizeHeaderValue(value string) string {
	value = strings.ReplaceAll(value, "\r\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")

	if len(value) > MaxHeaderLength {
		cut := MaxHeaderLength
		for cut > 0 && !isRuneStart(value[cut]) {
			cut--
		}
		value = value[:cut]
	}
	return value
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Bytes renders the message as RFC 5322 multipart/alternative
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the MIME encoded message to w
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []struct{ key, value string }{
		{"From", m.From.String()},
		{"To", joinAddresses(m.To)},
	}
	if m.ReplyTo != nil {
		headers = append(headers, struct{ key, value string }{"Reply-To", m.ReplyTo.String()})
	}
	headers = append(headers, []struct{ key, value string }{
		{"Subject", mime.QEncoding.Encode("utf-8", SanitizeHeaderValue(m.Subject))},
		{"Date", m.Date.Format(time.RFC1123Z)},
		{"Message-ID", SanitizeHeaderValue(m.MessageID)},
		{"MIME-Version", "1.0"},
		{"Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary())},
	}...)

	for _, h := range headers {
		if h.value == "" {
			continue
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", h.key, h.value)
	}
	buf.WriteString("\r\n")

	if err := writePart(mw, "text/plain; charset=utf-8", m.Text); err != nil {
		return 0, fmt.Errorf("write text part: %w", err)
	}
	if err := writePart(mw, "text/html; charset=utf-8", m.HTML); err != nil {
		return 0, fmt.Errorf("write html part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("close multipart: %w", err)
	}

	return buf.WriteTo(w)
}

func writePart(mw *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

func joinAddresses(addrs []mail.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}
