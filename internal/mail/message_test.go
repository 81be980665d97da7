package mail

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"
)

func TestMessage_Bytes(t *testing.T) {
	c := testComposer(t)
	msg, err := c.Compose(validSubmission(), testMeta())
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(parsed.Header.Get("Subject"))
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if subject != msg.Subject {
		t.Errorf("Expected subject %q, got %q", msg.Subject, subject)
	}

	from, err := parsed.Header.AddressList("From")
	if err != nil || len(from) != 1 || from[0].Address != "mailer@zifr.one" || from[0].Name != DefaultFromName {
		t.Errorf("Unexpected From header %v (%v)", from, err)
	}
	replyTo, err := parsed.Header.AddressList("Reply-To")
	if err != nil || len(replyTo) != 1 || replyTo[0].Address != "jane@example.com" {
		t.Errorf("Unexpected Reply-To header %v (%v)", replyTo, err)
	}
	if parsed.Header.Get("Message-ID") != msg.MessageID {
		t.Errorf("Unexpected Message-ID %q", parsed.Header.Get("Message-ID"))
	}
	if _, err := parsed.Header.Date(); err != nil {
		t.Errorf("Expected parseable Date header: %v", err)
	}

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/alternative" {
		t.Fatalf("Unexpected content type %q (%v)", mediaType, err)
	}

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	var parts []string
	var bodies []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart failed: %v", err)
		}
		parts = append(parts, p.Header.Get("Content-Type"))

		// multipart.Reader decodes quoted-printable parts transparently;
		// decode manually only if the header survived
		var r io.Reader = p
		if p.Header.Get("Content-Transfer-Encoding") == "quoted-printable" {
			r = quotedprintable.NewReader(p)
		}
		body, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll failed: %v", err)
		}
		bodies = append(bodies, strings.ReplaceAll(string(body), "\r\n", "\n"))
	}

	if len(parts) != 2 || !strings.HasPrefix(parts[0], "text/plain") || !strings.HasPrefix(parts[1], "text/html") {
		t.Fatalf("Unexpected parts %v", parts)
	}
	if bodies[0] != msg.Text {
		t.Errorf("Text part mismatch:\n%q\n%q", bodies[0], msg.Text)
	}
	if bodies[1] != strings.ReplaceAll(msg.HTML, "\r\n", "\n") {
		t.Errorf("HTML part mismatch")
	}
}

func TestMessage_HeaderInjectionNeutralised(t *testing.T) {
	msg := &Message{
		From:      mail.Address{Address: "a@example.com"},
		To:        []mail.Address{{Address: "b@example.com"}},
		Subject:   "Hi\r\nBcc: victim@example.com",
		MessageID: "<id@example.com>\r\nX-Injected: 1",
	}

	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if parsed.Header.Get("Bcc") != "" || parsed.Header.Get("X-Injected") != "" {
		t.Errorf("Expected no injected headers, got %v", parsed.Header)
	}
}
