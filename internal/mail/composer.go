package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/zifrone/contact/internal/contact"
)

const (
	// DefaultSubjectPrefix is prepended to the submitter's subject
	DefaultSubjectPrefix = "[Contact Form] "
	// DefaultFromName is the display name on outgoing notifications
	DefaultFromName = "Zifr.one Contact Form"
)

// ComposerConfig holds the fixed addressing of outgoing notifications
type ComposerConfig struct {
	FromName      string
	FromAddress   string
	To            string
	SubjectPrefix string
}

// Composer builds notification messages from sanitized submissions
type Composer struct {
	cfg    ComposerConfig
	tmpl   *template.Template
	policy *bluemonday.Policy
}

// field is one labelled row in the rendered body
type field struct {
	Label string
	Value string
	Href  string
}

type bodyData struct {
	Fields    []field
	Message   string
	Submitted string
	Client    string
	UserAgent string
}

var funcs = template.FuncMap{
	"nl2br": func(s string) template.HTML {
		escaped := template.HTMLEscapeString(s)
		escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
		return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
	},
}

const bodyTemplate = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
<h2 style="color: #1f2937; border-bottom: 2px solid #3b82f6; padding-bottom: 8px;">New Contact Form Submission</h2>
{{- range .Fields}}
<div style="margin-bottom: 12px;"><strong>{{.Label}}:</strong> {{if .Href}}<a href="{{.Href}}">{{.Value}}</a>{{else}}{{.Value}}{{end}}</div>
{{- end}}
<div style="margin-bottom: 12px;"><strong>Message:</strong></div>
<div style="background: #f3f4f6; padding: 12px; border-radius: 4px;">{{nl2br .Message}}</div>
<p style="color: #6b7280; font-size: 12px;">Submitted: {{.Submitted}}</p>
<p style="color: #9ca3af; font-size: 11px;">IP: {{.Client}} | User Agent: {{.UserAgent}}</p>
</div>`

// NewComposer creates a Composer. FromAddress and To are required.
func NewComposer(cfg ComposerConfig) (*Composer, error) {
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("composer: from address is required")
	}
	if cfg.To == "" {
		return nil, fmt.Errorf("composer: recipient address is required")
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}

	tmpl, err := template.New("body").Funcs(funcs).Parse(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("composer: parse template: %w", err)
	}

	policy := bluemonday.UGCPolicy()
	policy.AllowElements("div", "h2", "p", "strong", "br", "a")
	policy.AllowAttrs("style").Globally()
	policy.AllowURLSchemes("mailto", "https")

	return &Composer{cfg: cfg, tmpl: tmpl, policy: policy}, nil
}

// Subject returns the notification subject for a submitter's subject line
func (c *Composer) Subject(subject string) string {
	return SanitizeHeaderValue(c.cfg.SubjectPrefix + subject)
}

// Compose renders the notification for a sanitized, validated submission.
// Optional fields are left out entirely when empty.
func (c *Composer) Compose(sub contact.Submission, meta contact.Meta) (*Message, error) {
	data := bodyData{
		Fields:    fields(sub),
		Message:   sub.Message,
		Submitted: meta.Timestamp(),
		Client:    meta.ClientIdentity,
		UserAgent: meta.UserAgent,
	}

	var html bytes.Buffer
	if err := c.tmpl.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("compose html: %w", err)
	}

	date := meta.ReceivedAt
	if date.IsZero() {
		date = time.Now()
	}

	msg := &Message{
		ID:      meta.ID,
		From:    mail.Address{Name: c.cfg.FromName, Address: c.cfg.FromAddress},
		To:      []mail.Address{{Address: c.cfg.To}},
		Subject: c.Subject(sub.Subject),
		HTML:    c.policy.Sanitize(html.String()),
		Text:    renderText(data),
		Date:    date,
	}
	if sub.Email != "" {
		msg.ReplyTo = &mail.Address{Name: SanitizeHeaderValue(sub.Name), Address: SanitizeHeaderValue(sub.Email)}
	}
	if meta.ID != "" {
		msg.MessageID = fmt.Sprintf("<%s@%s>", meta.ID, domainOf(c.cfg.FromAddress))
	}
	return msg, nil
}

func fields(sub contact.Submission) []field {
	out := []field{
		{Label: "Name", Value: sub.Name},
		{Label: "Email", Value: sub.Email, Href: "mailto:" + sub.Email},
	}
	if sub.Company != "" {
		out = append(out, field{Label: "Company", Value: sub.Company})
	}
	if sub.WhatsApp != "" {
		out = append(out, field{Label: "WhatsApp", Value: sub.WhatsApp})
	}
	return append(out, field{Label: "Subject", Value: sub.Subject})
}

func renderText(d bodyData) string {
	var b strings.Builder
	b.WriteString("New Contact Form Submission\n\n")
	for _, f := range d.Fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Label, f.Value)
	}
	fmt.Fprintf(&b, "\nMessage:\n%s\n\n", d.Message)
	fmt.Fprintf(&b, "Submitted: %s\n", d.Submitted)
	fmt.Fprintf(&b, "IP: %s\nUser Agent: %s\n", d.Client, d.UserAgent)
	return b.String()
}

func domainOf(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return "localhost"
}
