// Package contact defines the submission entity that flows through the
// contact-form pipeline, shared by the browser-side delivery client and the
// server-side intake handler.
package contact

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Field identifies a user-supplied form field by its wire name
type Field string

const (
	FieldName     Field = "name"
	FieldEmail    Field = "email"
	FieldCompany  Field = "company"
	FieldWhatsApp Field = "whatsapp"
	FieldSubject  Field = "subject"
	FieldMessage  Field = "message"
)

// Fields lists every user-supplied field in form order
var Fields = []Field{FieldName, FieldEmail, FieldCompany, FieldWhatsApp, FieldSubject, FieldMessage}

// RequiredFields lists the fields a submission cannot omit
var RequiredFields = []Field{FieldName, FieldEmail, FieldSubject, FieldMessage}

// IsOptional reports whether the field may be left empty
func (f Field) IsOptional() bool {
	return f == FieldCompany || f == FieldWhatsApp
}

// MaxDiagnosticLength bounds user agent and referer strings
const MaxDiagnosticLength = 200

// Submission is the user-entered part of a contact request.
// JSON tags match the wire format accepted by the intake endpoint.
type Submission struct {
	Name     string `json:"name" validate:"required,min=2,max=100,person_name"`
	Email    string `json:"email" validate:"required,max=254,contact_email,not_disposable"`
	Company  string `json:"company,omitempty" validate:"omitempty,min=2,max=100"`
	WhatsApp string `json:"whatsapp,omitempty" validate:"omitempty,max=20,phone_intl"`
	Subject  string `json:"subject" validate:"required,min=5,max=200"`
	Message  string `json:"message" validate:"required,min=10,max=2000"`
}

// Get returns the value of a field
func (s Submission) Get(f Field) string {
	switch f {
	case FieldName:
		return s.Name
	case FieldEmail:
		return s.Email
	case FieldCompany:
		return s.Company
	case FieldWhatsApp:
		return s.WhatsApp
	case FieldSubject:
		return s.Subject
	case FieldMessage:
		return s.Message
	}
	return ""
}

// Set assigns the value of a field. Unknown fields are ignored.
func (s *Submission) Set(f Field, value string) {
	switch f {
	case FieldName:
		s.Name = value
	case FieldEmail:
		s.Email = value
	case FieldCompany:
		s.Company = value
	case FieldWhatsApp:
		s.WhatsApp = value
	case FieldSubject:
		s.Subject = value
	case FieldMessage:
		s.Message = value
	}
}

// Map applies fn to every field and returns the resulting submission
func (s Submission) Map(fn func(Field, string) string) Submission {
	var out Submission
	for _, f := range Fields {
		out.Set(f, fn(f, s.Get(f)))
	}
	return out
}

// Trimmed returns a copy with surrounding whitespace removed from every field
func (s Submission) Trimmed() Submission {
	return s.Map(func(_ Field, v string) string { return strings.TrimSpace(v) })
}

// IsZero reports whether every field is empty
func (s Submission) IsZero() bool {
	return s == Submission{}
}

// Meta carries server-assigned facts about a submission.
// ClientIdentity is derived by the server and never read from the body.
type Meta struct {
	ID             string
	ReceivedAt     time.Time
	ClientIdentity string
	UserAgent      string
	Referer        string
}

// Timestamp returns the receipt time in ISO-8601 (UTC, millisecond precision)
func (m Meta) Timestamp() string {
	return m.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Payload is the JSON body the delivery client posts. The diagnostic fields
// are informational only: the intake handler recomputes its own.
type Payload struct {
	Submission
	Timestamp   string `json:"timestamp,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	Referer     string `json:"referer,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	FormVersion string `json:"formVersion,omitempty"`
}

// TruncateDiagnostic cuts a diagnostic string to MaxDiagnosticLength runes
func TruncateDiagnostic(s string) string {
	return Truncate(s, MaxDiagnosticLength)
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
