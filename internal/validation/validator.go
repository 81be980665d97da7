// Package validation holds the field rules shared by the delivery client and
// the intake handler. Both sides call the same functions so a submission that
// passes in the browser passes on the server and vice versa.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zifrone/contact/internal/contact"
)

const (
	// MaxEmailLength is the maximum total address length
	MaxEmailLength = 254
	// MaxLocalPartLength is the maximum local part length per RFC 5321
	MaxLocalPartLength = 64
	// MaxDomainLength is the maximum domain length per RFC 1035
	MaxDomainLength = 253
	// MinPhoneDigits is the minimum number of digits in a phone number
	MinPhoneDigits = 8
)

var (
	nameRegex = regexp.MustCompile(`^[A-Za-z\s'-]+$`)

	// emailRegex is the permissive RFC 5322 style pattern used by the form
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

	phoneRegex = regexp.MustCompile(`^\+?[1-9][\d\s\-()]{7,15}$`)
)

// disposableDomains are throwaway mailbox providers that are never accepted
var disposableDomains = map[string]struct{}{
	"10minutemail.com":  {},
	"tempmail.org":      {},
	"guerrillamail.com": {},
	"mailinator.com":    {},
	"throwaway.email":   {},
	"temp-mail.org":     {},
}

// Result is the outcome of validating a single field
type Result struct {
	Valid  bool
	Reason string
}

// Errors maps each failing field to a user-facing reason
type Errors map[contact.Field]string

// Error implements error with a deterministic, field-ordered summary
func (e Errors) Error() string {
	keys := make([]string, 0, len(e))
	for f := range e {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[contact.Field(k)])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Strings returns the errors keyed by wire name
func (e Errors) Strings() map[string]string {
	out := make(map[string]string, len(e))
	for f, reason := range e {
		out[string(f)] = reason
	}
	return out
}

// Report is the outcome of validating a whole submission
type Report struct {
	Valid  bool
	Errors Errors
}

// Err returns the report's errors as an error, or nil when valid
func (r Report) Err() error {
	if r.Valid {
		return nil
	}
	return r.Errors
}

// Validator checks submissions against the contact form rules
type Validator struct {
	validate *validator.Validate
	rules    map[contact.Field]string
}

// New creates a Validator with the contact form rules registered
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails for empty tags or nil funcs
	_ = v.RegisterValidation("person_name", func(fl validator.FieldLevel) bool {
		return nameRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("contact_email", func(fl validator.FieldLevel) bool {
		return IsValidEmailFormat(fl.Field().String())
	})
	_ = v.RegisterValidation("not_disposable", func(fl validator.FieldLevel) bool {
		return !IsDisposableEmail(fl.Field().String())
	})
	_ = v.RegisterValidation("phone_intl", func(fl validator.FieldLevel) bool {
		return IsValidPhone(fl.Field().String())
	})

	return &Validator{
		validate: v,
		rules:    rulesFromTags(),
	}
}

// rulesFromTags reads the validate tags off contact.Submission so single-field
// and whole-struct validation share one rule set
func rulesFromTags() map[contact.Field]string {
	rules := make(map[contact.Field]string)
	t := reflect.TypeOf(contact.Submission{})
	for i := 0; i < t.NumField(); i++ {
		fld := t.Field(i)
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if tag := fld.Tag.Get("validate"); tag != "" && name != "" {
			rules[contact.Field(name)] = tag
		}
	}
	return rules
}

var defaultValidator = New()

// Default returns the process-wide validator
func Default() *Validator {
	return defaultValidator
}

// ValidateField validates one field with the default validator
func ValidateField(field contact.Field, value string) Result {
	return defaultValidator.Field(field, value)
}

// ValidateAll validates a submission with the default validator
func ValidateAll(s contact.Submission) Report {
	return defaultValidator.All(s)
}

// Field validates a single field value. Values are trimmed before checking.
// Unknown fields are reported invalid.
func (v *Validator) Field(field contact.Field, value string) Result {
	rule, ok := v.rules[field]
	if !ok {
		return Result{Valid: false, Reason: "Unknown field"}
	}

	err := v.validate.Var(strings.TrimSpace(value), rule)
	if err == nil {
		return Result{Valid: true}
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return Result{Valid: false, Reason: message(field, verrs[0])}
	}
	return Result{Valid: false, Reason: "Invalid value"}
}

// All validates every field of a submission and collects per-field reasons
func (v *Validator) All(s contact.Submission) Report {
	trimmed := s.Trimmed()

	err := v.validate.Struct(trimmed)
	if err == nil {
		return Report{Valid: true}
	}

	errs := make(Errors)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// InvalidValidationError only happens for non-struct input
		for _, f := range contact.RequiredFields {
			errs[f] = "Invalid value"
		}
		return Report{Valid: false, Errors: errs}
	}

	for _, fe := range verrs {
		f := contact.Field(fe.Field())
		if _, seen := errs[f]; !seen {
			errs[f] = message(f, fe)
		}
	}
	return Report{Valid: false, Errors: errs}
}

// IsValidEmailFormat checks format and RFC length limits, not the denylist
func IsValidEmailFormat(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	if !emailRegex.MatchString(email) {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	localPart, domain := parts[0], parts[1]
	return len(localPart) <= MaxLocalPartLength && len(domain) <= MaxDomainLength
}

// IsDisposableEmail reports whether the address belongs to a denylisted domain
func IsDisposableEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, blocked := disposableDomains[strings.ToLower(email[at+1:])]
	return blocked
}

// IsValidEmail applies the full email rule: format, limits and denylist
func IsValidEmail(email string) bool {
	return IsValidEmailFormat(email) && !IsDisposableEmail(email)
}

// IsValidPhone checks an international phone number with at least 8 digits
func IsValidPhone(phone string) bool {
	if !phoneRegex.MatchString(phone) {
		return false
	}
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= MinPhoneDigits
}

// DisposableDomains returns the denylisted domains in sorted order
func DisposableDomains() []string {
	out := make([]string, 0, len(disposableDomains))
	for d := range disposableDomains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
