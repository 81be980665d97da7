package validation

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/zifrone/contact/internal/contact"
)

const (
	msgInvalidEmail = "Please enter a valid email address"
	msgInvalidPhone = "Please enter a valid phone number (e.g., +91 98765 43210)"
	msgNameChars    = "Name can only contain letters, spaces, hyphens, and apostrophes"
	msgDisposable   = "Disposable email addresses are not accepted"
)

var labels = map[contact.Field]string{
	contact.FieldName:     "Name",
	contact.FieldEmail:    "Email",
	contact.FieldCompany:  "Company name",
	contact.FieldWhatsApp: "WhatsApp number",
	contact.FieldSubject:  "Subject",
	contact.FieldMessage:  "Message",
}

// message maps a validator failure to the text shown next to the field
func message(field contact.Field, fe validator.FieldError) string {
	label := labels[field]

	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	case "max":
		switch field {
		case contact.FieldEmail:
			return msgInvalidEmail
		case contact.FieldWhatsApp:
			return msgInvalidPhone
		}
		return fmt.Sprintf("%s must not exceed %s characters", label, fe.Param())
	case "person_name":
		return msgNameChars
	case "contact_email":
		return msgInvalidEmail
	case "not_disposable":
		return msgDisposable
	case "phone_intl":
		return msgInvalidPhone
	}
	return label + " is invalid"
}

// Label returns the human-readable name of a field
func Label(f contact.Field) string {
	if l, ok := labels[f]; ok {
		return l
	}
	return string(f)
}
