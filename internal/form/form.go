// Package form is the host-side controller for the contact form. It owns the
// field values, filters keystrokes, guards against double submission and
// turns delivery outcomes into user notices.
package form

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/zifrone/contact/internal/config"
	"github.com/zifrone/contact/internal/contact"
	"github.com/zifrone/contact/internal/delivery"
	"github.com/zifrone/contact/internal/validation"
)

// User-facing notices
const (
	MsgSuccess     = "Message sent successfully! We'll get back to you within 24 hours."
	MsgCorrectForm = "Please correct the errors in the form"
	MsgRateLimited = "Too many requests. Please wait a minute before trying again."
	MsgUnavailable = "Email service temporarily unavailable. Please contact us via WhatsApp below."
	MsgFailed      = "Failed to send message. Please try WhatsApp or call us directly."
	MsgInFlight    = "Your message is already being sent."
)

// ErrInFlight is returned by Submit while another submission is running
var ErrInFlight = errors.New("form: submission already in progress")

var (
	nameInputFilter  = regexp.MustCompile(`[^a-zA-Z\s'-]`)
	phoneInputFilter = regexp.MustCompile(`[^0-9\s\-+()]`)
)

// Submitter delivers a submission
type Submitter interface {
	Submit(ctx context.Context, sub contact.Submission) (*delivery.Ack, error)
}

// NoticeKind classifies a Notice
type NoticeKind int

const (
	NoticeSuccess NoticeKind = iota
	NoticeError
)

// Notice is what the host shows after a submit attempt
type Notice struct {
	Kind NoticeKind
	Text string
	// AlternateURL is set when the user should switch channel
	AlternateURL string
}

// Controller holds the state of one form
type Controller struct {
	mu         sync.Mutex
	values     contact.Submission
	errors     validation.Errors
	submitting bool

	client Submitter
	cfg    config.ClientConfig
}

// New creates a Controller posting through client
func New(client Submitter, cfg config.ClientConfig) *Controller {
	return &Controller{client: client, cfg: cfg, errors: validation.Errors{}}
}

// Input sets a field the way a keystroke would. Name and WhatsApp input is
// filtered when input sanitization is enabled. Typing clears that field's
// error. Input is refused while a submission is in flight.
func (c *Controller) Input(field contact.Field, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.submitting {
		return false
	}
	c.values.Set(field, c.filter(field, value))
	delete(c.errors, field)
	return true
}

func (c *Controller) filter(field contact.Field, value string) string {
	if !c.cfg.InputSanitization {
		return value
	}
	switch field {
	case contact.FieldName:
		return nameInputFilter.ReplaceAllString(value, "")
	case contact.FieldWhatsApp:
		return phoneInputFilter.ReplaceAllString(value, "")
	}
	return value
}

// Values returns the current field values
func (c *Controller) Values() contact.Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values
}

// Errors returns a copy of the current field errors
func (c *Controller) Errors() validation.Errors {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(validation.Errors, len(c.errors))
	for f, msg := range c.errors {
		out[f] = msg
	}
	return out
}

// Submitting reports whether a submission is in flight
func (c *Controller) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// Submit delivers the current values. Fields are cleared only on success;
// every failure leaves them as entered.
func (c *Controller) Submit(ctx context.Context) (Notice, error) {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return Notice{Kind: NoticeError, Text: MsgInFlight}, ErrInFlight
	}
	c.submitting = true
	snapshot := c.values
	c.mu.Unlock()

	_, err := c.client.Submit(ctx, snapshot)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false

	if err == nil {
		c.values = contact.Submission{}
		c.errors = validation.Errors{}
		return Notice{Kind: NoticeSuccess, Text: MsgSuccess}, nil
	}

	var verrs validation.Errors
	var derr *delivery.DeliveryError
	switch {
	case errors.As(err, &verrs):
		c.errors = verrs
		return Notice{Kind: NoticeError, Text: MsgCorrectForm}, err
	case errors.Is(err, delivery.ErrRateLimited):
		return Notice{Kind: NoticeError, Text: MsgRateLimited}, err
	case errors.As(err, &derr):
		return Notice{Kind: NoticeError, Text: MsgUnavailable, AlternateURL: derr.AlternateURL}, err
	default:
		return Notice{Kind: NoticeError, Text: MsgFailed, AlternateURL: c.chatURL()}, err
	}
}

// ChatURL is the WhatsApp link for the current form, personalised with the
// entered name
func (c *Controller) ChatURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatURL()
}

func (c *Controller) chatURL() string {
	return delivery.ChatURL(c.cfg.WhatsAppNumber, delivery.ChatMessage(c.values.Name, c.cfg.DefaultMessage))
}

// CallURL is the tel: link for the business number
func (c *Controller) CallURL() string {
	return delivery.CallURL(c.cfg.WhatsAppNumber)
}
