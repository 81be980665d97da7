package intake

import "net/http"

// Stage is a step of the per-request state machine
type Stage string

const (
	StageReceived        Stage = "RECEIVED"
	StageMethodChecked   Stage = "METHOD_CHECKED"
	StageRateChecked     Stage = "RATE_CHECKED"
	StageParsed          Stage = "PARSED"
	StageValidated       Stage = "VALIDATED"
	StageSanitized       Stage = "SANITIZED"
	StageEmailDispatched Stage = "EMAIL_DISPATCHED"
	StageResponded       Stage = "RESPONDED"
	StageError           Stage = "ERROR"
)

// Request is the provider-neutral shape of an incoming request
type Request struct {
	Method     string
	Path       string
	Headers    http.Header
	Body       []byte
	RemoteAddr string
	// BodyTooLarge is set by adapters that stopped reading at the size limit
	BodyTooLarge bool
}

// Response is the provider-neutral shape of the reply
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte

	// Stage is the last stage reached before responding
	Stage Stage
	// Trail lists every stage entered, ending with RESPONDED
	Trail []Stage
}

// Reached reports whether the request entered stage s
func (r Response) Reached(s Stage) bool {
	for _, t := range r.Trail {
		if t == s {
			return true
		}
	}
	return false
}

// replyBody is the JSON response body
type replyBody struct {
	Success bool              `json:"success,omitempty"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Error bodies
const (
	errMethodNotAllowed = "Method not allowed"
	errTooManyRequests  = "Too many requests"
	errInvalidJSON      = "Invalid JSON"
	errMissingFields    = "Missing required fields"
	errInvalidEmail     = "Invalid email address"
	errValidation       = "Validation failed"
	errInvalidCSRF      = "Invalid CSRF token"
	errTooLarge         = "Request body too large"
	errInternal         = "Internal server error"

	msgSent       = "Message sent successfully"
	msgSendFailed = "Failed to send message. Please try again later."
)
