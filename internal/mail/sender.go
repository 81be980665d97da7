package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a complete SMTP exchange
const DefaultTimeout = 15 * time.Second

// Sender delivers a composed message
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// TransportError reports a failed SMTP exchange. Op names the step that
// failed; Code carries the server reply code when there was one.
type TransportError struct {
	Op   string
	Code int
	Err  error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("smtp %s: %d %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("smtp %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportError(op string, err error) error {
	te := &TransportError{Op: op, Err: err}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		te.Code = smtpErr.Code
	}
	return te
}

// SMTPConfig holds connection settings for SMTPSender
type SMTPConfig struct {
	Host     string
	Port     int
	Secure   bool // implicit TLS; otherwise STARTTLS is required
	Username string
	Password string
	Timeout  time.Duration
	// LocalName is sent in EHLO
	LocalName          string
	InsecureSkipVerify bool
}

// SMTPSender delivers messages to a submission server
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates a sender for cfg
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}
	return &SMTPSender{cfg: cfg}
}

// Send runs one SMTP session per message
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := msg.Bytes()
	if err != nil {
		return transportError("encode", err)
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return transportError("dial", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var c *smtp.Client
	if s.cfg.Secure {
		c = smtp.NewClient(conn)
	} else {
		// Credentials never cross an unencrypted connection
		c, err = smtp.NewClientStartTLS(conn, s.tlsConfig())
		if err != nil {
			return transportError("starttls", err)
		}
	}
	defer c.Close()

	if err := c.Hello(s.cfg.LocalName); err != nil {
		return transportError("hello", err)
	}

	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return transportError("auth", err)
		}
	}

	if err := c.SendMail(msg.EnvelopeFrom(), msg.Recipients(), bytes.NewReader(data)); err != nil {
		return transportError("send", err)
	}

	if err := c.Quit(); err != nil {
		return transportError("quit", err)
	}
	return nil
}

func (s *SMTPSender) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

func (s *SMTPSender) dial(ctx context.Context) (net.Conn, error) {
	if s.cfg.Secure {
		d := &tls.Dialer{Config: s.tlsConfig()}
		return d.DialContext(ctx, "tcp", s.addr())
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", s.addr())
}

// ThrottledSender caps the outbound message rate of the wrapped sender.
// Waiting respects the caller's context.
type ThrottledSender struct {
	next    Sender
	limiter *rate.Limiter
}

// NewThrottledSender wraps next with a limit of perSecond messages and the
// given burst. A non-positive rate returns next unchanged.
func NewThrottledSender(next Sender, perSecond float64, burst int) Sender {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &ThrottledSender{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send waits for a token and forwards the message
func (t *ThrottledSender) Send(ctx context.Context, msg *Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return transportError("throttle", err)
	}
	return t.next.Send(ctx, msg)
}
