// Package mailer delivers transactional email: an SMTP transport, the HTML
// templates it sends, and an asynchronous notifier that keeps delivery off
// the request path.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
)

const defaultDialTimeout = 10 * time.Second

// Mailer sends rendered HTML mail.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, html string) error
	RenderTemplate(name string, data any) (string, error)
}

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	DialTimeout time.Duration
}

type SMTPMailer struct {
	cfg       SMTPConfig
	from      *mail.Address
	templates *Templates
	dialer    *net.Dialer
	tlsConfig *tls.Config
	now       func() time.Time
}

func NewSMTPMailer(cfg SMTPConfig, templates *Templates) (*SMTPMailer, error) {
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", cfg.From, err)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &SMTPMailer{
		cfg:       cfg,
		from:      from,
		templates: templates,
		dialer:    &net.Dialer{Timeout: cfg.DialTimeout},
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		now:       time.Now,
	}, nil
}

func (m *SMTPMailer) RenderTemplate(name string, data any) (string, error) {
	return m.templates.Render(name, data)
}

// SendEmail delivers one message. STARTTLS is used when the server offers
// it and PLAIN auth when credentials are configured. Errors from the server
// are *smtp.SMTPError.
func (m *SMTPMailer) SendEmail(ctx context.Context, to, subject, html string) error {
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	conn, err := m.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(m.tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(m.from.Address, nil); err != nil {
		return err
	}
	if err := c.Rcpt(rcpt.Address); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if err := writeMessage(w, m.from, rcpt, subject, html, m.now()); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func writeMessage(w io.Writer, from, to *mail.Address, subject, html string, date time.Time) error {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(subject)
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return err
	}

	body, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(body, html); err != nil {
		_ = body.Close()
		return err
	}
	return body.Close()
}

// LogMailer renders templates but only logs deliveries. It stands in for
// SMTPMailer when no SMTP host is configured.
type LogMailer struct {
	templates *Templates
	log       logging.Logger
}

func NewLogMailer(templates *Templates, log logging.Logger) *LogMailer {
	return &LogMailer{templates: templates, log: log}
}

func (m *LogMailer) RenderTemplate(name string, data any) (string, error) {
	return m.templates.Render(name, data)
}

func (m *LogMailer) SendEmail(ctx context.Context, to, subject, html string) error {
	m.log.Info(ctx, "smtp not configured, email not sent", "to", to, "subject", subject, "bytes", len(html))
	return nil
}
