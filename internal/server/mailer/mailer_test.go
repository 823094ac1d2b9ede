package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	From string
	To   []string
	Data []byte
}

type testBackend struct {
	user, pass string

	mu       sync.Mutex
	msgs     []captured
	dataErrs []error
}

func (b *testBackend) Login(_ *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	if username != b.user || password != b.pass {
		return nil, &smtp.SMTPError{Code: 535, EnhancedCode: smtp.EnhancedCode{5, 7, 8}, Message: "invalid credentials"}
	}
	return &testSession{b: b}, nil
}

func (b *testBackend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	if b.user != "" {
		return nil, smtp.ErrAuthRequired
	}
	return &testSession{b: b}, nil
}

func (b *testBackend) messages() []captured {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]captured(nil), b.msgs...)
}

type testSession struct {
	b   *testBackend
	cur captured
}

func (s *testSession) Reset()        { s.cur = captured{} }
func (s *testSession) Logout() error { return nil }

func (s *testSession) Mail(from string, _ smtp.MailOptions) error {
	s.cur.From = from
	return nil
}

func (s *testSession) Rcpt(to string) error {
	s.cur.To = append(s.cur.To, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if len(s.b.dataErrs) > 0 {
		err := s.b.dataErrs[0]
		s.b.dataErrs = s.b.dataErrs[1:]
		if err != nil {
			return err
		}
	}
	s.cur.Data = data
	s.b.msgs = append(s.b.msgs, s.cur)
	return nil
}

func startSMTP(t *testing.T, be *testBackend) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	s.ErrorLog = log.New(io.Discard, "", 0)
	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() { _ = s.Close() })

	return l.Addr().(*net.TCPAddr).Port
}

func newTestMailer(t *testing.T, port int, user, pass string) *SMTPMailer {
	t.Helper()

	tpl, err := NewTemplates("")
	require.NoError(t, err)
	m, err := NewSMTPMailer(SMTPConfig{
		Host:        "127.0.0.1",
		Port:        port,
		Username:    user,
		Password:    pass,
		From:        "Auth Service <noreply@example.com>",
		DialTimeout: 2 * time.Second,
	}, tpl)
	require.NoError(t, err)
	return m
}

func parseMessage(t *testing.T, data []byte) (*mail.Reader, string) {
	t.Helper()

	mr, err := mail.CreateReader(bytes.NewReader(data))
	require.NoError(t, err)
	p, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(p.Body)
	require.NoError(t, err)
	// DATA always ends the last line with CRLF
	return mr, strings.TrimRight(string(body), "\r\n")
}

func TestSMTPMailer_SendEmail_WithAuth(t *testing.T) {
	be := &testBackend{user: "mailer", pass: "s3cret"}
	port := startSMTP(t, be)
	m := newTestMailer(t, port, "mailer", "s3cret")

	html := "<p>Привет, мир</p>"
	err := m.SendEmail(context.Background(), "bob@example.com", "Confirm your email", html)
	require.NoError(t, err)

	msgs := be.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "noreply@example.com", msgs[0].From)
	assert.Equal(t, []string{"bob@example.com"}, msgs[0].To)

	mr, body := parseMessage(t, msgs[0].Data)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Confirm your email", subject)

	ct, params, err := mr.Header.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "text/html", ct)
	assert.Equal(t, "utf-8", params["charset"])

	from, err := mr.Header.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "Auth Service", from[0].Name)

	id, err := mr.Header.MessageID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, html, body)
}

func TestSMTPMailer_SendEmail_BadCredentialsArePermanent(t *testing.T) {
	be := &testBackend{user: "mailer", pass: "s3cret"}
	port := startSMTP(t, be)
	m := newTestMailer(t, port, "mailer", "wrong")

	err := m.SendEmail(context.Background(), "bob@example.com", "x", "<p>x</p>")
	require.Error(t, err)

	var se *smtp.SMTPError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 535, se.Code)
	assert.False(t, IsTransient(err))
	assert.Empty(t, be.messages())
}

func TestSMTPMailer_SendEmail_TemporaryReply(t *testing.T) {
	be := &testBackend{dataErrs: []error{&smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "try later"}}}
	port := startSMTP(t, be)
	m := newTestMailer(t, port, "", "")

	err := m.SendEmail(context.Background(), "bob@example.com", "x", "<p>x</p>")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestSMTPMailer_SendEmail_ConnectionRefusedIsTransient(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	m := newTestMailer(t, port, "", "")
	err = m.SendEmail(context.Background(), "bob@example.com", "x", "<p>x</p>")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestSMTPMailer_InvalidAddresses(t *testing.T) {
	tpl, err := NewTemplates("")
	require.NoError(t, err)

	_, err = NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 25, From: "not an address"}, tpl)
	assert.Error(t, err)

	m, err := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 25, From: "noreply@example.com"}, tpl)
	require.NoError(t, err)
	err = m.SendEmail(context.Background(), "nope", "x", "y")
	assert.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestTemplates_EmbeddedRenderEscapes(t *testing.T) {
	tpl, err := NewTemplates("")
	require.NoError(t, err)

	out, err := tpl.Render(TemplateConfirmEmail, LinkData{
		Email:    "<script>@example.com",
		Link:     "https://app.example.com/email/confirm?email=a%40b.com&token=abc",
		ValidFor: "24h0m0s",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "&lt;script&gt;@example.com")
	assert.Contains(t, out, "token=abc")
	assert.Contains(t, out, "24h0m0s")

	out, err = tpl.Render(TemplateResetPassword, LinkData{Email: "a@b.com", Link: "https://x/reset?token=t", ValidFor: "30m0s"})
	require.NoError(t, err)
	assert.Contains(t, out, "a@b.com")

	_, err = tpl.Render("missing.html", nil)
	assert.Error(t, err)
}

func TestTemplates_DirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, TemplateResetPassword), []byte(`reset {{.Email}}`), 0o600))

	tpl, err := NewTemplates(dir)
	require.NoError(t, err)

	out, err := tpl.Render(TemplateResetPassword, LinkData{Email: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "reset a@b.com", out)

	_, err = NewTemplates(filepath.Join(dir, "empty"))
	assert.Error(t, err)
}

func TestWriteMessage_Headers(t *testing.T) {
	var buf bytes.Buffer
	from, _ := mail.ParseAddress("noreply@example.com")
	to, _ := mail.ParseAddress("bob@example.com")
	date := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, writeMessage(&buf, from, to, "Hello", "<b>hi</b>", date))

	raw := buf.String()
	assert.True(t, strings.Contains(raw, "Subject: Hello"))
	assert.True(t, strings.Contains(raw, "Content-Transfer-Encoding: quoted-printable"))

	mr, body := parseMessage(t, buf.Bytes())
	got, err := mr.Header.Date()
	require.NoError(t, err)
	assert.True(t, got.Equal(date))
	assert.Equal(t, "<b>hi</b>", body)
}
