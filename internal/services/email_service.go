package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
)

const (
	insightsSubject = "Your conversation insights from Maggie"
	brevoDefaultURL = "https://api.brevo.com/v3/smtp/email"
)

// EmailMessage is a rendered email with plain text and HTML alternatives
type EmailMessage struct {
	Subject string
	Text    string
	HTML    string
}

// EmailSender delivers one message in a single attempt
type EmailSender interface {
	Send(ctx context.Context, address string, msg *EmailMessage) error
}

var insightsMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ComposeInsightsEmail renders the post-session recap
func ComposeInsightsEmail(insights models.Insights) (*EmailMessage, error) {
	var body strings.Builder
	body.WriteString("Hey there,\n\nHere are the insights of the conversation:\n\n")

	if s := strings.TrimSpace(insights.Summary); s != "" {
		body.WriteString("## Summary\n\n")
		body.WriteString(s)
		body.WriteString("\n\n")
	}
	writeList(&body, "Tasks", insights.Tasks)
	writeList(&body, "Topics", insights.Topics)

	body.WriteString("We hope Maggie was useful to your wellbeing journey.\n\nSincerely,\n\nThe Maggie Team\n")

	text := body.String()
	var html bytes.Buffer
	if err := insightsMarkdown.Convert([]byte(text), &html); err != nil {
		return nil, fmt.Errorf("failed to render email: %w", err)
	}

	return &EmailMessage{
		Subject: insightsSubject,
		Text:    text,
		HTML:    html.String(),
	}, nil
}

func writeList(b *strings.Builder, title string, items []string) {
	written := false
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !written {
			fmt.Fprintf(b, "## %s\n\n", title)
			written = true
		}
		fmt.Fprintf(b, "- %s\n", item)
	}
	if written {
		b.WriteString("\n")
	}
}

// EmailService validates recap requests and hands them to a sender
type EmailService struct {
	sender  EmailSender
	metrics *Metrics
}

// NewEmailService creates the service. sender may be nil when email is not configured.
func NewEmailService(sender EmailSender, metrics *Metrics) *EmailService {
	return &EmailService{sender: sender, metrics: metrics}
}

// SendInsights emails the recap to the address in the request
func (s *EmailService) SendInsights(ctx context.Context, req models.EmailRequest) error {
	address, err := ParseEmailAddress(req.EmailAddress)
	if err != nil {
		return err
	}
	if s.sender == nil {
		return NewUpstreamError("Email is not configured", http.StatusInternalServerError, "", errNotConfigured)
	}

	msg, err := ComposeInsightsEmail(req.Insights)
	if err != nil {
		return NewUpstreamError("Failed to send email", http.StatusInternalServerError, "", err)
	}

	err = s.sender.Send(ctx, address, msg)
	s.metrics.RecordDispatch("email", err)
	if err != nil {
		log.Printf("❌ [EMAIL] Failed to send insights to %s: %v", address, err)
		if KindOf(err) != 0 {
			return err
		}
		return NewUpstreamError("Failed to send email", http.StatusInternalServerError, err.Error(), err)
	}

	log.Printf("✅ [EMAIL] Insights sent to %s", address)
	return nil
}

// ParseEmailAddress validates a single bare address
func ParseEmailAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewValidationError("No email address provided")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" {
		return "", NewValidationError("Invalid email address")
	}
	return addr.Address, nil
}

// SMTPSender delivers through an SMTP server with the account's own credentials.
// Port 465 uses implicit TLS; other ports upgrade with STARTTLS when offered.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
}

// NewSMTPSender creates an SMTP sender. The username is also the From address.
func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  30 * time.Second,
	}
}

func (s *SMTPSender) Send(ctx context.Context, address string, msg *EmailMessage) error {
	if s.username == "" || s.password == "" {
		return NewUpstreamError("Email credentials are not configured", http.StatusInternalServerError, "", errNotConfigured)
	}

	raw, err := buildMIME(s.username, address, msg)
	if err != nil {
		return err
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.host, err)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer client.Close()

	if s.port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				return fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	}

	if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
		return fmt.Errorf("SMTP auth failed: %w", err)
	}
	if err := client.Mail(s.username); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(address); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return client.Quit()
}

func (s *SMTPSender) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := &net.Dialer{Timeout: s.timeout}

	var (
		conn net.Conn
		err  error
	)
	if s.port == 465 {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
	return conn, nil
}

// buildMIME writes a multipart/alternative message with text and HTML parts
func buildMIME(from, to string, msg *EmailMessage) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", (&mail.Address{Name: "Maggie", Address: from}).String())
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	parts := []struct{ contentType, body string }{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	}
	for _, p := range parts {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build message: %w", err)
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			return nil, fmt.Errorf("failed to build message: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	return buf.Bytes(), nil
}

// BrevoSender delivers through Brevo's transactional email API
type BrevoSender struct {
	apiKey     string
	apiURL     string
	from       string
	httpClient *http.Client
}

// NewBrevoSender creates a Brevo sender. An empty apiURL uses the public endpoint.
func NewBrevoSender(apiKey, apiURL, from string) *BrevoSender {
	if apiURL == "" {
		apiURL = brevoDefaultURL
	}
	return &BrevoSender{
		apiKey:     apiKey,
		apiURL:     apiURL,
		from:       from,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoEmail struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent,omitempty"`
	TextContent string         `json:"textContent,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

func (b *BrevoSender) Send(ctx context.Context, address string, msg *EmailMessage) error {
	if b.apiKey == "" || b.from == "" {
		return NewUpstreamError("Email credentials are not configured", http.StatusInternalServerError, "", errNotConfigured)
	}

	payload, err := json.Marshal(brevoEmail{
		Sender:      brevoContact{Email: b.from, Name: "Maggie"},
		To:          []brevoContact{{Email: address}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: msg.Text,
		Tags:        []string{"insights"},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Brevo answers 201 Created on success
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return NewUpstreamError("Failed to send email", resp.StatusCode, string(body), nil)
	}
	return nil
}
