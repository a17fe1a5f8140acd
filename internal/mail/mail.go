// Package mail sends transactional e-mail through Resend or SMTP.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"

	"github.com/kidandcat/workboard/internal/config"
)

// Message is one HTML e-mail to a single recipient.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// New picks the transport from cfg: SMTP when enabled, Resend when an
// API key is present, otherwise a Mailer that only logs.
func New(cfg config.EmailConfig, logger *slog.Logger) Mailer {
	switch {
	case cfg.SMTPEnabled:
		return &SMTP{cfg: cfg}
	case cfg.ResendAPIKey != "":
		return &Resend{cfg: cfg, Endpoint: "https://api.resend.com/emails", Client: http.DefaultClient}
	default:
		return &LogMailer{Logger: logger}
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Resend sends through the Resend HTTP API.
type Resend struct {
	cfg      config.EmailConfig
	Endpoint string
	Client   *http.Client
}

func NewResend(cfg config.EmailConfig, endpoint string, client *http.Client) *Resend {
	return &Resend{cfg: cfg, Endpoint: endpoint, Client: client}
}

func (r *Resend) Send(ctx context.Context, m Message) error {
	body := resendRequest{
		From:    r.cfg.FromEmail,
		To:      []string{m.To},
		Subject: m.Subject,
		HTML:    m.HTML,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.Endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.ResendAPIKey)

	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("resend API error: status %d", resp.StatusCode)
	}
	return nil
}

// SMTP sends through an SMTP relay.
type SMTP struct {
	cfg config.EmailConfig
}

func (s *SMTP) Send(_ context.Context, m Message) error {
	addr := s.cfg.SMTPHost + ":" + s.cfg.SMTPPort

	msg := "From: " + s.cfg.FromEmail + "\r\n" +
		"To: " + m.To + "\r\n" +
		"Subject: " + m.Subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n" +
		m.HTML

	var auth smtp.Auth
	if s.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, s.cfg.SMTPUser, []string{m.To}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used in
// development when no provider is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (l *LogMailer) Send(_ context.Context, m Message) error {
	if l.Logger != nil {
		l.Logger.Info("mail not sent: no provider configured", "to", m.To, "subject", m.Subject)
	}
	return nil
}
