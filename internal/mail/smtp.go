// smtp.go -- outbound mail. One transactional message kind here, the
// password reset link; the Mailer interface leaves room for more.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Mailer sends transactional email.
//
// vars maps %%key%% placeholder names to replacement values for the subject
// and body. Placeholders that stay unresolved after substitution are
// stripped, never delivered verbatim. The keys url, toEmail, and expiresIn
// belong to the mailer and cannot be overridden through vars.
type Mailer interface {
	SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	FromAddress  string
	ResetURLBase string
}

// SMTPMailer delivers over SMTP with mandatory STARTTLS. Works against any
// provider that speaks the protocol, including Mailpit for local dev.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// NopMailer drops all mail. The server falls back to it when SMTP is not
// configured, so the reset flow still answers uniformly.
type NopMailer struct{}

func (n *NopMailer) SendPasswordReset(_ context.Context, _, _ string, _ time.Duration, _ map[string]string) error {
	return nil
}

// reservedVars lists placeholder keys the mailer fills itself. Matching
// caller keys are dropped before substitution.
var reservedVars = map[string]bool{
	"url":       true,
	"toEmail":   true,
	"expiresIn": true,
}

var unresolvedPlaceholder = regexp.MustCompile(`%%\w+%%`)

// applyVars substitutes %%key%% placeholders in tmpl, then strips whatever
// placeholders remain.
func applyVars(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "%%"+key+"%%", value)
	}
	out := strings.NewReplacer(pairs...).Replace(tmpl)
	return unresolvedPlaceholder.ReplaceAllString(out, "")
}

// formatDuration renders an expiry window for the email body, e.g. "2 days"
// or "30 minutes".
func formatDuration(d time.Duration) string {
	n, unit := int(d.Minutes()), "minute"
	switch {
	case d >= 24*time.Hour:
		n, unit = int(d.Hours())/24, "day"
	case d >= time.Hour:
		n, unit = int(d.Hours()), "hour"
	}
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

const resetBody = "You requested a password reset.\n\n" +
	"Click the link below to choose a new password:\n\n" +
	"%%url%%\n\n" +
	"This link expires in %%expiresIn%%. If you did not request a reset, ignore this email."

// SendPasswordReset mails the signed reset token to toEmail as a clickable
// link on the configured reset URL base.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	merged := make(map[string]string, len(vars)+3)
	for k, v := range vars {
		if !reservedVars[k] {
			merged[k] = v
		}
	}
	merged["toEmail"] = toEmail
	merged["expiresIn"] = formatDuration(expiresIn)
	merged["url"] = m.cfg.ResetURLBase + "?token=" + url.QueryEscape(token)

	msg := "From: " + m.cfg.FromAddress + "\r\n" +
		"To: " + toEmail + "\r\n" +
		"Subject: Reset your password\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		resetBody

	if err := m.deliver(ctx, toEmail, applyVars(msg, merged)); err != nil {
		return fmt.Errorf("sending password reset email: %w", err)
	}
	return nil
}

// deliver runs one SMTP session for a single recipient. Sessions where the
// server does not offer STARTTLS are refused outright.
func (m *SMTPMailer) deliver(ctx context.Context, toEmail, msg string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return fmt.Errorf("dialing smtp host: %w", err)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("starting smtp session: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not offer STARTTLS, refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp STARTTLS: %w", err)
	}
	if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("writing smtp body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("closing smtp body: %w", err)
	}

	return c.Quit()
}
