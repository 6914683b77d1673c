// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail delivers password reset links by email.
package mail

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	gomail "github.com/wneessen/go-mail"

	"github.com/holomush/authd/internal/auth"
)

// TLS modes.
const (
	TLSImplicit = "implicit"
	TLSStartTLS = "starttls"
)

// Delivery defaults.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 500 * time.Millisecond
	DefaultTimeout  = 10 * time.Second
)

const resetSubject = "Reset your password"

// SMTPConfig describes the outbound SMTP server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      string
	Timeout  time.Duration
	Attempts uint64
	Backoff  time.Duration
}

// sender is the part of *gomail.Client used for delivery.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPNotifier implements auth.ResetNotifier over SMTP, retrying transient
// failures with exponential backoff.
type SMTPNotifier struct {
	client   sender
	from     string
	attempts uint64
	backoff  time.Duration
	logger   *slog.Logger
}

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp from address is required")
	}

	opts := []gomail.Option{
		gomail.WithTimeout(orDefault(cfg.Timeout, DefaultTimeout)),
	}
	switch cfg.TLS {
	case TLSImplicit:
		opts = append(opts, gomail.WithSSLPort(false))
	case TLSStartTLS, "":
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSMandatory))
	default:
		return nil, oops.Code("MAIL_CONFIG_INVALID").
			With("tls", cfg.TLS).
			Errorf("smtp tls must be %q or %q", TLSImplicit, TLSStartTLS)
	}
	if cfg.Port > 0 {
		opts = append(opts, gomail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("host", cfg.Host).Wrap(err)
	}
	return newSMTPNotifier(client, cfg, logger), nil
}

func newSMTPNotifier(client sender, cfg SMTPConfig, logger *slog.Logger) *SMTPNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = DefaultAttempts
	}
	return &SMTPNotifier{
		client:   client,
		from:     cfg.From,
		attempts: attempts,
		backoff:  orDefault(cfg.Backoff, DefaultBackoff),
		logger:   logger,
	}
}

// NotifyPasswordReset sends the reset link to notice.To.
func (n *SMTPNotifier) NotifyPasswordReset(ctx context.Context, notice auth.PasswordResetNotice) error {
	msg, err := n.resetMessage(notice)
	if err != nil {
		return err
	}

	attempt := 0
	backoff := retry.WithMaxRetries(n.attempts-1, retry.NewExponential(n.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
			n.logger.WarnContext(ctx, "smtp delivery failed",
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}

func (n *SMTPNotifier) resetMessage(notice auth.PasswordResetNotice) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return nil, oops.Code("MAIL_INVALID_ADDRESS").With("from", n.from).Wrap(err)
	}
	if err := msg.To(notice.To); err != nil {
		return nil, oops.Code("MAIL_INVALID_ADDRESS").Wrap(err)
	}
	msg.Subject(resetSubject)
	msg.SetBodyString(gomail.TypeTextPlain, plainBody(notice))
	msg.AddAlternativeString(gomail.TypeTextHTML, htmlBody(notice))
	return msg, nil
}

func greeting(notice auth.PasswordResetNotice) string {
	if notice.FullName != "" {
		return notice.FullName
	}
	return notice.Username
}

func plainBody(notice auth.PasswordResetNotice) string {
	return fmt.Sprintf(`Hello %s,

A password reset was requested for your account. Open the link below to
choose a new password:

%s

The link can be used once and expires at %s.
If you did not request a reset, you can ignore this message.
`, greeting(notice), notice.Link, notice.ExpiresAt.UTC().Format(time.RFC1123))
}

func htmlBody(notice auth.PasswordResetNotice) string {
	link := html.EscapeString(notice.Link)
	return fmt.Sprintf(`<p>Hello %s,</p>
<p>A password reset was requested for your account.</p>
<p><a href="%s">Choose a new password</a></p>
<p>The link can be used once and expires at %s.<br>
If you did not request a reset, you can ignore this message.</p>
`, html.EscapeString(greeting(notice)), link, notice.ExpiresAt.UTC().Format(time.RFC1123))
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// LogNotifier writes reset links to the log instead of sending email.
// It is meant for development setups without an SMTP server.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// NotifyPasswordReset logs the reset link.
func (n *LogNotifier) NotifyPasswordReset(ctx context.Context, notice auth.PasswordResetNotice) error {
	n.logger.InfoContext(ctx, "password reset link",
		"to", notice.To,
		"link", notice.Link,
		"expires_at", notice.ExpiresAt)
	return nil
}

// Compile-time interface checks.
var (
	_ auth.ResetNotifier = (*SMTPNotifier)(nil)
	_ auth.ResetNotifier = (*LogNotifier)(nil)
)
