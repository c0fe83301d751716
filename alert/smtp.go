package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// SMTPConfig describes the mail relay alerts are sent through.
type SMTPConfig struct {
	Host     string   `mapstructure:"host" json:"host"`
	Port     int      `mapstructure:"port" json:"port"`
	Username string   `mapstructure:"username" json:"username"`
	Password string   `mapstructure:"password" json:"-"`
	From     string   `mapstructure:"from" json:"from"`
	To       []string `mapstructure:"to" json:"to"`
}

// Enabled reports whether the config names a relay and at least one
// recipient.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && len(c.To) > 0
}

// SMTP returns a Sink that sends the notification as a plaintext mail.
// Delivery failures are logged at warning and swallowed.
func SMTP(cfg SMTPConfig, logger *slog.Logger) Sink {
	log := logger.With(slog.String("component", "alert.SMTP"))
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return func(ctx context.Context, subject, body string) {
		msg := buildMessage(cfg.From, cfg.To, subject, body)
		if err := smtp.SendMail(addr, auth, cfg.From, cfg.To, msg); err != nil {
			log.Warn("smtp delivery failed",
				slog.String("relay", addr),
				slog.String("error", err.Error()),
			)
		}
	}
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// sanitizeHeader strips CR/LF so alert text cannot inject extra headers.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(s)
}
