package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-planning-poker/internal/config"
)

// Mailer sends emails.
type Mailer interface {
	SendEmail(to, subject, body string) error
	// SendAccessCode delivers a login code and reports whether delivery succeeded.
	SendAccessCode(ctx context.Context, email, token string) bool
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type mailer struct {
	host     string
	port     string
	from     string
	username string
	password string
	tokenTTL time.Duration
	send     sendFunc
}

func NewMailer(cfg *config.Config) Mailer {
	return &mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		tokenTTL: cfg.OrgAccessTokenTTL,
		send:     smtp.SendMail,
	}
}

func (m *mailer) SendEmail(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s", m.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return m.send(addr, auth, m.from, []string{to}, []byte(msg))
}

func (m *mailer) SendAccessCode(_ context.Context, email, token string) bool {
	if err := m.SendEmail(email, "Your Planning Poker access code", accessCodeBody(token, m.tokenTTL)); err != nil {
		slog.Error("failed to send access code", "email", email, "err", err)
		return false
	}
	slog.Info("sent access code", "email", email)
	return true
}

func accessCodeBody(token string, ttl time.Duration) string {
	minutes := int(ttl / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	var b strings.Builder
	b.WriteString("Here is your Planning Poker verification code:\r\n\r\n")
	fmt.Fprintf(&b, "    %s\r\n\r\n", token)
	fmt.Fprintf(&b, "It expires in %d minute(s). If you did not request this code you can ignore this email.\r\n", minutes)
	return b.String()
}
