// Package notification delivers password recovery links.
package notification

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/MrCodeEU/facegate/pkg/logging"
)

// Notifier delivers a recovery link for token to contact. It reports
// whether delivery succeeded; failures are logged, not returned.
type Notifier interface {
	SendRecoveryLink(ctx context.Context, contact, token string) bool
}

// ResetURL returns the link a user follows to reset their password.
func ResetURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/reset-password/" + token
}

// LogNotifier only logs that a link would have been sent.
type LogNotifier struct{}

// SendRecoveryLink logs the delivery without the token.
func (LogNotifier) SendRecoveryLink(_ context.Context, contact, token string) bool {
	logging.Component("notification").
		WithField("contact", logging.Fingerprint(contact)).
		WithField("token", logging.Fingerprint(token)).
		Info("Email disabled, recovery link not sent")
	return true
}

// SMTPConfig configures SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	BaseURL  string
	Expiry   time.Duration
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends HTML mail through an SMTP relay. smtp.SendMail
// upgrades to STARTTLS when the server offers it.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send sendFunc
	now  func() time.Time
}

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

var bodyTemplate = template.Must(template.New("recovery").Parse(`<html>
<body>
<h2>Password recovery</h2>
<p>A password reset was requested for your account.</p>
<p><a href="{{.URL}}">Reset password</a></p>
<p>This link expires in {{.Expiry}}.</p>
<p>If you did not request this, ignore this message.</p>
</body>
</html>
`))

// SendRecoveryLink composes and sends the recovery mail.
func (n *SMTPNotifier) SendRecoveryLink(ctx context.Context, contact, token string) bool {
	log := logging.Component("notification").WithField("contact", logging.Fingerprint(contact))

	msg, err := n.compose(contact, token)
	if err != nil {
		log.WithError(err).Error("Failed to compose recovery mail")
		return false
	}

	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("Recovery mail cancelled")
		return false
	}

	var auth smtp.Auth
	if n.cfg.Username != "" && n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(addr, auth, n.cfg.From, []string{contact}, msg); err != nil {
		log.WithError(err).Error("Failed to send recovery mail")
		return false
	}

	log.WithField("token", logging.Fingerprint(token)).Info("Recovery mail sent")
	return true
}

func (n *SMTPNotifier) compose(contact, token string) ([]byte, error) {
	var body bytes.Buffer
	err := bodyTemplate.Execute(&body, struct {
		URL    string
		Expiry string
	}{
		URL:    ResetURL(n.cfg.BaseURL, token),
		Expiry: formatExpiry(n.cfg.Expiry),
	})
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	from, err := mail.ParseAddress(n.cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse sender: %w", err)
	}
	to, err := mail.ParseAddress(contact)
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}
	id, err := messageID(from.Address)
	if err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from.String())
	fmt.Fprintf(&msg, "To: %s\r\n", to.String())
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", "Password recovery"))
	fmt.Fprintf(&msg, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", id)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// messageID returns a unique RFC 5322 message identifier in the sender's domain.
func messageID(sender string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	domain := "localhost"
	if i := strings.LastIndex(sender, "@"); i >= 0 && i < len(sender)-1 {
		domain = sender[i+1:]
	}
	return "<" + hex.EncodeToString(b) + "@" + domain + ">", nil
}

func formatExpiry(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short time"
	case d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	default:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
}
