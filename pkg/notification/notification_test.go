package notification

import (
	"bytes"
	"context"
	"errors"
	"net/smtp"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/MrCodeEU/facegate/pkg/logging"
)

func TestResetURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:5000", "http://localhost:5000/reset-password/abc"},
		{"https://example.com/", "https://example.com/reset-password/abc"},
	}
	for _, tt := range tests {
		if got := ResetURL(tt.base, "abc"); got != tt.want {
			t.Errorf("ResetURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestFormatExpiry(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Minute, "30 minutes"},
		{time.Minute, "1 minute"},
		{time.Hour, "1 hour"},
		{2 * time.Hour, "2 hours"},
		{90 * time.Minute, "90 minutes"},
		{0, "a short time"},
	}
	for _, tt := range tests {
		if got := formatExpiry(tt.d); got != tt.want {
			t.Errorf("formatExpiry(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestSMTPNotifierSend(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "mailer",
		Password: "secret",
		From:     "FaceGate <no-reply@example.com>",
		BaseURL:  "https://gate.example.com",
		Expiry:   30 * time.Minute,
	})
	n.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	if !n.SendRecoveryLink(context.Background(), "ana@example.com", "tok123") {
		t.Fatal("SendRecoveryLink() = false, want true")
	}

	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotAuth == nil {
		t.Error("expected PLAIN auth when credentials are set")
	}
	if gotFrom != "FaceGate <no-reply@example.com>" || len(gotTo) != 1 || gotTo[0] != "ana@example.com" {
		t.Errorf("envelope = %q -> %v", gotFrom, gotTo)
	}

	msg := string(gotMsg)
	for _, want := range []string{
		"From: \"FaceGate\" <no-reply@example.com>\r\n",
		"To: <ana@example.com>\r\n",
		"Subject: Password recovery\r\n",
		"Date: Sun, 01 Mar 2026 09:30:00 +0000\r\n",
		"Content-Type: text/html",
		`href="https://gate.example.com/reset-password/tok123"`,
		"expires in 30 minutes",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if !regexp.MustCompile(`\r\nMessage-ID: <[0-9a-f]{32}@example\.com>\r\n`).MatchString(msg) {
		t.Errorf("message has no valid Message-ID:\n%s", msg)
	}
}

func TestSMTPNotifierInvalidRecipient(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 587, From: "a@b"})
	called := false
	n.send = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}
	if n.SendRecoveryLink(context.Background(), "not an address", "t") {
		t.Error("SendRecoveryLink() = true for an unparsable recipient")
	}
	if called {
		t.Error("send called for an unparsable recipient")
	}
}

func TestContactNotLogged(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	logging.SetLevel("debug")
	t.Cleanup(func() {
		logging.Discard()
		logging.SetLevel("info")
	})

	(LogNotifier{}).SendRecoveryLink(context.Background(), "ana@example.com", "tok123")

	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 587, From: "a@b"})
	n.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	n.SendRecoveryLink(context.Background(), "ana@example.com", "tok123")
	n.send = func(string, smtp.Auth, string, []string, []byte) error { return nil }
	n.SendRecoveryLink(context.Background(), "ana@example.com", "tok123")

	out := buf.String()
	if strings.Contains(out, "ana@example.com") || strings.Contains(out, "tok123") {
		t.Errorf("log contains contact or token:\n%s", out)
	}
	if !strings.Contains(out, logging.Fingerprint("ana@example.com")) {
		t.Errorf("log missing contact fingerprint:\n%s", out)
	}
}

func TestSMTPNotifierNoAuth(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 25, From: "a@b"})
	var gotAuth smtp.Auth = smtp.PlainAuth("", "x", "y", "z")
	n.send = func(_ string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		gotAuth = a
		return nil
	}
	if !n.SendRecoveryLink(context.Background(), "ana@example.com", "t") {
		t.Fatal("SendRecoveryLink() = false")
	}
	if gotAuth != nil {
		t.Error("expected no auth without credentials")
	}
}

func TestSMTPNotifierFailure(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 587, From: "a@b"})
	n.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	if n.SendRecoveryLink(context.Background(), "ana@example.com", "t") {
		t.Error("SendRecoveryLink() = true on send failure")
	}
}

func TestSMTPNotifierCancelled(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 587, From: "a@b"})
	called := false
	n.send = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n.SendRecoveryLink(ctx, "ana@example.com", "t") {
		t.Error("SendRecoveryLink() = true with cancelled context")
	}
	if called {
		t.Error("send called with cancelled context")
	}
}

func TestLogNotifier(t *testing.T) {
	if !(LogNotifier{}).SendRecoveryLink(context.Background(), "ana@example.com", "t") {
		t.Error("LogNotifier should report success")
	}
}
