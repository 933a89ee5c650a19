package auth

import (
	"context"
	"sync"
)

// MockCapturer implements Capturer for testing
type MockCapturer struct {
	AcquireEnrollmentImageFunc   func(ctx context.Context, identityHint string) (string, error)
	AcquireVerificationImageFunc func(data []byte) (string, error)

	mu        sync.Mutex
	discarded []string
}

func (m *MockCapturer) AcquireEnrollmentImage(ctx context.Context, identityHint string) (string, error) {
	if m.AcquireEnrollmentImageFunc != nil {
		return m.AcquireEnrollmentImageFunc(ctx, identityHint)
	}
	return "enroll_" + identityHint + ".jpg", nil
}

func (m *MockCapturer) AcquireVerificationImage(data []byte) (string, error) {
	if m.AcquireVerificationImageFunc != nil {
		return m.AcquireVerificationImageFunc(data)
	}
	return "verify_" + string(data) + ".jpg", nil
}

func (m *MockCapturer) Discard(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded = append(m.discarded, path)
}

func (m *MockCapturer) Discarded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.discarded...)
}

// MockCrypto implements Crypto for testing
type MockCrypto struct {
	MintSessionKeyFunc func() ([]byte, error)
	SealFunc           func(wrapped, plaintext []byte) ([]byte, error)
	OpenFunc           func(wrapped, blob []byte) ([]byte, error)
}

func (m *MockCrypto) MintSessionKey() ([]byte, error) {
	if m.MintSessionKeyFunc != nil {
		return m.MintSessionKeyFunc()
	}
	return []byte("wrapped-key"), nil
}

func (m *MockCrypto) Seal(wrapped, plaintext []byte) ([]byte, error) {
	if m.SealFunc != nil {
		return m.SealFunc(wrapped, plaintext)
	}
	return append([]byte(nil), plaintext...), nil
}

func (m *MockCrypto) Open(wrapped, blob []byte) ([]byte, error) {
	if m.OpenFunc != nil {
		return m.OpenFunc(wrapped, blob)
	}
	return append([]byte(nil), blob...), nil
}

// MockNotifier records recovery links
type MockNotifier struct {
	Result bool

	mu    sync.Mutex
	sent  map[string]string
	calls int
}

func (m *MockNotifier) SendRecoveryLink(_ context.Context, contact, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = make(map[string]string)
	}
	m.sent[contact] = token
	m.calls++
	return m.Result
}

func (m *MockNotifier) TokenFor(contact string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[contact]
}

func (m *MockNotifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockCaptcha implements captcha.Verifier for testing
type MockCaptcha struct {
	VerifyFunc func(ctx context.Context, response, remoteIP string) bool
}

func (m *MockCaptcha) Verify(ctx context.Context, response, remoteIP string) bool {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, response, remoteIP)
	}
	return true
}
