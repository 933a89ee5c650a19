// Package recovery issues, validates and consumes single-use password
// recovery tokens.
//
// A token is Issued, then Consumed. Expiry is not a stored state: a token is
// valid while it is unused and no older than the configured window. Issuing
// a token for a contact invalidates every earlier unused token for it.
package recovery

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/facegate/pkg/logging"
)

// TokenBytes is the amount of randomness in a token.
const TokenBytes = 32

var (
	// ErrInvalidToken is returned for unknown, used and expired tokens alike.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrRateLimited is returned when too many tokens were issued for a contact.
	ErrRateLimited = errors.New("too many recovery requests")
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("recovery token not found")
)

// Token is a stored recovery token.
type Token struct {
	Token     string
	Contact   string
	CreatedAt time.Time
	Used      bool
}

// Expired reports whether the token is older than window at now.
func (t Token) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(t.CreatedAt) > window
}

// Repository persists tokens.
type Repository interface {
	// Replace invalidates all unused tokens for tok.Contact and stores tok,
	// atomically with respect to concurrent Replace calls for the same contact.
	Replace(ctx context.Context, tok Token) error
	Find(ctx context.Context, token string) (Token, error)
	// MarkUsed flags a token as used. Unknown or already used tokens are not an error.
	MarkUsed(ctx context.Context, token string) error
	// Claim flips an unused token to used and returns it. Only one caller can
	// claim a given token; the rest get ErrNotFound.
	Claim(ctx context.Context, token string) (Token, error)
}

// Limiter caps token issuance per contact.
type Limiter interface {
	Allow(ctx context.Context, contact string) (bool, error)
}

// Service implements the token lifecycle.
type Service struct {
	repo    Repository
	limiter Limiter
	window  time.Duration
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLimiter enables issuance rate limiting.
func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service whose tokens are valid for window.
func NewService(repo Repository, window time.Duration, opts ...Option) *Service {
	s := &Service{repo: repo, window: window, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the validity window.
func (s *Service) Window() time.Duration {
	return s.window
}

// NewToken returns a URL-safe random token carrying TokenBytes of entropy.
func NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates a token for contact, invalidating earlier unused ones.
func (s *Service) Issue(ctx context.Context, contact string) (string, error) {
	log := logging.Component("recovery")

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, contact)
		switch {
		case err != nil:
			log.WithError(err).Warn("Rate limiter unavailable, allowing issuance")
		case !ok:
			return "", ErrRateLimited
		}
	}

	token, err := NewToken()
	if err != nil {
		return "", err
	}

	tok := Token{Token: token, Contact: contact, CreatedAt: s.now().UTC()}
	if err := s.repo.Replace(ctx, tok); err != nil {
		return "", fmt.Errorf("store recovery token: %w", err)
	}

	log.WithField("token", logging.Fingerprint(token)).Info("Recovery token issued")
	return token, nil
}

// Validate returns the contact a live token was issued for.
func (s *Service) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	tok, err := s.repo.Find(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("load recovery token: %w", err)
	}
	if tok.Used || tok.Expired(s.now(), s.window) {
		return "", ErrInvalidToken
	}
	return tok.Contact, nil
}

// Consume marks token used. It is idempotent.
func (s *Service) Consume(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.repo.MarkUsed(ctx, token); err != nil {
		return fmt.Errorf("consume recovery token: %w", err)
	}
	return nil
}

// Redeem atomically consumes a live token and returns its contact. When two
// callers race, exactly one succeeds. An expired token is burnt and reported
// invalid.
func (s *Service) Redeem(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	tok, err := s.repo.Claim(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("redeem recovery token: %w", err)
	}
	if tok.Expired(s.now(), s.window) {
		return "", ErrInvalidToken
	}

	logging.Component("recovery").WithField("token", logging.Fingerprint(token)).Info("Recovery token redeemed")
	return tok.Contact, nil
}
