// Package identity stores registered users and their credentials.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotFound is returned when no identity has the given contact.
	ErrNotFound = errors.New("identity not found")
	// ErrExists is returned when registering a contact twice.
	ErrExists = errors.New("identity already exists")
	// ErrInvalidCredentials is returned for an unknown contact or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWeakPassword is returned when a password is shorter than the minimum.
	ErrWeakPassword = errors.New("password too short")
	// ErrMissingFields is returned when registering without a name or contact.
	ErrMissingFields = errors.New("name and contact are required")
)

// Identity is a registered user. Contact is the natural key.
type Identity struct {
	ID             string
	Name           string
	Contact        string
	CredentialHash []byte
	// TemplatePath points at the stored biometric template; empty when the
	// identity has not enrolled a face.
	TemplatePath string
	CreatedAt    time.Time
}

// Enrolled reports whether the identity has a biometric template.
func (i Identity) Enrolled() bool {
	return i.TemplatePath != ""
}

// Repository persists identities.
type Repository interface {
	Create(ctx context.Context, id Identity) error
	FindByContact(ctx context.Context, contact string) (Identity, error)
	UpdateCredentialHash(ctx context.Context, contact string, hash []byte) error
	SetTemplatePath(ctx context.Context, contact, path string) error
	// ListEnrolled returns identities with a template in registration order.
	ListEnrolled(ctx context.Context) ([]Identity, error)
	List(ctx context.Context) ([]Identity, error)
}

// Service implements registration and password checks.
type Service struct {
	repo       Repository
	minLength  int
	bcryptCost int
	now        func() time.Time
}

// NewService creates a Service. minLength is the minimum password length.
func NewService(repo Repository, minLength int) *Service {
	return &Service{
		repo:       repo,
		minLength:  minLength,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// SetCost overrides the bcrypt cost, mainly so tests can use bcrypt.MinCost.
func (s *Service) SetCost(cost int) {
	s.bcryptCost = cost
}

// NormalizeContact lowercases and trims a contact address.
func NormalizeContact(contact string) string {
	return strings.ToLower(strings.TrimSpace(contact))
}

// Register creates an identity with a bcrypt hash of password.
func (s *Service) Register(ctx context.Context, name, contact, password string) (Identity, error) {
	contact = NormalizeContact(contact)
	if contact == "" || strings.TrimSpace(name) == "" {
		return Identity{}, ErrMissingFields
	}
	if len(password) < s.minLength {
		return Identity{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	id := Identity{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(name),
		Contact:        contact,
		CredentialHash: hash,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.Create(ctx, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Authenticate checks a password and returns the identity. Unknown contacts
// and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, contact, password string) (Identity, error) {
	id, err := s.repo.FindByContact(ctx, NormalizeContact(contact))
	if errors.Is(err, ErrNotFound) {
		// Unknown contacts cost one bcrypt comparison, like wrong passwords.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, err
	}
	if bcrypt.CompareHashAndPassword(id.CredentialHash, []byte(password)) != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return id, nil
}

// SetPassword replaces the credential hash for contact.
func (s *Service) SetPassword(ctx context.Context, contact, password string) error {
	if len(password) < s.minLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.UpdateCredentialHash(ctx, NormalizeContact(contact), hash)
}

// Lookup returns the identity for contact.
func (s *Service) Lookup(ctx context.Context, contact string) (Identity, error) {
	return s.repo.FindByContact(ctx, NormalizeContact(contact))
}

// AttachTemplate records where the identity's template is stored. An empty
// path detaches it.
func (s *Service) AttachTemplate(ctx context.Context, contact, path string) error {
	return s.repo.SetTemplatePath(ctx, NormalizeContact(contact), path)
}

// Enrolled returns identities that have a template.
func (s *Service) Enrolled(ctx context.Context) ([]Identity, error) {
	return s.repo.ListEnrolled(ctx)
}

// All returns every identity.
func (s *Service) All(ctx context.Context) ([]Identity, error) {
	return s.repo.List(ctx)
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("facegate-timing-pad"), bcrypt.DefaultCost)
