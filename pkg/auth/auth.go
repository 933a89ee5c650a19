// Package auth implements the authentication workflows: registration,
// password and face login, session data protection and password recovery.
// It maps component errors to AuthError values with generic messages.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrCodeEU/facegate/pkg/biometric"
	"github.com/MrCodeEU/facegate/pkg/capture"
	"github.com/MrCodeEU/facegate/pkg/captcha"
	"github.com/MrCodeEU/facegate/pkg/identity"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/notification"
	"github.com/MrCodeEU/facegate/pkg/session"
	"github.com/MrCodeEU/facegate/pkg/storage"
)

// AuthResult represents the result of an authentication attempt.
type AuthResult struct {
	Success  bool
	Error    error
	Duration time.Duration
	Reason   string

	Contact string
	Name    string
	Method  string
	Score   float32

	SessionID string
	Token     string
	// FaceEnrolled is set by Register when optional enrollment succeeded.
	FaceEnrolled bool
}

// Capturer acquires face images.
type Capturer interface {
	AcquireEnrollmentImage(ctx context.Context, identityHint string) (string, error)
	AcquireVerificationImage(data []byte) (string, error)
	Discard(path string)
}

// Identities stores users and checks passwords.
type Identities interface {
	Register(ctx context.Context, name, contact, password string) (identity.Identity, error)
	Authenticate(ctx context.Context, contact, password string) (identity.Identity, error)
	SetPassword(ctx context.Context, contact, password string) error
	Lookup(ctx context.Context, contact string) (identity.Identity, error)
	AttachTemplate(ctx context.Context, contact, path string) error
	Enrolled(ctx context.Context) ([]identity.Identity, error)
}

// Templates persists biometric templates.
type Templates interface {
	SaveTemplate(identity, modality string, tmpl biometric.Template) (string, error)
	LoadTemplateFile(path string) (biometric.Template, error)
}

// Crypto mints and uses wrapped session keys.
type Crypto interface {
	MintSessionKey() ([]byte, error)
	Seal(wrapped, plaintext []byte) ([]byte, error)
	Open(wrapped, blob []byte) ([]byte, error)
}

// Recovery manages password recovery tokens.
type Recovery interface {
	Issue(ctx context.Context, contact string) (string, error)
	Validate(ctx context.Context, token string) (string, error)
	Redeem(ctx context.Context, token string) (string, error)
}

// TokenIssuer signs and verifies session bearer tokens.
type TokenIssuer interface {
	Sign(s session.Session) (string, error)
	Parse(token string) (*session.Claims, error)
}

// Deps groups the Authenticator's collaborators.
type Deps struct {
	Capture    Capturer
	Identities Identities
	Templates  Templates
	Crypto     Crypto
	Recovery   Recovery
	Sessions   session.Store
	Tokens     TokenIssuer
	Notifier   notification.Notifier
	Captcha    captcha.Verifier
}

// Options tunes the workflows.
type Options struct {
	SessionTTL        time.Duration
	MinPasswordLength int
}

// Authenticator runs the authentication workflows.
type Authenticator struct {
	Deps
	opts Options

	extract func(path string, mode biometric.Mode) (biometric.Template, error)
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(deps Deps, opts Options) *Authenticator {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = 6
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.LogNotifier{}
	}
	return &Authenticator{Deps: deps, opts: opts, extract: biometric.ExtractTemplateFile}
}

// RegisterRequest carries registration input.
type RegisterRequest struct {
	Name       string
	Contact    string
	Password   string
	EnrollFace bool
	Captcha    string
	RemoteIP   string
}

// LoginRequest carries password login input.
type LoginRequest struct {
	Contact  string
	Password string
	Captcha  string
	RemoteIP string
}

// Register creates an identity and, if requested, enrolls a face. A failed
// enrollment does not fail the registration.
func (a *Authenticator) Register(ctx context.Context, req RegisterRequest) AuthResult {
	start := time.Now()
	log := logging.Component("auth")
	result := AuthResult{Contact: identity.NormalizeContact(req.Contact), Method: session.MethodPassword}

	if strings.TrimSpace(req.Name) == "" || result.Contact == "" || req.Password == "" {
		result.Error, result.Reason = NewAuthError(ErrCodeInvalidInput, true), "missing fields"
		result.Duration = time.Since(start)
		return result
	}
	if !a.human(ctx, req.Captcha, req.RemoteIP) {
		result.Error, result.Reason = NewAuthError(ErrCodeCaptcha, true), "captcha rejected"
		result.Duration = time.Since(start)
		log.Info("Registration captcha rejected")
		return result
	}

	id, err := a.Identities.Register(ctx, req.Name, req.Contact, req.Password)
	if err != nil {
		result.Error, result.Reason = a.identityError(err)
		result.Duration = time.Since(start)
		log.WithError(err).Info("Registration rejected")
		return result
	}
	result.Success = true
	result.Name = id.Name
	result.Contact = id.Contact
	log.Infof("Registered %s", logging.Fingerprint(id.Contact))

	if req.EnrollFace {
		if err := a.enroll(ctx, id); err != nil {
			log.WithError(err).Warn("Face enrollment during registration failed")
			result.Reason = "registered without face enrollment"
		} else {
			result.FaceEnrolled = true
		}
	}

	result.Duration = time.Since(start)
	return result
}

// Enroll captures a face for an existing identity and stores its template,
// replacing any earlier one.
func (a *Authenticator) Enroll(ctx context.Context, contact string) AuthResult {
	start := time.Now()
	result := AuthResult{Contact: identity.NormalizeContact(contact), Method: session.MethodFace}

	id, err := a.Identities.Lookup(ctx, contact)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			result.Error, result.Reason = NewAuthError(ErrCodeNotRegistered, false), "unknown contact"
		} else {
			result.Error, result.Reason = NewAuthError(ErrCodeInternal, true), err.Error()
		}
		result.Duration = time.Since(start)
		return result
	}

	if err := a.enroll(ctx, id); err != nil {
		result.Error, result.Reason = a.enrollError(err)
		result.Duration = time.Since(start)
		logging.Component("auth").WithError(err).Warn("Enrollment failed")
		return result
	}

	result.Success = true
	result.Name = id.Name
	result.FaceEnrolled = true
	result.Duration = time.Since(start)
	return result
}

func (a *Authenticator) enroll(ctx context.Context, id identity.Identity) error {
	path, err := a.Capture.AcquireEnrollmentImage(ctx, id.Contact)
	if err != nil {
		return err
	}
	defer a.Capture.Discard(path)

	tmpl, err := a.extract(path, biometric.ModeEnrollment)
	if err != nil {
		return err
	}

	stored, err := a.Templates.SaveTemplate(id.ID, storage.ModalityFace, tmpl)
	if err != nil {
		return err
	}
	if err := a.Identities.AttachTemplate(ctx, id.Contact, stored); err != nil {
		return err
	}

	logging.Component("auth").Infof("Face enrolled for %s", logging.Fingerprint(id.Contact))
	return nil
}

// PasswordLogin checks a password and opens a session.
func (a *Authenticator) PasswordLogin(ctx context.Context, req LoginRequest) AuthResult {
	start := time.Now()
	result := AuthResult{Contact: identity.NormalizeContact(req.Contact), Method: session.MethodPassword}

	if result.Contact == "" || req.Password == "" {
		result.Error, result.Reason = NewAuthError(ErrCodeInvalidInput, true), "missing fields"
		result.Duration = time.Since(start)
		return result
	}
	if !a.human(ctx, req.Captcha, req.RemoteIP) {
		result.Error, result.Reason = NewAuthError(ErrCodeCaptcha, true), "captcha rejected"
		result.Duration = time.Since(start)
		return result
	}

	id, err := a.Identities.Authenticate(ctx, req.Contact, req.Password)
	if err != nil {
		result.Error, result.Reason = a.identityError(err)
		result.Duration = time.Since(start)
		return result
	}

	result.Name = id.Name
	a.startSession(ctx, &result)
	result.Duration = time.Since(start)
	return result
}

// Identify returns the best enrolled match for an uploaded image without
// opening a session. The uploaded image is removed on every path. Failures
// are *AuthError values.
func (a *Authenticator) Identify(ctx context.Context, upload []byte) (biometric.BestMatch, error) {
	log := logging.Component("auth")

	path, err := a.Capture.AcquireVerificationImage(upload)
	if err != nil {
		log.WithError(err).Info("Rejected verification upload")
		return biometric.BestMatch{}, NewAuthError(ErrCodeInvalidImage, true)
	}
	defer a.Capture.Discard(path)

	candidate, err := a.extract(path, biometric.ModeVerification)
	if err != nil {
		log.WithError(err).Info("Template extraction failed")
		return biometric.BestMatch{}, NewAuthError(ErrCodeInvalidImage, true)
	}

	index := biometric.NewLinearIndex(biometric.SourceFunc(a.enrolledTemplates))
	match, err := index.Nearest(ctx, candidate)
	if errors.Is(err, biometric.ErrNoMatch) {
		log.Info("Face not recognized")
		return biometric.BestMatch{}, NewAuthError(ErrCodeNotRecognized, true)
	}
	if err != nil {
		log.WithError(err).Error("Face identification failed")
		return biometric.BestMatch{}, NewAuthError(ErrCodeInternal, true)
	}

	log.Infof("Face matched %s (score %.4f)", logging.Fingerprint(match.Identity), match.Score)
	return match, nil
}

// FaceLogin identifies the uploaded face among enrolled identities and
// opens a session for the best match.
func (a *Authenticator) FaceLogin(ctx context.Context, upload []byte) AuthResult {
	start := time.Now()
	result := AuthResult{Method: session.MethodFace}

	match, err := a.Identify(ctx, upload)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	result.Contact = match.Identity
	result.Score = match.Score
	if id, err := a.Identities.Lookup(ctx, match.Identity); err == nil {
		result.Name = id.Name
	}

	a.startSession(ctx, &result)
	result.Duration = time.Since(start)
	return result
}

// enrolledTemplates loads every stored template, skipping unreadable ones.
func (a *Authenticator) enrolledTemplates(ctx context.Context) ([]biometric.Enrolled, error) {
	ids, err := a.Identities.Enrolled(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]biometric.Enrolled, 0, len(ids))
	for _, id := range ids {
		tmpl, err := a.Templates.LoadTemplateFile(id.TemplatePath)
		if err != nil {
			logging.Component("auth").WithError(err).Warnf("Skipping template for %s", logging.Fingerprint(id.Contact))
			continue
		}
		out = append(out, biometric.Enrolled{Identity: id.Contact, Template: tmpl})
	}
	return out, nil
}

func (a *Authenticator) startSession(ctx context.Context, result *AuthResult) {
	log := logging.Component("auth")

	wrapped, err := a.Crypto.MintSessionKey()
	if err != nil {
		result.Error, result.Reason = NewAuthError(ErrCodeCrypto, false), err.Error()
		log.WithError(err).Error("Failed to mint session key")
		return
	}

	s := session.New(result.Contact, result.Method, wrapped)
	if err := a.Sessions.Save(ctx, s, a.opts.SessionTTL); err != nil {
		result.Error, result.Reason = NewAuthError(ErrCodeInternal, true), err.Error()
		log.WithError(err).Error("Failed to store session")
		return
	}

	token, err := a.Tokens.Sign(s)
	if err != nil {
		_ = a.Sessions.Delete(ctx, s.ID)
		result.Error, result.Reason = NewAuthError(ErrCodeInternal, true), err.Error()
		log.WithError(err).Error("Failed to sign session token")
		return
	}

	result.Success = true
	result.SessionID = s.ID
	result.Token = token
}

// Session resolves a bearer token to its stored session.
func (a *Authenticator) Session(ctx context.Context, bearer string) (session.Session, error) {
	claims, err := a.Tokens.Parse(bearer)
	if err != nil {
		return session.Session{}, NewAuthError(ErrCodeSession, false)
	}
	s, err := a.Sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return session.Session{}, NewAuthError(ErrCodeSession, false)
	}
	if err != nil {
		logging.Component("auth").WithError(err).Error("Session lookup failed")
		return session.Session{}, NewAuthError(ErrCodeInternal, true)
	}
	return s, nil
}

// SealData encrypts plaintext under the session's key.
func (a *Authenticator) SealData(ctx context.Context, bearer string, plaintext []byte) ([]byte, error) {
	s, err := a.Session(ctx, bearer)
	if err != nil {
		return nil, err
	}
	blob, err := a.Crypto.Seal(s.WrappedKey, plaintext)
	if err != nil {
		logging.Component("auth").WithError(err).Warn("Seal failed")
		return nil, NewAuthError(ErrCodeCrypto, false)
	}
	return blob, nil
}

// OpenData decrypts a blob produced by SealData for the same session.
func (a *Authenticator) OpenData(ctx context.Context, bearer string, blob []byte) ([]byte, error) {
	s, err := a.Session(ctx, bearer)
	if err != nil {
		return nil, err
	}
	plaintext, err := a.Crypto.Open(s.WrappedKey, blob)
	if err != nil {
		logging.Component("auth").WithError(err).Warn("Open failed")
		return nil, NewAuthError(ErrCodeCrypto, false)
	}
	return plaintext, nil
}

// Logout deletes the session behind bearer.
func (a *Authenticator) Logout(ctx context.Context, bearer string) error {
	claims, err := a.Tokens.Parse(bearer)
	if err != nil {
		return NewAuthError(ErrCodeSession, false)
	}
	if err := a.Sessions.Delete(ctx, claims.SessionID); err != nil {
		logging.Component("auth").WithError(err).Error("Failed to delete session")
		return NewAuthError(ErrCodeInternal, true)
	}
	return nil
}

func (a *Authenticator) identityError(err error) (*AuthError, string) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return NewAuthError(ErrCodeInvalidCredentials, true), "invalid credentials"
	case errors.Is(err, identity.ErrExists):
		return NewAuthError(ErrCodeExists, false), "contact already registered"
	case errors.Is(err, identity.ErrWeakPassword):
		return NewAuthError(ErrCodeWeakPassword, true), "password too short"
	case errors.Is(err, identity.ErrMissingFields):
		return NewAuthError(ErrCodeInvalidInput, true), "missing fields"
	default:
		logging.Component("auth").WithError(err).Error("Identity store failure")
		return NewAuthError(ErrCodeInternal, true), err.Error()
	}
}

func (a *Authenticator) enrollError(err error) (*AuthError, string) {
	switch {
	case errors.Is(err, capture.ErrNoFaceDetected):
		return NewAuthError(ErrCodeNoFace, true), "no face detected"
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return NewAuthError(ErrCodeCamera, true), "imaging device unavailable"
	case errors.Is(err, biometric.ErrExtractionFailed):
		return NewAuthError(ErrCodeNoFace, true), "template extraction failed"
	default:
		return NewAuthError(ErrCodeInternal, true), err.Error()
	}
}
