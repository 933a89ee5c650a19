package auth

import (
	"context"
	"errors"

	"github.com/MrCodeEU/facegate/pkg/identity"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/recovery"
)

// ForgotPassword issues a recovery token and sends the reset link. Unknown
// contacts and rate-limited requests succeed silently so callers cannot
// tell which contacts are registered.
func (a *Authenticator) ForgotPassword(ctx context.Context, contact, captchaResponse, remoteIP string) error {
	log := logging.Component("auth")

	if !a.human(ctx, captchaResponse, remoteIP) {
		return NewAuthError(ErrCodeCaptcha, true)
	}
	if identity.NormalizeContact(contact) == "" {
		return NewAuthError(ErrCodeInvalidInput, true)
	}

	id, err := a.Identities.Lookup(ctx, contact)
	if errors.Is(err, identity.ErrNotFound) {
		log.Infof("Recovery requested for unknown contact %s", logging.Fingerprint(contact))
		return nil
	}
	if err != nil {
		log.WithError(err).Error("Identity lookup failed")
		return NewAuthError(ErrCodeInternal, true)
	}

	token, err := a.Recovery.Issue(ctx, id.Contact)
	if errors.Is(err, recovery.ErrRateLimited) {
		log.Warnf("Recovery rate limit hit for %s", logging.Fingerprint(id.Contact))
		return nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to issue recovery token")
		return NewAuthError(ErrCodeInternal, true)
	}

	if a.Notifier.SendRecoveryLink(ctx, id.Contact, token) {
		log.Infof("Recovery link sent to %s", logging.Fingerprint(id.Contact))
	} else {
		log.Warnf("Recovery link delivery failed for %s", logging.Fingerprint(id.Contact))
	}
	return nil
}

// ValidateResetToken reports the contact a live token belongs to.
func (a *Authenticator) ValidateResetToken(ctx context.Context, token string) (string, error) {
	contact, err := a.Recovery.Validate(ctx, token)
	if errors.Is(err, recovery.ErrInvalidToken) {
		return "", NewAuthError(ErrCodeInvalidToken, false)
	}
	if err != nil {
		logging.Component("auth").WithError(err).Error("Token validation failed")
		return "", NewAuthError(ErrCodeInternal, true)
	}
	return contact, nil
}

// ResetRequest carries the new password for a recovery token.
type ResetRequest struct {
	Token    string
	Password string
	Confirm  string
	Captcha  string
	RemoteIP string
}

// ResetPassword redeems the token and sets a new password. The CAPTCHA and
// password checks run before the token is spent.
func (a *Authenticator) ResetPassword(ctx context.Context, req ResetRequest) error {
	log := logging.Component("auth")

	if !a.human(ctx, req.Captcha, req.RemoteIP) {
		return NewAuthError(ErrCodeCaptcha, true)
	}
	if req.Password != req.Confirm {
		return NewAuthError(ErrCodePasswordMismatch, true)
	}
	if len(req.Password) < a.opts.MinPasswordLength {
		return NewAuthError(ErrCodeWeakPassword, true)
	}

	contact, err := a.Recovery.Redeem(ctx, req.Token)
	if errors.Is(err, recovery.ErrInvalidToken) {
		return NewAuthError(ErrCodeInvalidToken, false)
	}
	if err != nil {
		log.WithError(err).Error("Token redemption failed")
		return NewAuthError(ErrCodeInternal, true)
	}

	if err := a.Identities.SetPassword(ctx, contact, req.Password); err != nil {
		if errors.Is(err, identity.ErrWeakPassword) {
			return NewAuthError(ErrCodeWeakPassword, true)
		}
		log.WithError(err).Error("Failed to update password")
		return NewAuthError(ErrCodeInternal, true)
	}

	log.Infof("Password reset for %s", logging.Fingerprint(contact))
	return nil
}

// human reports whether the CAPTCHA response passes. Without a verifier
// every request passes.
func (a *Authenticator) human(ctx context.Context, response, remoteIP string) bool {
	return a.Captcha == nil || a.Captcha.Verify(ctx, response, remoteIP)
}
