// Package captcha verifies reCAPTCHA responses.
package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrCodeEU/facegate/pkg/logging"
)

// DefaultVerifyURL is Google's siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Verifier checks a CAPTCHA response.
type Verifier interface {
	Verify(ctx context.Context, response, remoteIP string) bool
}

// RecaptchaVerifier calls the siteverify API. With an empty secret every
// response passes.
type RecaptchaVerifier struct {
	secret    string
	verifyURL string
	client    *http.Client
}

// NewRecaptchaVerifier creates a RecaptchaVerifier.
func NewRecaptchaVerifier(secret, verifyURL string, timeout time.Duration) *RecaptchaVerifier {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RecaptchaVerifier{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify reports whether response is accepted. Transport and decode errors
// count as a failed check.
func (v *RecaptchaVerifier) Verify(ctx context.Context, response, remoteIP string) bool {
	log := logging.Component("captcha")
	if v.secret == "" {
		log.Debug("No reCAPTCHA secret configured, skipping verification")
		return true
	}

	form := url.Values{"secret": {v.secret}, "response": {response}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		log.WithError(err).Error("Failed to build reCAPTCHA request")
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("reCAPTCHA verification failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warnf("reCAPTCHA returned status %d", resp.StatusCode)
		return false
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.WithError(err).Warn("Invalid reCAPTCHA response")
		return false
	}
	if !body.Success {
		log.WithField("errors", body.ErrorCodes).Debug("reCAPTCHA rejected response")
	}
	return body.Success
}
