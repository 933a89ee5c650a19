package auth

import "errors"

// ErrorCode represents a specific authentication error type.
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeExists             ErrorCode = "ALREADY_REGISTERED"
	ErrCodeNotRegistered      ErrorCode = "NOT_REGISTERED"
	ErrCodeWeakPassword       ErrorCode = "WEAK_PASSWORD"
	ErrCodePasswordMismatch   ErrorCode = "PASSWORD_MISMATCH"
	ErrCodeNoFace             ErrorCode = "NO_FACE"
	ErrCodeCamera             ErrorCode = "CAMERA_ERROR"
	ErrCodeInvalidImage       ErrorCode = "INVALID_IMAGE"
	ErrCodeNotRecognized      ErrorCode = "NOT_RECOGNIZED"
	ErrCodeCaptcha            ErrorCode = "CAPTCHA_FAILED"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeSession            ErrorCode = "SESSION_INVALID"
	ErrCodeCrypto             ErrorCode = "CRYPTO_ERROR"
	ErrCodeInternal           ErrorCode = "INTERNAL"
)

// AuthError is a structured authentication error. Message is safe to show
// to the user; internal causes are only logged.
type AuthError struct {
	Code    ErrorCode
	Message string
	Retry   bool
}

func (e *AuthError) Error() string {
	return e.Message
}

// Is matches another *AuthError with the same code.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Code == e.Code
}

// User-facing messages
var errorMessages = map[ErrorCode]string{
	ErrCodeInvalidInput:       "Please fill in all required fields",
	ErrCodeInvalidCredentials: "Invalid credentials",
	ErrCodeExists:             "This contact is already registered",
	ErrCodeNotRegistered:      "No account found for this contact",
	ErrCodeWeakPassword:       "Password is too short",
	ErrCodePasswordMismatch:   "Passwords do not match",
	ErrCodeNoFace:             "No face detected. Please face the camera and try again",
	ErrCodeCamera:             "Camera error. Please check your camera connection",
	ErrCodeInvalidImage:       "The uploaded image could not be processed",
	ErrCodeNotRecognized:      "Face not recognized",
	ErrCodeCaptcha:            "CAPTCHA verification failed",
	ErrCodeInvalidToken:       "This link is invalid or has expired",
	ErrCodeSession:            "Session expired. Please sign in again",
	ErrCodeCrypto:             "Secure session could not be established",
	ErrCodeInternal:           "Something went wrong. Please try again",
}

// GetErrorMessage returns a user-facing message for an error code.
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return "Authentication failed"
}

// NewAuthError creates a new authentication error.
func NewAuthError(code ErrorCode, retry bool) *AuthError {
	return &AuthError{
		Code:    code,
		Message: GetErrorMessage(code),
		Retry:   retry,
	}
}

// ErrorCodeOf returns the code of an *AuthError in err's chain, or
// ErrCodeInternal.
func ErrorCodeOf(err error) ErrorCode {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ErrCodeInternal
}
