// Package httpapi exposes the authentication workflows over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/MrCodeEU/facegate/pkg/auth"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/session"
)

// Service is the workflow surface the handlers call.
type Service interface {
	Register(ctx context.Context, req auth.RegisterRequest) auth.AuthResult
	Enroll(ctx context.Context, contact string) auth.AuthResult
	PasswordLogin(ctx context.Context, req auth.LoginRequest) auth.AuthResult
	FaceLogin(ctx context.Context, upload []byte) auth.AuthResult
	Session(ctx context.Context, bearer string) (session.Session, error)
	SealData(ctx context.Context, bearer string, plaintext []byte) ([]byte, error)
	OpenData(ctx context.Context, bearer string, blob []byte) ([]byte, error)
	Logout(ctx context.Context, bearer string) error
	ForgotPassword(ctx context.Context, contact, captchaResponse, remoteIP string) error
	ValidateResetToken(ctx context.Context, token string) (string, error)
	ResetPassword(ctx context.Context, req auth.ResetRequest) error
}

// HealthCheck reports the state of one backing service.
type HealthCheck func(ctx context.Context) error

// Options configures the server.
type Options struct {
	Address        string
	MaxUploadBytes int
	SessionTTL     time.Duration
	Checks         map[string]HealthCheck
}

// Server wraps the Fiber application.
type Server struct {
	app  *fiber.App
	addr string
}

// New creates the server and registers all routes.
func New(svc Service, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	app := fiber.New(fiber.Config{
		AppName:               "facegate",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             opts.MaxUploadBytes,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(RequestID(), AccessLog())

	h := &handler{svc: svc, ttl: opts.SessionTTL}
	api := app.Group("/api")
	api.Post("/register", h.register)
	api.Post("/login", h.login)
	api.Post("/face/verify", h.faceVerify)
	api.Post("/face/enroll", BearerAuth(), h.faceEnroll)
	api.Post("/password/forgot", h.forgotPassword)
	api.Get("/password/reset/:token", h.checkResetToken)
	api.Post("/password/reset/:token", h.resetPassword)
	api.Post("/session/seal", BearerAuth(), h.seal)
	api.Post("/session/open", BearerAuth(), h.open)
	api.Post("/logout", BearerAuth(), h.logout)

	registerHealth(app, opts.Checks)

	return &Server{app: app, addr: opts.Address}
}

// App returns the underlying Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts serving on the configured address.
func (s *Server) Listen() error {
	logging.Component("http").Infof("Listening on %s", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code auth.ErrorCode) int {
	switch code {
	case auth.ErrCodeInvalidInput, auth.ErrCodeWeakPassword, auth.ErrCodePasswordMismatch,
		auth.ErrCodeInvalidImage, auth.ErrCodeInvalidToken:
		return http.StatusBadRequest
	case auth.ErrCodeInvalidCredentials, auth.ErrCodeNotRecognized, auth.ErrCodeSession:
		return http.StatusUnauthorized
	case auth.ErrCodeCaptcha:
		return http.StatusForbidden
	case auth.ErrCodeNotRegistered:
		return http.StatusNotFound
	case auth.ErrCodeExists:
		return http.StatusConflict
	case auth.ErrCodeNoFace:
		return http.StatusUnprocessableEntity
	case auth.ErrCodeCamera, auth.ErrCodeCrypto:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func statusOf(err error) int {
	var ae *auth.AuthError
	if errors.As(err, &ae) {
		return StatusFor(ae.Code)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return http.StatusInternalServerError
}

// errorHandler renders every failure as an errorResponse. Messages are the
// generic user-facing ones; causes stay in the log.
func errorHandler(c *fiber.Ctx, err error) error {
	var ae *auth.AuthError
	if errors.As(err, &ae) {
		return c.Status(StatusFor(ae.Code)).JSON(errorResponse{Error: string(ae.Code), Message: ae.Message, Retry: ae.Retry})
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorResponse{Error: http.StatusText(fe.Code), Message: fe.Message})
	}

	logging.Component("http").WithError(err).Error("Unhandled error")
	internal := auth.NewAuthError(auth.ErrCodeInternal, true)
	return c.Status(http.StatusInternalServerError).JSON(errorResponse{Error: string(internal.Code), Message: internal.Message, Retry: true})
}
