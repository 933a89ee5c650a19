// Package app assembles the components described by a Config into a
// running service.
package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrCodeEU/facegate/pkg/auth"
	"github.com/MrCodeEU/facegate/pkg/camera"
	"github.com/MrCodeEU/facegate/pkg/captcha"
	"github.com/MrCodeEU/facegate/pkg/capture"
	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/database"
	"github.com/MrCodeEU/facegate/pkg/httpapi"
	"github.com/MrCodeEU/facegate/pkg/identity"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/notification"
	"github.com/MrCodeEU/facegate/pkg/recognition"
	"github.com/MrCodeEU/facegate/pkg/recovery"
	"github.com/MrCodeEU/facegate/pkg/session"
	"github.com/MrCodeEU/facegate/pkg/sessioncrypto"
	"github.com/MrCodeEU/facegate/pkg/storage"
)

// App holds the assembled components.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Cache      *redis.Client
	Auth       *auth.Authenticator
	Identities *identity.Service
	Templates  *storage.FileStorage
	Recovery   *recovery.Service
	Crypto     *sessioncrypto.Engine
	Capture    *capture.Orchestrator

	detector recognition.Detector
}

// Option adjusts Build.
type Option func(*buildOptions)

type buildOptions struct {
	camera bool
}

// WithoutCamera skips loading the detector and opening the imaging device.
// Enrollment then fails with a camera error.
func WithoutCamera() Option {
	return func(o *buildOptions) { o.camera = false }
}

// Build validates cfg and wires every component. Redis is optional: without
// it sessions are kept in memory and recovery issuance is not rate limited.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	bo := buildOptions{camera: true}
	for _, opt := range opts {
		opt(&bo)
	}

	log := logging.Component("app")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.DB = db

	var sessions session.Store = session.NewMemoryStore()
	var recoveryOpts []recovery.Option
	if cfg.Redis.URL != "" {
		cache, err := session.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.Cache = cache
		sessions = session.NewRedisStore(cache)
		recoveryOpts = append(recoveryOpts, recovery.WithLimiter(recovery.NewRedisLimiter(cache, cfg.Recovery.MaxIssuesPerHour, time.Hour)))
	} else {
		log.Warn("Redis not configured: sessions are in memory and recovery requests are not rate limited")
	}

	a.Identities = identity.NewService(identity.NewSQLRepository(db), cfg.Recovery.MinPasswordLength)
	a.Recovery = recovery.NewService(recovery.NewSQLRepository(db), cfg.Recovery.TokenExpiry(), recoveryOpts...)

	a.Templates, err = storage.NewFileStorage(cfg.TemplateDir(), cfg.Storage.EncryptionEnabled)
	if err != nil {
		return nil, err
	}

	a.Crypto = sessioncrypto.Start(sessioncrypto.Options{
		KeyBits:          cfg.Crypto.RSAKeyBits,
		AllowPassthrough: cfg.Crypto.AllowPassthrough,
	})

	var device camera.Device
	if bo.camera {
		detector, err := recognition.NewDlibDetector(cfg.Biometric.ModelPath)
		if err != nil {
			log.WithError(err).Warn("Face detector unavailable; enrollment disabled (run 'facegate download-models')")
		} else {
			a.detector = detector
			device = camera.NewV4L2Camera(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.Backends)
		}
	}
	a.Capture = capture.NewOrchestrator(device, a.detector, cfg.CaptureDir())
	a.Capture.SetMaxPixels(cfg.Server.MaxUploadPixels)

	secret, err := sessionSecret(cfg.Session.Secret)
	if err != nil {
		return nil, err
	}

	a.Auth = auth.NewAuthenticator(auth.Deps{
		Capture:    a.Capture,
		Identities: a.Identities,
		Templates:  a.Templates,
		Crypto:     a.Crypto,
		Recovery:   a.Recovery,
		Sessions:   sessions,
		Tokens:     session.NewIssuer(secret, cfg.Session.TTL()),
		Notifier:   newNotifier(cfg),
		Captcha: captcha.NewRecaptchaVerifier(cfg.Captcha.SecretKey, cfg.Captcha.VerifyURL,
			time.Duration(cfg.Captcha.TimeoutSeconds)*time.Second),
	}, auth.Options{
		SessionTTL:        cfg.Session.TTL(),
		MinPasswordLength: cfg.Recovery.MinPasswordLength,
	})

	ok = true
	return a, nil
}

func sessionSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	logging.Component("app").Warn("No session secret configured; sessions will not survive a restart")
	return secret, nil
}

func newNotifier(cfg *config.Config) notification.Notifier {
	if !cfg.Email.Enabled {
		return notification.LogNotifier{}
	}
	return notification.NewSMTPNotifier(notification.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		BaseURL:  cfg.Recovery.BaseURL,
		Expiry:   cfg.Recovery.TokenExpiry(),
	})
}

// Server builds the HTTP server with health checks for the backing stores.
func (a *App) Server() *httpapi.Server {
	checks := map[string]httpapi.HealthCheck{
		"database": func(ctx context.Context) error { return a.DB.PingContext(ctx) },
		"crypto": func(context.Context) error {
			if a.Crypto.Degraded() {
				return sessioncrypto.ErrKeyGenUnavailable
			}
			return nil
		},
	}
	if a.Cache != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Cache.Ping(ctx).Err() }
	}

	return httpapi.New(a.Auth, httpapi.Options{
		Address:        a.Config.Server.Address,
		MaxUploadBytes: a.Config.Server.MaxUploadBytes,
		SessionTTL:     a.Config.Session.TTL(),
		Checks:         checks,
	})
}

// Close releases every resource Build acquired.
func (a *App) Close() error {
	var errs []error
	if a.detector != nil {
		errs = append(errs, a.detector.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
