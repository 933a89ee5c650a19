// Package config provides configuration management for FaceGate.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names accepted in Config.Environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all FaceGate configuration.
type Config struct {
	Environment string          `yaml:"environment"`
	Camera      CameraConfig    `yaml:"camera"`
	Biometric   BiometricConfig `yaml:"biometric"`
	Crypto      CryptoConfig    `yaml:"crypto"`
	Recovery    RecoveryConfig  `yaml:"recovery"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Session     SessionConfig   `yaml:"session"`
	Storage     StorageConfig   `yaml:"storage"`
	Email       EmailConfig     `yaml:"email"`
	Captcha     CaptchaConfig   `yaml:"captcha"`
	Server      ServerConfig    `yaml:"server"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// CameraConfig holds imaging device settings.
type CameraConfig struct {
	Device   string   `yaml:"device"`
	Width    int      `yaml:"width"`
	Height   int      `yaml:"height"`
	FPS      int      `yaml:"fps"`
	Backends []string `yaml:"backends"`
}

// BiometricConfig holds face detection settings.
type BiometricConfig struct {
	ModelPath string `yaml:"model_path"`
}

// CryptoConfig holds session crypto settings.
type CryptoConfig struct {
	RSAKeyBits int `yaml:"rsa_key_bits"`
	// AllowPassthrough returns input bytes unchanged when a crypto
	// operation fails. Never enable outside development.
	AllowPassthrough bool `yaml:"allow_passthrough"`
}

// RecoveryConfig holds password recovery settings.
type RecoveryConfig struct {
	TokenExpiryMinutes int    `yaml:"token_expiry_minutes"`
	MaxIssuesPerHour   int    `yaml:"max_issues_per_hour"`
	BaseURL            string `yaml:"base_url"`
	MinPasswordLength  int    `yaml:"min_password_length"`
}

// TokenExpiry returns the validity window for recovery tokens.
func (r RecoveryConfig) TokenExpiry() time.Duration {
	return time.Duration(r.TokenExpiryMinutes) * time.Minute
}

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SessionConfig holds session token settings.
type SessionConfig struct {
	Secret     string `yaml:"secret"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

// TTL returns the session lifetime.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// StorageConfig holds template storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// CaptchaConfig holds reCAPTCHA settings.
type CaptchaConfig struct {
	SiteKey        string `yaml:"site_key"`
	SecretKey      string `yaml:"secret_key"`
	VerifyURL      string `yaml:"verify_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ServerConfig holds HTTP adapter settings.
type ServerConfig struct {
	Address        string `yaml:"address"`
	MaxUploadBytes int    `yaml:"max_upload_bytes"`

	// MaxUploadPixels caps width*height of a verification upload.
	MaxUploadPixels int `yaml:"max_upload_pixels"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/facegate")
	return &Config{
		Environment: EnvDevelopment,
		Camera: CameraConfig{
			Device:   "/dev/video0",
			Width:    640,
			Height:   480,
			FPS:      30,
			Backends: []string{"ffmpeg-mjpeg", "ffmpeg", "v4l2-ctl"},
		},
		Biometric: BiometricConfig{
			ModelPath: filepath.Join(dataDir, "models"),
		},
		Crypto: CryptoConfig{
			RSAKeyBits:       2048,
			AllowPassthrough: false,
		},
		Recovery: RecoveryConfig{
			TokenExpiryMinutes: 30,
			MaxIssuesPerHour:   3,
			BaseURL:            "http://localhost:5000",
			MinPasswordLength:  6,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dataDir, "facegate.db"),
		},
		Session: SessionConfig{
			TTLMinutes: 720,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			EncryptionEnabled: true,
		},
		Email: EmailConfig{
			Enabled: false,
			Host:    "smtp.gmail.com",
			Port:    587,
		},
		Captcha: CaptchaConfig{
			VerifyURL:      "https://www.google.com/recaptcha/api/siteverify",
			TimeoutSeconds: 5,
		},
		Server: ServerConfig{
			Address:         ":5000",
			MaxUploadBytes:  8 << 20,
			MaxUploadPixels: 25_000_000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   filepath.Join(dataDir, "facegate.log"),
		},
	}
}

// Load loads configuration from the specified file.
// Secrets may be supplied through FACEGATE_* environment variables instead.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	config.applyEnv()
	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facegate/facegate.yaml"); err == nil {
		return Load("/etc/facegate/facegate.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, nil
	}

	userConfig := filepath.Join(homeDir, ".config/facegate/facegate.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FACEGATE_SESSION_SECRET"); v != "" {
		c.Session.Secret = v
	}
	if v := os.Getenv("FACEGATE_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("FACEGATE_SMTP_PASSWORD"); v != "" {
		c.Email.Password = v
	}
	if v := os.Getenv("FACEGATE_RECAPTCHA_SECRET"); v != "" {
		c.Captcha.SecretKey = v
	}
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return fmt.Errorf("invalid environment: %s (must be development or production)", c.Environment)
	}

	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}
	validBackends := map[string]bool{"ffmpeg-mjpeg": true, "ffmpeg": true, "v4l2-ctl": true}
	for _, b := range c.Camera.Backends {
		if !validBackends[b] {
			return fmt.Errorf("invalid camera backend: %s", b)
		}
	}

	if c.Crypto.RSAKeyBits < 2048 {
		return fmt.Errorf("rsa_key_bits must be at least 2048, got %d", c.Crypto.RSAKeyBits)
	}
	if c.Crypto.AllowPassthrough && c.Environment == EnvProduction {
		return fmt.Errorf("allow_passthrough is not permitted in production")
	}

	if c.Recovery.TokenExpiryMinutes <= 0 {
		return fmt.Errorf("token_expiry_minutes must be positive, got %d", c.Recovery.TokenExpiryMinutes)
	}
	if c.Recovery.MaxIssuesPerHour < 0 {
		return fmt.Errorf("max_issues_per_hour must not be negative, got %d", c.Recovery.MaxIssuesPerHour)
	}
	if c.Recovery.MinPasswordLength <= 0 {
		return fmt.Errorf("min_password_length must be positive, got %d", c.Recovery.MinPasswordLength)
	}

	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite or pgx)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	if c.Session.TTLMinutes <= 0 {
		return fmt.Errorf("session ttl_minutes must be positive, got %d", c.Session.TTLMinutes)
	}
	if c.Environment == EnvProduction && len(c.Session.Secret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes in production")
	}

	if c.Email.Enabled && (c.Email.Host == "" || c.Email.Port <= 0 || c.Email.From == "") {
		return fmt.Errorf("email requires host, port and from when enabled")
	}

	if c.Environment == EnvProduction && c.Captcha.SecretKey == "" {
		return fmt.Errorf("captcha secret_key is required in production")
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if c.Server.MaxUploadPixels <= 0 {
		return fmt.Errorf("max_upload_pixels must be positive, got %d", c.Server.MaxUploadPixels)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Biometric.ModelPath = ExpandPath(c.Biometric.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
	if c.Database.Driver == "sqlite" {
		c.Database.DSN = ExpandPath(c.Database.DSN)
	}
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	for _, sub := range []string{"templates", "captures"} {
		if err := os.MkdirAll(filepath.Join(c.Storage.DataDir, sub), 0700); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}

	if err := os.MkdirAll(c.Biometric.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// TemplateDir returns the directory holding biometric templates.
func (c *Config) TemplateDir() string {
	return filepath.Join(c.Storage.DataDir, "templates")
}

// CaptureDir returns the directory holding captured and uploaded images.
func (c *Config) CaptureDir() string {
	return filepath.Join(c.Storage.DataDir, "captures")
}
