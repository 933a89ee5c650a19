package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/MrCodeEU/facegate/pkg/app"
	"github.com/MrCodeEU/facegate/pkg/auth"
	"github.com/MrCodeEU/facegate/pkg/camera"
	"github.com/MrCodeEU/facegate/pkg/identity"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/notification"
	"github.com/MrCodeEU/facegate/pkg/storage"
)

func cmdServe(ctx context.Context, args []string) error {
	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := a.Server()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func cmdEnroll(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("contact required\nUsage: facegate enroll <contact>")
	}
	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Enrolling '%s'. Please face the camera in good lighting...\n", args[0])
	res := a.Auth.Enroll(ctx, args[0])
	if !res.Success {
		return fmt.Errorf("%v (%s)", res.Error, res.Reason)
	}
	fmt.Printf("Face enrolled for %s (%v)\n", res.Contact, res.Duration.Round(time.Millisecond))
	return nil
}

func cmdIdentify(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("image path required\nUsage: facegate identify <image>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	a, err := build(ctx, app.WithoutCamera())
	if err != nil {
		return err
	}
	defer a.Close()

	match, err := a.Auth.Identify(ctx, data)
	if errors.Is(err, auth.NewAuthError(auth.ErrCodeNotRecognized, false)) {
		fmt.Println("No enrolled face matched.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Matched %s (similarity %.4f)\n", match.Identity, match.Score)
	return nil
}

func cmdList(ctx context.Context, args []string) error {
	a, err := build(ctx, app.WithoutCamera())
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.Identities.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No identities registered.")
		return nil
	}

	fmt.Println("Registered identities:")
	enrolled := 0
	for _, id := range ids {
		face := ""
		if id.Enrolled() {
			face = " [face]"
			enrolled++
		}
		fmt.Printf("  - %s (%s)%s\n", id.Contact, id.Name, face)
	}
	fmt.Printf("\nTotal: %d identity(ies), %d with a face template\n", len(ids), enrolled)
	return nil
}

func cmdRemove(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("contact required\nUsage: facegate remove <contact>")
	}
	a, err := build(ctx, app.WithoutCamera())
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.Identities.Lookup(ctx, args[0])
	if errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("'%s' is not registered", args[0])
	}
	if err != nil {
		return err
	}
	if !id.Enrolled() {
		return fmt.Errorf("'%s' has no face template", id.Contact)
	}

	if err := a.Templates.DeleteTemplate(id.ID, storage.ModalityFace); err != nil && !errors.Is(err, storage.ErrTemplateNotFound) {
		return fmt.Errorf("failed to remove template: %w", err)
	}
	if err := a.Identities.AttachTemplate(ctx, id.Contact, ""); err != nil {
		return fmt.Errorf("failed to detach template: %w", err)
	}

	fmt.Printf("Face template for '%s' has been removed.\n", id.Contact)
	return nil
}

func cmdIssueToken(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("contact required\nUsage: facegate issue-token <contact>")
	}
	a, err := build(ctx, app.WithoutCamera())
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.Identities.Lookup(ctx, args[0])
	if err != nil {
		return fmt.Errorf("'%s' is not registered", args[0])
	}
	token, err := a.Recovery.Issue(ctx, id.Contact)
	if err != nil {
		return err
	}

	fmt.Printf("Reset link (valid for %v):\n  %s\n", a.Recovery.Window(), notification.ResetURL(cfg.Recovery.BaseURL, token))
	return nil
}

func cmdValidateToken(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("token required\nUsage: facegate validate-token <token>")
	}
	a, err := build(ctx, app.WithoutCamera())
	if err != nil {
		return err
	}
	defer a.Close()

	contact, err := a.Recovery.Validate(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Token is valid for %s\n", contact)
	return nil
}

func cmdCameras(ctx context.Context, args []string) error {
	devices, err := camera.ListCameras(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No video devices found.")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("  %-14s %s (%s)\n", d.Path, d.Name, d.Driver)
	}
	return nil
}

func cmdConfig(ctx context.Context, args []string) error {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Printf("Environment:       %s\n", cfg.Environment)
	fmt.Println()
	fmt.Println("[Camera]")
	fmt.Printf("  Device:          %s\n", cfg.Camera.Device)
	fmt.Printf("  Resolution:      %dx%d @ %d FPS\n", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	fmt.Printf("  Backends:        %v\n", cfg.Camera.Backends)
	fmt.Println()
	fmt.Println("[Biometric]")
	fmt.Printf("  Model Path:      %s\n", cfg.Biometric.ModelPath)
	fmt.Println()
	fmt.Println("[Crypto]")
	fmt.Printf("  RSA Key Bits:    %d\n", cfg.Crypto.RSAKeyBits)
	fmt.Printf("  Passthrough:     %t\n", cfg.Crypto.AllowPassthrough)
	fmt.Println()
	fmt.Println("[Recovery]")
	fmt.Printf("  Token Expiry:    %v\n", cfg.Recovery.TokenExpiry())
	fmt.Printf("  Max Per Hour:    %d\n", cfg.Recovery.MaxIssuesPerHour)
	fmt.Printf("  Base URL:        %s\n", cfg.Recovery.BaseURL)
	fmt.Println()
	fmt.Println("[Storage]")
	fmt.Printf("  Database:        %s\n", cfg.Database.Driver)
	fmt.Printf("  Redis:           %t\n", cfg.Redis.URL != "")
	fmt.Printf("  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Println()
	fmt.Println("[Server]")
	fmt.Printf("  Address:         %s\n", cfg.Server.Address)
	fmt.Printf("  Session TTL:     %v\n", cfg.Session.TTL())
	fmt.Printf("  Email Enabled:   %t\n", cfg.Email.Enabled)
	fmt.Printf("  Captcha:         %t\n", cfg.Captcha.SecretKey != "")
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)
	return nil
}

func cmdVersion(ctx context.Context, args []string) error {
	fmt.Printf("FaceGate v%s\n", version)
	fmt.Printf("  Go version: %s\n", runtime.Version())
	fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}

func cmdHelp(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}

	fmt.Printf("Command: %s\n", cmd.Name)
	fmt.Printf("Description: %s\n", cmd.Description)
	fmt.Printf("Usage: %s\n", cmd.Usage)

	switch cmd.Name {
	case "enroll":
		fmt.Println("\nThe contact must already be registered. Five frames are read and")
		fmt.Println("the one with the most detected faces is used.")
	case "config":
		fmt.Println("\nConfiguration Locations:")
		fmt.Println("  System: /etc/facegate/facegate.yaml")
		fmt.Println("  User:   ~/.config/facegate/facegate.yaml")
		fmt.Println("\nSecrets can be set with FACEGATE_SESSION_SECRET, FACEGATE_DATABASE_DSN,")
		fmt.Println("FACEGATE_SMTP_PASSWORD and FACEGATE_RECAPTCHA_SECRET.")
	}
	return nil
}
