package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MrCodeEU/facegate/pkg/app"
	"github.com/MrCodeEU/facegate/pkg/auth"
	"github.com/MrCodeEU/facegate/pkg/biometric"
	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/logging"
)

const version = "0.3.0"

// Exit codes:
//
//	0 = face matched an enrolled identity (contact printed on stdout)
//	1 = no enrolled identity matched
//	2 = the image could not be used
//	3 = system error
const (
	exitMatch       = 0
	exitNoMatch     = 1
	exitInvalid     = 2
	exitSystemError = 3
)

// Identifier matches an uploaded image against enrolled templates.
type Identifier interface {
	Identify(ctx context.Context, upload []byte) (biometric.BestMatch, error)
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	timeout := flag.Duration("timeout", 30*time.Second, "Maximum time to spend")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FaceGate: Configuration error: %v\n", err)
		os.Exit(exitSystemError)
	}
	cfg.ExpandPaths()

	// Log to file only; stdout carries the result.
	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		logging.Discard()
	}
	logging.Infof("FaceGate verify v%s starting", version)

	data, err := readInput(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FaceGate: %v\n", err)
		os.Exit(exitInvalid)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, app.WithoutCamera())
	if err != nil {
		logging.WithError(err).Error("Failed to initialize")
		fmt.Fprintln(os.Stderr, "FaceGate: Initialization error")
		os.Exit(exitSystemError)
	}
	code := runVerification(ctx, a.Auth, data, os.Stdout, os.Stderr)
	_ = a.Close()
	os.Exit(code)
}

// readInput reads the image from the named file, or stdin for "-" or no
// argument.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

func runVerification(ctx context.Context, id Identifier, data []byte, stdout, stderr io.Writer) int {
	start := time.Now()

	match, err := id.Identify(ctx, data)
	if err == nil {
		logging.Infof("Verification matched %s (score %.4f, duration %v)",
			logging.Fingerprint(match.Identity), match.Score, time.Since(start))
		fmt.Fprintln(stdout, match.Identity)
		fmt.Fprintf(stderr, "FaceGate: Match (similarity %.2f)\n", match.Score)
		return exitMatch
	}

	logging.Warnf("Verification failed: %v (duration %v)", err, time.Since(start))
	switch auth.ErrorCodeOf(err) {
	case auth.ErrCodeNotRecognized:
		fmt.Fprintln(stderr, "FaceGate: Face not recognized")
		return exitNoMatch
	case auth.ErrCodeInvalidImage, auth.ErrCodeNoFace:
		fmt.Fprintf(stderr, "FaceGate: %s\n", auth.GetErrorMessage(auth.ErrCodeInvalidImage))
		return exitInvalid
	default:
		fmt.Fprintln(stderr, "FaceGate: System error")
		return exitSystemError
	}
}
