package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrCodeEU/facegate/pkg/app"
	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/logging"
)

const version = "0.3.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(ctx context.Context, args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
	// commandOrder is the order commands are listed in usage output.
	commandOrder = []string{
		"serve", "enroll", "identify", "list", "remove",
		"issue-token", "validate-token", "cameras", "download-models",
		"config", "version", "help",
	}
)

func init() {
	commands = map[string]*Command{
		"serve": {
			Name:        "serve",
			Description: "Run the HTTP authentication service",
			Usage:       "facegate serve",
			Run:         cmdServe,
		},
		"enroll": {
			Name:        "enroll",
			Description: "Capture a face from the camera for a registered contact",
			Usage:       "facegate enroll <contact>",
			Run:         cmdEnroll,
		},
		"identify": {
			Name:        "identify",
			Description: "Match a face image against enrolled templates",
			Usage:       "facegate identify <image>",
			Run:         cmdIdentify,
		},
		"list": {
			Name:        "list",
			Description: "List registered identities",
			Usage:       "facegate list",
			Run:         cmdList,
		},
		"remove": {
			Name:        "remove",
			Description: "Remove a contact's face template",
			Usage:       "facegate remove <contact>",
			Run:         cmdRemove,
		},
		"issue-token": {
			Name:        "issue-token",
			Description: "Issue a password recovery link without sending it",
			Usage:       "facegate issue-token <contact>",
			Run:         cmdIssueToken,
		},
		"validate-token": {
			Name:        "validate-token",
			Description: "Check whether a recovery token is still valid",
			Usage:       "facegate validate-token <token>",
			Run:         cmdValidateToken,
		},
		"cameras": {
			Name:        "cameras",
			Description: "List video capture devices",
			Usage:       "facegate cameras",
			Run:         cmdCameras,
		},
		"download-models": {
			Name:        "download-models",
			Description: "Download the dlib face detection models",
			Usage:       "facegate download-models [dir]",
			Run:         cmdDownloadModels,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "facegate config",
			Run:         cmdConfig,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "facegate version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "facegate help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()
	args := flag.Args()

	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	cfg.ExpandPaths()

	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.Format, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	logging.Debugf("FaceGate v%s starting", version)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cmd.Run(ctx, args[1:])
	stop()
	if err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("FaceGate - Face and password authentication service")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: facegate [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("\nCommands:")
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Printf("  %-16s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  facegate serve                      # Start the service")
	fmt.Println("  facegate enroll ana@example.com     # Enroll a face from the camera")
	fmt.Println("  facegate identify photo.jpg         # Find who is in a photo")
	fmt.Println("\nRun 'facegate help <command>' for more information on a command.")
}

func build(ctx context.Context, opts ...app.Option) (*app.App, error) {
	a, err := app.Build(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}
