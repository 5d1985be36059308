package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

// Version is set during build using ldflags
var Version = "dev"

func main() {
	app := &cli.Command{
		Name:    "modemchat",
		Version: Version,
		Usage:   "Talk to AT command modems: chat scripts, console and SMS gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to TOML configuration file",
				Aliases: []string{"c"},
			},
			&cli.StringFlag{
				Name:    "serial-port",
				Usage:   "Serial port to connect to the modem",
				Aliases: []string{"p"},
			},
			&cli.IntFlag{
				Name:  "baud-rate",
				Usage: "Baud rate for serial communication",
			},
			&cli.StringFlag{
				Name:  "sim-pin",
				Usage: "SIM card PIN code (if required)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (trace, debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text, json)",
			},
		},
		Commands: []*cli.Command{
			serveCmd,
			runCmd,
			consoleCmd,
			{
				Name:  "version",
				Usage: "Print the version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Printf("modemchat version %s\n", cmd.Root().Version)
					return nil
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration of cmd and installs the logger.
// Precedence, lowest first: defaults, config file, environment, flags.
func setup(cmd *cli.Command) (*Config, *slog.Logger, error) {
	config, err := LoadConfig(
		WithDefaults(),
		WithFile(cmd.String("config")),
		WithEnv(),
		WithCommand(cmd),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(config, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return config, logger, nil
}
