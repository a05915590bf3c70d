package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/galadrimteam/groupchat/internal/logging"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

// Flags holds global options shared by every command.
type Flags struct {
	Server    string
	Topic     string
	LogLevel  string
	LogFormat string

	Logger *zap.Logger
}

func main() {
	flags := &Flags{}

	app := &cli.Command{
		Name:    "chatctl",
		Usage:   "Talk to a groupchat server from the terminal",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Aliases:     []string{"s"},
				Usage:       "server base URL",
				Sources:     cli.EnvVars("CHATCTL_SERVER"),
				Value:       "http://localhost:3000",
				Destination: &flags.Server,
			},
			&cli.StringFlag{
				Name:        "topic",
				Aliases:     []string{"t"},
				Usage:       "topic to publish to or subscribe to",
				Sources:     cli.EnvVars("CHATCTL_TOPIC"),
				Value:       "group",
				Destination: &flags.Topic,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("CHATCTL_LOG_LEVEL"),
				Value:       "warn",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (json, console)",
				Sources:     cli.EnvVars("CHATCTL_LOG_FORMAT"),
				Value:       "console",
				Destination: &flags.LogFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, err := logging.New(flags.LogLevel, flags.LogFormat)
			if err != nil {
				return ctx, err
			}
			flags.Logger = logger
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if flags.Logger != nil {
				_ = flags.Logger.Sync()
			}
			return nil
		},
	}

	app = NewSendCmd(flags).Register(app)
	app = NewListenCmd(flags).Register(app)
	app = NewChatCmd(flags).Register(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
