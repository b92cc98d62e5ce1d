package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/paularlott/cli"

	"github.com/paularlott/duckchat"
	"github.com/paularlott/duckchat/pool"
)

func main() {
	// A missing .env file is not an error
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:        "duckchat",
		Version:     "0.1.0",
		Usage:       "Chat with duck.ai from the terminal",
		Description: "Negotiates the duck.ai VQD handshake and streams chat completions.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "base-url",
				Usage:        "duck.ai base URL",
				DefaultValue: duckchat.DefaultBaseURL,
				EnvVars:      []string{"DUCKCHAT_BASE_URL"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:    "proxy",
				Usage:   "HTTP proxy URL for upstream requests",
				EnvVars: []string{"DUCKCHAT_PROXY"},
				Global:  true,
			},
			&cli.BoolFlag{
				Name:    "insecure",
				Usage:   "Skip TLS verification (intercepting proxies)",
				EnvVars: []string{"DUCKCHAT_INSECURE"},
				Global:  true,
			},
			&cli.StringFlag{
				Name:    "user-agent",
				Usage:   "Fixed user agent instead of a random one per call",
				EnvVars: []string{"DUCKCHAT_USER_AGENT"},
				Global:  true,
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				EnvVars: []string{"DUCKCHAT_DEBUG"},
				Global:  true,
			},
		},
		Commands: []*cli.Command{
			chatCmd,
			tokenCmd,
			modelsCmd,
			serveCmd,
		},
	}

	if err := cmd.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(cmd *cli.Command) *slog.Logger {
	level := slog.LevelInfo
	if cmd.GetBool("debug") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// clientConfig builds the client configuration shared by every command
func clientConfig(cmd *cli.Command, logger *slog.Logger) duckchat.Config {
	poolCfg := pool.DefaultConfig()
	poolCfg.ProxyURL = cmd.GetString("proxy")
	poolCfg.InsecureSkipVerify = cmd.GetBool("insecure")
	pool.SetConfig(poolCfg)

	cfg := duckchat.Config{
		BaseURL: cmd.GetString("base-url"),
		Logger:  logger,
	}
	if ua := cmd.GetString("user-agent"); ua != "" {
		cfg.UserAgents = []string{ua}
	}
	return cfg
}
