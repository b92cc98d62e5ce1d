package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paularlott/cli"

	"github.com/paularlott/duckchat"
)

var chatCmd = &cli.Command{
	Name:  "chat",
	Usage: "Send a prompt, or start an interactive session",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "prompt",
			Aliases: []string{"p"},
			Usage:   "Prompt to send (reads stdin when empty and not interactive)",
		},
		&cli.StringFlag{
			Name:         "model",
			Aliases:      []string{"m"},
			Usage:        "Model to use",
			DefaultValue: duckchat.DefaultModel,
			EnvVars:      []string{"DUCKCHAT_MODEL"},
		},
		&cli.BoolFlag{
			Name:    "interactive",
			Aliases: []string{"i"},
			Usage:   "Keep the conversation going, one prompt per line",
		},
		&cli.BoolFlag{
			Name:  "web",
			Usage: "Allow the model to use web search tools",
		},
	},
	Run: runChat,
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	client, err := duckchat.New(clientConfig(cmd, logger))
	if err != nil {
		return err
	}

	model := cmd.GetString("model")
	if _, ok := duckchat.LookupModel(model); !ok {
		logger.Warn("model not in catalogue, sending anyway", "model", model)
	}

	var tools *duckchat.ToolChoice
	if cmd.GetBool("web") {
		tools = &duckchat.ToolChoice{LocalSearch: true, NewsSearch: true, VideoSearch: true, WeatherForecast: true}
	}

	session := &chatSession{client: client, model: model, tools: tools, out: os.Stdout}

	if !cmd.GetBool("interactive") {
		prompt := cmd.GetString("prompt")
		if prompt == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read prompt: %w", err)
			}
			prompt = strings.TrimSpace(string(data))
		}
		if prompt == "" {
			return errors.New("no prompt given")
		}
		return session.send(ctx, prompt)
	}

	if prompt := cmd.GetString("prompt"); prompt != "" {
		if err := session.send(ctx, prompt); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return nil
		}
		if err := session.send(ctx, line); err != nil {
			if !duckchat.IsRetryable(err) && !duckchat.IsTokenError(err) {
				return err
			}
			// a fresh token is fetched on the next turn
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
}

// chatSession carries history and the latest token between turns
type chatSession struct {
	client  *duckchat.Client
	model   string
	tools   *duckchat.ToolChoice
	out     io.Writer
	history []duckchat.Message
	token   *duckchat.Token
}

func (s *chatSession) send(ctx context.Context, prompt string) error {
	messages := append(s.history, duckchat.UserMessage(prompt))

	stream := s.client.StreamCompletion(ctx, messages, duckchat.CompletionConfig{
		Model: s.model,
		Token: s.token,
		Tools: s.tools,
	})
	defer stream.Close()

	// the token is spent whatever the outcome
	s.token = nil

	for stream.Next() {
		fmt.Fprint(s.out, stream.Current())
	}
	fmt.Fprintln(s.out)

	if err := stream.Err(); err != nil {
		return err
	}

	result := stream.Result()
	s.history = append(messages, result.Message)
	s.token = result.Token
	return nil
}
