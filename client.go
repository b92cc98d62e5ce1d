// Package duckchat is a client for the duck.ai chat completion protocol.
//
// Every chat request must carry a VQD token in the X-Vqd-Hash-1 header. A
// token is obtained by evaluating the JavaScript challenge served by the
// status endpoint, and every chat response carries the challenge for the
// next token. The client evaluates challenges, hashes the client material,
// streams the reply and hands back the token for the following call:
//
//	client, _ := duckchat.New(duckchat.Config{})
//	result, err := client.GenerateCompletion(ctx, []duckchat.Message{
//	    duckchat.UserMessage("hi"),
//	}, duckchat.CompletionConfig{})
//	// next turn: duckchat.CompletionConfig{Token: result.Token}
package duckchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/paularlott/duckchat/challenge"
	"github.com/paularlott/duckchat/pool"
)

const (
	DefaultBaseURL = "https://duckduckgo.com"

	statusPath = "/duckchat/v1/status"
	chatPath   = "/duckchat/v1/chat"
)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to the Doer interface.
type DoerFunc func(*http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Evaluator turns an encoded challenge into token JSON. *challenge.Evaluator
// satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, encoded, identity string) (json.RawMessage, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, encoded, identity string) (json.RawMessage, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, encoded, identity string) (json.RawMessage, error) {
	return f(ctx, encoded, identity)
}

// Config holds configuration for the client
type Config struct {
	BaseURL             string        // Default https://duckduckgo.com
	HTTPPool            pool.HTTPPool // Optional custom HTTP pool (nil = shared default pool)
	Doer                Doer          // Overrides HTTPPool when set
	Evaluator           Evaluator     // Default challenge.New()
	UserAgents          []string      // Identity pool (default UserAgents)
	ExtraHeaders        http.Header   // Added to every request, replacing defaults of the same name
	DisableForwardedFor bool          // Do not send a random X-Forwarded-For
	DefaultModel        string        // Model used when a call names none (default DefaultModel)
	Logger              *slog.Logger  // Default discards
}

// Client drives the token handshake and chat completions. It holds no
// per-call state and is safe for concurrent use.
type Client struct {
	baseURL             string
	doer                Doer
	evaluator           Evaluator
	userAgents          []string
	extraHeaders        http.Header
	disableForwardedFor bool
	defaultModel        string
	logger              *slog.Logger
}

// New creates a client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(config.BaseURL, "http://") && !strings.HasPrefix(config.BaseURL, "https://") {
		return nil, fmt.Errorf("invalid base URL %q", config.BaseURL)
	}

	if config.Doer == nil {
		if config.HTTPPool != nil {
			config.Doer = config.HTTPPool.GetHTTPClient()
		} else {
			config.Doer = pool.GetPool().GetHTTPClient()
		}
	}
	if config.Evaluator == nil {
		config.Evaluator = challenge.New()
	}
	if len(config.UserAgents) == 0 {
		config.UserAgents = UserAgents
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultModel
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		baseURL:             strings.TrimSuffix(config.BaseURL, "/"),
		doer:                config.Doer,
		evaluator:           config.Evaluator,
		userAgents:          append([]string(nil), config.UserAgents...),
		extraHeaders:        config.ExtraHeaders.Clone(),
		disableForwardedFor: config.DisableForwardedFor,
		defaultModel:        config.DefaultModel,
		logger:              config.Logger,
	}, nil
}

// GetToken fetches a fresh token from the status endpoint.
func (c *Client) GetToken(ctx context.Context) (*Token, error) {
	return c.fetchInitialToken(ctx, c.pickIdentity())
}

// GetTokenFor fetches a fresh token bound to the given user agent.
func (c *Client) GetTokenFor(ctx context.Context, identity string) (*Token, error) {
	if identity == "" {
		identity = c.pickIdentity()
	}
	return c.fetchInitialToken(ctx, identity)
}

type chatRequest struct {
	Messages    []Message    `json:"messages"`
	Model       string       `json:"model"`
	CanUseTools bool         `json:"canUseTools"`
	Metadata    chatMetadata `json:"metadata"`
}

type chatMetadata struct {
	ToolChoice ToolChoice `json:"toolChoice"`
}

// call is the state of one completion.
type call struct {
	client   *Client
	id       string
	identity string
	model    string
	tools    ToolChoice
	token    *Token
	observer Observer
	state    State
	logger   *slog.Logger
}

func (c *Client) newCall(cfg CompletionConfig) *call {
	id := cfg.CallID
	if id == "" {
		id = uuid.NewString()
	}

	identity := cfg.UserAgent
	if identity == "" && cfg.Token != nil {
		identity = cfg.Token.Identity()
	}
	if identity == "" {
		identity = c.pickIdentity()
	}

	model := cfg.Model
	if model == "" {
		model = c.defaultModel
	}

	var tools ToolChoice
	if cfg.Tools != nil {
		tools = *cfg.Tools
	}

	observer := cfg.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}

	return &call{
		client:   c,
		id:       id,
		identity: identity,
		model:    model,
		tools:    tools,
		token:    cfg.Token,
		observer: observer,
		state:    StateIdle,
		logger:   c.logger.With("call_id", id),
	}
}

func (cl *call) advance(next State) {
	if !cl.state.canAdvance(next) {
		cl.logger.Error("invalid state transition", "from", cl.state, "to", next)
		return
	}
	cl.logger.Debug("state transition", "from", cl.state, "to", next)
	cl.state = next
}

func (cl *call) fail(err error, notify bool) error {
	cl.advance(StateFailed)
	cl.logger.Warn("completion failed", "error", err)
	if notify {
		cl.observer.OnEvent(Event{CallID: cl.id, Type: EventError, Err: err})
	}
	return err
}

// GenerateCompletion sends the conversation and streams the assistant reply.
// Completion, error and done events are delivered to cfg.Observer as they
// happen. The returned result carries the token for the next call.
func (c *Client) GenerateCompletion(ctx context.Context, messages []Message, cfg CompletionConfig) (*CompletionResult, error) {
	return c.newCall(cfg).run(ctx, messages)
}

func (cl *call) run(ctx context.Context, messages []Message) (*CompletionResult, error) {
	c := cl.client

	token := cl.token
	if token == nil {
		var err error
		if token, err = c.fetchInitialToken(ctx, cl.identity); err != nil {
			return nil, cl.fail(err, false)
		}
	}
	if !token.claim() {
		return nil, cl.fail(ErrTokenReused, false)
	}

	encoded, err := EncodeToken(token.PrepareOutbound())
	if err != nil {
		return nil, cl.fail(err, false)
	}
	cl.advance(StateTokenReady)

	if messages == nil {
		messages = []Message{}
	}
	body, err := json.Marshal(chatRequest{
		Messages:    messages,
		Model:       cl.model,
		CanUseTools: true,
		Metadata:    chatMetadata{ToolChoice: cl.tools},
	})
	if err != nil {
		return nil, cl.fail(fmt.Errorf("failed to marshal request: %w", err), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, cl.fail(&CompletionRequestError{Err: err}, true)
	}
	c.setHeaders(req, cl.identity)
	req.Header.Set("Accept", contentTypeEventStream)
	req.Header.Set(headerVqdHash, encoded)

	cl.advance(StateRequestSent)
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, cl.fail(&CompletionRequestError{Err: err}, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, cl.fail(&CompletionRequestError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("chat endpoint returned %s", resp.Status),
		}, true)
	}

	next, err := c.deriveNextToken(ctx, cl.identity, resp.Header.Get(headerVqdHash))
	if err != nil {
		return nil, cl.fail(err, false)
	}
	cl.advance(StateStreaming)

	content, err := readStream(ctx, resp.Body, func(delta string) {
		cl.observer.OnEvent(Event{CallID: cl.id, Type: EventCompletion, Delta: delta})
	})
	if err != nil {
		return nil, cl.fail(err, true)
	}

	result := &CompletionResult{
		CallID:  cl.id,
		Token:   next,
		Message: Message{Role: RoleAssistant, Content: content},
	}
	cl.advance(StateCompleted)
	cl.logger.Debug("completion finished", "model", cl.model, "length", len(content))
	cl.observer.OnEvent(Event{CallID: cl.id, Type: EventDone, Result: result})
	return result, nil
}
