package duckchat

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage returns a message authored by the user.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolChoice selects the server side tools the model may use.
type ToolChoice struct {
	LocalSearch     bool `json:"LocalSearch"`
	NewsSearch      bool `json:"NewsSearch"`
	VideoSearch     bool `json:"VideoSearch"`
	WeatherForecast bool `json:"WeatherForecast"`
}

// CompletionConfig configures a single completion call.
type CompletionConfig struct {
	// Model defaults to the client's default model.
	Model string

	// Token authorizes the request. When nil a new one is fetched.
	Token *Token

	// Tools defaults to every tool disabled.
	Tools *ToolChoice

	// Observer receives completion, error and done events.
	Observer Observer

	// UserAgent overrides the identity picked for this call.
	UserAgent string

	// CallID labels events and log lines. Generated when empty.
	CallID string
}

// CompletionResult is the outcome of a successful completion call: the
// assistant reply and the token to use for the next call.
type CompletionResult struct {
	CallID  string  `json:"call_id"`
	Token   *Token  `json:"vqd"`
	Message Message `json:"message"`
}

// Model describes a chat model offered by duck.ai.
type Model struct {
	ID             string `json:"model"`
	Name           string `json:"modelName"`
	InputCharLimit int    `json:"inputCharLimit"`
	CreatedBy      string `json:"createdBy"`
	IsOpenSource   bool   `json:"isOpenSource"`
}

// DefaultModel is used when neither the call nor the client names a model.
const DefaultModel = "gpt-4o-mini"

// Models is the catalogue of freely available models.
var Models = []Model{
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", InputCharLimit: 16000, CreatedBy: "OpenAI"},
	{ID: "o3-mini", Name: "o3-mini", InputCharLimit: 16000, CreatedBy: "OpenAI"},
	{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", InputCharLimit: 16000, CreatedBy: "Anthropic"},
	{ID: "meta-llama/Llama-3.3-70B-Instruct-Turbo", Name: "Llama 3.3 70B", InputCharLimit: 16000, CreatedBy: "Meta", IsOpenSource: true},
	{ID: "mistralai/Mistral-Small-24B-Instruct-2501", Name: "Mistral Small 3", InputCharLimit: 16000, CreatedBy: "Mistral AI", IsOpenSource: true},
}

// LookupModel returns the catalogue entry for id.
func LookupModel(id string) (Model, bool) {
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// State is the progress of a single completion call.
type State int

const (
	StateIdle State = iota
	StateTokenReady
	StateRequestSent
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTokenReady:
		return "token_ready"
	case StateRequestSent:
		return "request_sent"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// canAdvance reports whether the state machine allows s -> next.
func (s State) canAdvance(next State) bool {
	switch s {
	case StateIdle:
		return next == StateTokenReady || next == StateFailed
	case StateTokenReady:
		return next == StateRequestSent || next == StateFailed
	case StateRequestSent:
		return next == StateStreaming || next == StateFailed
	case StateStreaming:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}
