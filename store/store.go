// Package store persists conversations between completion calls so a
// conversation can be continued with the token returned by its last reply.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paularlott/duckchat"
)

// ErrNotFound is returned when a conversation does not exist or has expired.
var ErrNotFound = errors.New("conversation not found")

// DefaultTTL is how long an idle conversation is kept. The token it carries
// is not useful for much longer.
const DefaultTTL = 30 * time.Minute

// Conversation is the state needed to continue a chat: the history, the
// identity the token was derived for and the token itself.
type Conversation struct {
	ID        string             `json:"id"`
	Model     string             `json:"model"`
	UserAgent string             `json:"user_agent"`
	Messages  []duckchat.Message `json:"messages"`
	Token     *duckchat.Token    `json:"vqd"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store persists conversations.
//
// Take loads and deletes in one step so the token of a stored conversation
// authorizes at most one request, even with concurrent callers.
type Store interface {
	Save(ctx context.Context, conv *Conversation, ttl time.Duration) error
	Take(ctx context.Context, id string) (*Conversation, error)
}

// prepare assigns an ID and timestamp and returns the encoded conversation.
func prepare(conv *Conversation, ttl time.Duration) ([]byte, time.Duration, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	conv.UpdatedAt = time.Now().UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	data, err := json.Marshal(conv)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return data, ttl, nil
}

func decode(data []byte) (*Conversation, error) {
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}
