package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/paularlott/duckchat"
	"github.com/paularlott/duckchat/metrics"
	"github.com/paularlott/duckchat/store"
)

type chatRequest struct {
	ConversationID string               `json:"conversation_id"`
	Message        string               `json:"message" binding:"required"`
	Model          string               `json:"model"`
	Tools          *duckchat.ToolChoice `json:"tools"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default": duckchat.DefaultModel,
		"models":  duckchat.Models,
	})
}

// chat continues or starts a conversation and relays the reply as
// server-sent events: delta events while streaming, then one done or error
// event.
func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx := c.Request.Context()

	conv := &store.Conversation{Model: req.Model}
	if req.ConversationID != "" {
		stored, err := s.store.Take(ctx, req.ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
		if err != nil {
			s.logger.Error("failed to load conversation", "conversation_id", req.ConversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
			return
		}
		conv = stored
		if req.Model != "" {
			conv.Model = req.Model
		}
	}
	if conv.Model != "" {
		if _, ok := duckchat.LookupModel(conv.Model); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown model"})
			return
		}
	}

	conv.Messages = append(conv.Messages, duckchat.UserMessage(req.Message))
	token := conv.Token
	conv.Token = nil

	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}

	stream := s.client.StreamCompletion(ctx, conv.Messages, duckchat.CompletionConfig{
		Model:     conv.Model,
		Token:     token,
		Tools:     req.Tools,
		UserAgent: conv.UserAgent,
		Observer:  s.observer,
	})
	defer stream.Close()

	c.Header(HeaderConversationID, conv.ID)

	started := false
	for stream.Next() {
		if stream.Current() == "" {
			continue
		}
		if !started {
			s.startStream(c)
			started = true
		}
		c.SSEvent("delta", gin.H{"delta": stream.Current()})
		c.Writer.Flush()
	}

	if err := stream.Err(); err != nil {
		s.logger.Warn("completion failed", "conversation_id", conv.ID, "error", err)
		metrics.ObserveFailure(err)

		// keep the history; the next request fetches a fresh token
		conv.Messages = conv.Messages[:len(conv.Messages)-1]
		if len(conv.Messages) > 0 {
			if saveErr := s.store.Save(ctx, conv, s.ttl); saveErr != nil {
				s.logger.Error("failed to save conversation", "conversation_id", conv.ID, "error", saveErr)
			}
		}

		if !started {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "conversation_id": conv.ID})
			return
		}
		c.SSEvent("error", gin.H{"error": err.Error()})
		c.Writer.Flush()
		return
	}

	result := stream.Result()
	conv.Messages = append(conv.Messages, result.Message)
	conv.Token = result.Token
	conv.UserAgent = result.Token.Identity()
	if err := s.store.Save(ctx, conv, s.ttl); err != nil {
		s.logger.Error("failed to save conversation", "conversation_id", conv.ID, "error", err)
	}

	if !started {
		s.startStream(c)
	}
	c.SSEvent("done", gin.H{
		"conversation_id": conv.ID,
		"message":         result.Message,
	})
	c.Writer.Flush()
}

func (s *Server) startStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
}

func statusFor(err error) int {
	var reqErr *duckchat.CompletionRequestError
	if errors.As(err, &reqErr) && reqErr.IsRateLimit() {
		return http.StatusTooManyRequests
	}
	if duckchat.IsTokenError(err) || errors.As(err, &reqErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
