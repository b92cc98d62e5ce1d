package duckchat

import (
	"context"
)

const streamBuffer = 50

// ChatStream provides an iterator interface over a streaming completion.
// It is designed to be used in a for loop pattern:
//
//	stream := client.StreamCompletion(ctx, messages, duckchat.CompletionConfig{})
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Print(stream.Current())
//	}
//	if err := stream.Err(); err != nil {
//	    // handle error
//	}
//	next := stream.Result().Token
type ChatStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	deltas <-chan string

	// written by the producer before deltas is closed
	result *CompletionResult
	runErr error

	current string
	err     error
	done    bool
}

// StreamCompletion starts a completion in the background and returns an
// iterator over its content deltas. cfg.Observer, if set, still receives
// every event.
func (c *Client) StreamCompletion(ctx context.Context, messages []Message, cfg CompletionConfig) *ChatStream {
	ctx, cancel := context.WithCancel(ctx)
	deltas := make(chan string, streamBuffer)

	s := &ChatStream{
		ctx:    ctx,
		cancel: cancel,
		deltas: deltas,
	}

	forward := ObserverFunc(func(e Event) {
		if e.Type != EventCompletion {
			return
		}
		select {
		case deltas <- e.Delta:
		case <-ctx.Done():
		}
	})
	cfg.Observer = Observers(forward, cfg.Observer)

	go func() {
		defer close(deltas)
		s.result, s.runErr = c.GenerateCompletion(ctx, messages, cfg)
	}()

	return s
}

// Next advances to the next delta.
// Returns false when the stream is done or an error occurred.
func (s *ChatStream) Next() bool {
	if s.done {
		return false
	}

	select {
	case <-s.ctx.Done():
		// drain until the producer returns so its error is reported
		for range s.deltas {
		}
		s.err = s.runErr
		s.done = true
		return false
	case delta, ok := <-s.deltas:
		if !ok {
			s.err = s.runErr
			s.done = true
			return false
		}
		s.current = delta
		return true
	}
}

// Current returns the current delta.
// Must be called after Next returns true.
func (s *ChatStream) Current() string {
	return s.current
}

// Result returns the completed result, or nil if the stream failed or has
// not finished.
func (s *ChatStream) Result() *CompletionResult {
	if !s.done || s.err != nil {
		return nil
	}
	return s.result
}

// Err returns any error that occurred during streaming.
// Should be checked after Next returns false.
func (s *ChatStream) Err() error {
	return s.err
}

// Done returns true if the stream has completed.
func (s *ChatStream) Done() bool {
	return s.done
}

// Close aborts the completion if it is still running.
func (s *ChatStream) Close() {
	s.cancel()
}
