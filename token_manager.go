package duckchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var errMissingChallenge = errors.New("response carries no " + headerVqdHash + " header")

// fetchInitialToken asks the status endpoint for a challenge and evaluates it
// with the given identity.
func (c *Client) fetchInitialToken(ctx context.Context, identity string) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+statusPath, nil)
	if err != nil {
		return nil, &TokenFetchError{Err: err}
	}
	c.setHeaders(req, identity)

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, &TokenFetchError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TokenFetchError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status endpoint returned %s", resp.Status),
		}
	}

	return c.evaluate(ctx, SourceStatus, identity, resp.Header.Get(headerVqdHash))
}

// deriveNextToken evaluates the challenge carried by a completion response.
func (c *Client) deriveNextToken(ctx context.Context, identity, raw string) (*Token, error) {
	return c.evaluate(ctx, SourceResponse, identity, raw)
}

func (c *Client) evaluate(ctx context.Context, source, identity, raw string) (*Token, error) {
	if raw == "" {
		return nil, &ChallengeEvalError{Source: source, Err: errMissingChallenge}
	}

	data, err := c.evaluator.Evaluate(ctx, raw, identity)
	if err != nil {
		return nil, &ChallengeEvalError{Source: source, Err: err}
	}

	token, err := parseToken(data)
	if err != nil {
		return nil, &ChallengeEvalError{Source: source, Err: err}
	}
	token.identity = identity

	c.logger.Debug("token derived",
		"source", source,
		"challenge_id", token.Meta.ChallengeID,
		"client_hashes", len(token.ClientHashes))
	return token, nil
}
