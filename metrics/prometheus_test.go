package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paularlott/duckchat"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	RequestsTotal.WithLabelValues("status", "200").Add(0)
	count, err := testutil.GatherAndCount(reg, "duckchat_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 1)
}

func TestInstrumentDoer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	ok := RequestsTotal.WithLabelValues("chat", "418")
	failed := RequestsTotal.WithLabelValues("chat", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	doer := InstrumentDoer(srv.Client())
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/duckchat/v1/chat", nil)
	resp, err := doer.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	broken := InstrumentDoer(duckchat.DoerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial failed")
	}))
	_, err = broken.Do(req)
	require.Error(t, err)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}

func TestInstrumentEvaluator(t *testing.T) {
	okBefore := testutil.ToFloat64(ChallengeEvaluations.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(ChallengeEvaluations.WithLabelValues("error"))

	e := InstrumentEvaluator(duckchat.EvaluatorFunc(func(_ context.Context, encoded, _ string) (json.RawMessage, error) {
		if encoded == "bad" {
			return nil, errors.New("bad challenge")
		}
		return json.RawMessage(`{}`), nil
	}))

	raw, err := e.Evaluate(context.Background(), "good", "ua")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
	_, err = e.Evaluate(context.Background(), "bad", "ua")
	require.Error(t, err)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ChallengeEvaluations.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(ChallengeEvaluations.WithLabelValues("error")))
}

func TestObserver(t *testing.T) {
	deltasBefore := testutil.ToFloat64(DeltasTotal)
	doneBefore := testutil.ToFloat64(CompletionsTotal.WithLabelValues("done"))
	errBefore := testutil.ToFloat64(CompletionsTotal.WithLabelValues("error"))

	var seen []duckchat.EventType
	o := NewObserver(duckchat.ObserverFunc(func(e duckchat.Event) { seen = append(seen, e.Type) }))

	o.OnEvent(duckchat.Event{Type: duckchat.EventCompletion, Delta: "He"})
	o.OnEvent(duckchat.Event{Type: duckchat.EventCompletion, Delta: "llo"})
	o.OnEvent(duckchat.Event{Type: duckchat.EventDone, Result: &duckchat.CompletionResult{
		Message: duckchat.Message{Role: duckchat.RoleAssistant, Content: "Hello"},
	}})
	o.OnEvent(duckchat.Event{Type: duckchat.EventError, Err: errors.New("x")})

	assert.Equal(t, deltasBefore+2, testutil.ToFloat64(DeltasTotal))
	assert.Equal(t, doneBefore+1, testutil.ToFloat64(CompletionsTotal.WithLabelValues("done")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(CompletionsTotal.WithLabelValues("error")))
	assert.Len(t, seen, 4)

	// nil next is allowed
	NewObserver(nil).OnEvent(duckchat.Event{Type: duckchat.EventCompletion})
}

func TestObserveFailure(t *testing.T) {
	tokenErrs := CompletionsTotal.WithLabelValues("token_error")
	otherErrs := CompletionsTotal.WithLabelValues("error")
	tokenBefore, otherBefore := testutil.ToFloat64(tokenErrs), testutil.ToFloat64(otherErrs)

	ObserveFailure(nil)
	ObserveFailure(&duckchat.TokenFetchError{StatusCode: http.StatusServiceUnavailable})
	ObserveFailure(&duckchat.ChallengeEvalError{Source: duckchat.SourceStatus, Err: errors.New("bad")})
	ObserveFailure(duckchat.ErrTokenReused)

	// already counted through the error event
	ObserveFailure(&duckchat.CompletionRequestError{StatusCode: http.StatusTooManyRequests})
	ObserveFailure(&duckchat.StreamReadError{Err: errors.New("reset")})

	ObserveFailure(errors.New("unexpected"))

	assert.Equal(t, tokenBefore+3, testutil.ToFloat64(tokenErrs))
	assert.Equal(t, otherBefore+1, testutil.ToFloat64(otherErrs))
}
