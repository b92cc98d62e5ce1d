// Package metrics exposes Prometheus collectors for the duck.ai client and
// wrappers that feed them.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/paularlott/duckchat"
)

var (
	// RequestsTotal counts upstream requests by endpoint and status code
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckchat_requests_total",
			Help: "Total number of requests sent to duck.ai",
		},
		[]string{"endpoint", "status"}, // endpoint=status/chat, status=HTTP code or error
	)

	// RequestLatency records time until response headers arrive
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckchat_request_duration_seconds",
			Help:    "Time until duck.ai response headers are received",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// ChallengeEvaluations counts challenge evaluations by result
	ChallengeEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckchat_challenge_evaluations_total",
			Help: "Total number of VQD challenge evaluations",
		},
		[]string{"result"}, // ok/error
	)

	// ChallengeDuration records challenge evaluation time
	ChallengeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckchat_challenge_duration_seconds",
			Help:    "VQD challenge evaluation latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// CompletionsTotal counts finished completion calls by outcome
	CompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckchat_completions_total",
			Help: "Total number of completion calls by outcome",
		},
		[]string{"outcome"}, // done/error/token_error
	)

	// DeltasTotal counts streamed content deltas
	DeltasTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckchat_deltas_total",
			Help: "Total number of content deltas streamed",
		},
	)

	// ReplyLength records the length of completed replies in bytes
	ReplyLength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckchat_reply_bytes",
			Help:    "Length of completed assistant replies",
			Buckets: []float64{64, 256, 1024, 4096, 16384, 65536},
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RequestLatency,
		ChallengeEvaluations,
		ChallengeDuration,
		CompletionsTotal,
		DeltasTotal,
		ReplyLength,
	}
}

// Register adds every collector to reg. Collectors already registered with
// reg are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// InstrumentDoer counts and times the requests passing through next.
func InstrumentDoer(next duckchat.Doer) duckchat.Doer {
	return duckchat.DoerFunc(func(req *http.Request) (*http.Response, error) {
		endpoint := path.Base(req.URL.Path)
		start := time.Now()

		resp, err := next.Do(req)
		RequestLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			RequestsTotal.WithLabelValues(endpoint, "error").Inc()
			return nil, err
		}
		RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		return resp, nil
	})
}

// InstrumentEvaluator counts and times the challenge evaluations of next.
func InstrumentEvaluator(next duckchat.Evaluator) duckchat.Evaluator {
	return duckchat.EvaluatorFunc(func(ctx context.Context, encoded, identity string) (json.RawMessage, error) {
		start := time.Now()
		raw, err := next.Evaluate(ctx, encoded, identity)
		ChallengeDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			ChallengeEvaluations.WithLabelValues("error").Inc()
			return nil, err
		}
		ChallengeEvaluations.WithLabelValues("ok").Inc()
		return raw, nil
	})
}

type observer struct {
	next duckchat.Observer
}

// NewObserver returns an observer recording completion events before
// passing them to next, which may be nil.
func NewObserver(next duckchat.Observer) duckchat.Observer {
	if next == nil {
		next = duckchat.NoOpObserver{}
	}
	return &observer{next: next}
}

func (o *observer) OnEvent(e duckchat.Event) {
	switch e.Type {
	case duckchat.EventCompletion:
		DeltasTotal.Inc()
	case duckchat.EventError:
		CompletionsTotal.WithLabelValues("error").Inc()
	case duckchat.EventDone:
		CompletionsTotal.WithLabelValues("done").Inc()
		if e.Result != nil {
			ReplyLength.Observe(float64(len(e.Result.Message.Content)))
		}
	}
	o.next.OnEvent(e)
}

// ObserveFailure records a failed completion call that produced no error
// event: token fetch and challenge failures, and token reuse. Failures
// already reported through an observer are ignored.
func ObserveFailure(err error) {
	if err == nil {
		return
	}
	var reqErr *duckchat.CompletionRequestError
	var readErr *duckchat.StreamReadError
	if errors.As(err, &reqErr) || errors.As(err, &readErr) {
		return
	}
	outcome := "error"
	if duckchat.IsTokenError(err) {
		outcome = "token_error"
	}
	CompletionsTotal.WithLabelValues(outcome).Inc()
}
