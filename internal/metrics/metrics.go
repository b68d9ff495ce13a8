// Package metrics holds the Prometheus collectors for the chatbot client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client groups chatbot metrics. A nil *Client is valid and records nothing,
// so library users that do not care about metrics can pass nil.
type Client struct {
	Messages        *prometheus.CounterVec
	MessageLatency  prometheus.Histogram
	Attempts        *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	SessionsCreated prometheus.Counter
	SessionRecovery prometheus.Counter
	DedupHits       prometheus.Counter
}

// New registers the chatbot collectors on reg.
func New(reg prometheus.Registerer) *Client {
	factory := promauto.With(reg)
	return &Client{
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_messages_total",
			Help: "Messages sent through the chatbot facade by agent and result code",
		}, []string{"agent", "code"}),

		MessageLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatbot_message_duration_seconds",
			Help:    "End-to-end SendMessage latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_http_attempts_total",
			Help: "HTTP attempts against the agent backend by outcome",
		}, []string{"outcome"}),

		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_retries_total",
			Help: "Retries scheduled by reason",
		}, []string{"reason"}),

		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatbot_sessions_created_total",
			Help: "Conversation sessions created locally",
		}),

		SessionRecovery: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatbot_session_recoveries_total",
			Help: "Transparent re-initializations after the backend lost a session",
		}),

		DedupHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatbot_dedup_hits_total",
			Help: "Requests answered by an identical in-flight request",
		}),
	}
}

// ObserveMessage records one SendMessage outcome. code is "OK" on success.
func (c *Client) ObserveMessage(agent, code string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Messages.WithLabelValues(agent, code).Inc()
	c.MessageLatency.Observe(elapsed.Seconds())
}

// ObserveAttempt records one HTTP attempt.
func (c *Client) ObserveAttempt(outcome string) {
	if c == nil {
		return
	}
	c.Attempts.WithLabelValues(outcome).Inc()
}

// ObserveRetry records a scheduled retry.
func (c *Client) ObserveRetry(reason string) {
	if c == nil {
		return
	}
	c.Retries.WithLabelValues(reason).Inc()
}

// SessionCreated counts a new local session.
func (c *Client) SessionCreated() {
	if c == nil {
		return
	}
	c.SessionsCreated.Inc()
}

// SessionRecovered counts a session-lost recovery cycle.
func (c *Client) SessionRecovered() {
	if c == nil {
		return
	}
	c.SessionRecovery.Inc()
}

// DedupHit counts a deduplicated request.
func (c *Client) DedupHit() {
	if c == nil {
		return
	}
	c.DedupHits.Inc()
}
