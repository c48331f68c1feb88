package metrics

import (
	"rebeca/internal/bus"
)

// Metric names exported by the bot.
const (
	EventsReceived    = "rebeca_events_received_total"
	EventsDropped     = "rebeca_events_dropped_total"
	RunsTotal         = "rebeca_runs_total"
	InferenceFailures = "rebeca_inference_failures_total"
	ReactionFailures  = "rebeca_reaction_failures_total"
	ReplyFailures     = "rebeca_reply_failures_total"
	RepliesSent       = "rebeca_replies_sent_total"
	LastRun           = "rebeca_last_run_timestamp_seconds"
	InferenceLatency  = "rebeca_inference_latency_seconds"
)

var latencyBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Observe keeps the collector current from events on eb.
func (c *Collector) Observe(eb *bus.EventBus) {
	eb.On(bus.EventReceived, func(e bus.Event) {
		c.Counter(EventsReceived, "Inbound events seen by the adapter", "").Inc()
	})
	eb.On(bus.EventDropped, func(e bus.Event) {
		c.Counter(EventsDropped, "Inbound events filtered before processing", label("reason", e.Reason)).Inc()
	})
	eb.On(bus.EventRunCompleted, func(e bus.Event) {
		c.Counter(RunsTotal, "Pipeline runs by outcome", label("outcome", string(e.Outcome))).Inc()
		if e.Category != "" {
			c.Counter(InferenceFailures, "Failed inference calls by category", label("category", string(e.Category))).Inc()
		}
		if e.InferenceLatency > 0 {
			c.Histogram(InferenceLatency, "Inference latency in seconds", "", latencyBuckets).
				Observe(e.InferenceLatency.Seconds())
		}
		c.Gauge(LastRun, "Unix time of the last completed run", "").Set(e.Timestamp.Unix())
	})
	eb.On(bus.EventReplySent, func(e bus.Event) {
		c.Counter(RepliesSent, "Replies delivered to Slack", "").Inc()
	})
	eb.On(bus.EventReplyFailed, func(e bus.Event) {
		c.Counter(ReplyFailures, "Replies that could not be delivered", label("stage", e.Reason)).Inc()
	})
}

// ReactionFailed counts a failed status reaction call. It fits
// agent.StatusConfig.OnFailure.
func (c *Collector) ReactionFailed(op string) {
	c.Counter(ReactionFailures, "Status reaction calls that failed", label("op", op)).Inc()
}

func label(name, value string) string {
	if value == "" {
		value = "none"
	}
	return name + `="` + value + `"`
}
