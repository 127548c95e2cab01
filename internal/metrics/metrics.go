// Package metrics exposes the server's Prometheus counters and gauges.
// Grounded on the teacher's use of github.com/prometheus/client_golang
// (implied by its MonitoringConfig section) — an ambient concern spec.md's
// Non-goals never exclude, so it gets a concrete home here.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedAgents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentchat_connected_agents",
		Help: "Number of agents currently holding a live connection.",
	})

	ChannelCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentchat_channel_count",
		Help: "Number of channels currently tracked by the router.",
	})

	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentchat_frames_received_total",
		Help: "Inbound frames received, by message type.",
	}, []string{"type"})

	FramesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentchat_frames_rejected_total",
		Help: "Inbound frames rejected, by error code.",
	}, []string{"code"})

	ProposalsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentchat_proposals_created_total",
		Help: "Proposals created.",
	})

	DisputesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentchat_disputes_opened_total",
		Help: "Disputes opened.",
	})

	DisputesFallback = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentchat_disputes_fallback_total",
		Help: "Disputes that fell back to manual/operator resolution.",
	})

	DisputesEvidenceTimedOut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentchat_disputes_evidence_timed_out_total",
		Help: "Disputes whose evidence window closed by timeout rather than caller action.",
	})

	RedactionsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentchat_redactions_applied_total",
		Help: "Secret-pattern matches redacted from outbound content.",
	})

	EscalationActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentchat_escalation_actions_total",
		Help: "Moderation escalation actions taken, by resulting level.",
	}, []string{"level"})

	CallbacksFired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentchat_callbacks_fired_total",
		Help: "Scheduled callback messages delivered.",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectedAgents, ChannelCount, FramesReceived, FramesRejected,
		ProposalsCreated, DisputesOpened, DisputesFallback, DisputesEvidenceTimedOut,
		RedactionsApplied, EscalationActions, CallbacksFired,
	)
}
