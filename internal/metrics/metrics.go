package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mossy-p/randomchat-signaling/internal/matchmaking"
	"github.com/mossy-p/randomchat-signaling/internal/models"
	"github.com/mossy-p/randomchat-signaling/internal/registry"
)

const namespace = "signaling"

// StatsFunc reports the current registry population.
type StatsFunc func() registry.Stats

// Metrics exports matchmaking activity to Prometheus. It implements
// matchmaking.Observer; gauges are read from the registry at scrape time.
type Metrics struct {
	MatchesTotal     prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	RelaysTotal      *prometheus.CounterVec
	RelaysDropped    *prometheus.CounterVec
	RejectedTotal    *prometheus.CounterVec
	ConnectionsTotal prometheus.Counter
}

// New creates the collectors and registers them, together with the registry
// gauges, on reg.
func New(reg prometheus.Registerer, stats StatsFunc) *Metrics {
	m := &Metrics{
		MatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "matches_total", Help: "Total pairings formed.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_ended_total", Help: "Pairings torn down, by reason.",
		}, []string{"reason"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "session_duration_seconds", Help: "Lifetime of a pairing.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		RelaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relays_total", Help: "Signaling payloads relayed, by kind.",
		}, []string{"kind"}),
		RelaysDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relays_dropped_total", Help: "Signaling payloads dropped, by reason.",
		}, []string{"reason"}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_requests_total", Help: "Client requests answered with an error.",
		}, []string{"error"}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_total", Help: "Websocket connections accepted.",
		}),
	}

	reg.MustRegister(
		m.MatchesTotal, m.SessionsEnded, m.SessionDuration,
		m.RelaysTotal, m.RelaysDropped, m.RejectedTotal, m.ConnectionsTotal,
	)
	if stats != nil {
		reg.MustRegister(
			gauge("peers_online", "Connected peers.", func(s registry.Stats) int { return s.Online }, stats),
			gauge("queue_size", "Peers waiting for a partner.", func(s registry.Stats) int { return s.Waiting }, stats),
			gauge("active_sessions", "Pairings currently active.", func(s registry.Stats) int { return s.Sessions }, stats),
		)
	}
	return m
}

func gauge(name, help string, pick func(registry.Stats) int, stats StatsFunc) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(pick(stats())) })
}

func (m *Metrics) SessionStarted(matchmaking.Session) {
	m.MatchesTotal.Inc()
}

func (m *Metrics) SessionEnded(s matchmaking.Session, reason matchmaking.EndReason) {
	m.SessionsEnded.WithLabelValues(string(reason)).Inc()
	if d := s.Duration(); d > 0 {
		m.SessionDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) Relayed(kind models.EventType) {
	m.RelaysTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) RelayDropped(_ models.EventType, reason matchmaking.DropReason) {
	m.RelaysDropped.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) Rejected(err error) {
	label := "other"
	switch {
	case errors.Is(err, matchmaking.ErrAlreadyWaitingOrPaired):
		label = "already_waiting_or_paired"
	case errors.Is(err, matchmaking.ErrNoOtherUsersOnline):
		label = "no_other_users_online"
	case errors.Is(err, matchmaking.ErrUnknownPeer):
		label = "unknown_peer"
	}
	m.RejectedTotal.WithLabelValues(label).Inc()
}

// Connected counts an accepted websocket connection.
func (m *Metrics) Connected() {
	m.ConnectionsTotal.Inc()
}
