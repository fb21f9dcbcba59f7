// Package metrics exposes the Prometheus counters and gauges of
// SPEC_FULL.md §4.8: per-VR advertisement/auth/reject counters and a
// current-state gauge, labeled by vrid and interface (the reject
// counter by vrid and reason).
//
// Grounded on dantte-lp-gobfd/internal/metrics/collector.go, the only
// Prometheus consumer in the retrieved pack — same shape (a Collector
// struct of *prometheus.CounterVec/*GaugeVec fields, a constructor
// taking a prometheus.Registerer, one Inc-style method per metric),
// adapted from BFD's peer/local-address labels to VRRP's vrid/
// interface labels.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "rvrrpd"
	subsystem = "vrrp"
)

const (
	labelVRID      = "vrid"
	labelInterface = "interface"
	labelReason    = "reason"
)

// Registry holds all rvrrpd Prometheus metrics. Every method is
// nil-receiver safe so callers can pass a nil *Registry when metrics
// are not configured, matching the nil-safe *zap.SugaredLogger
// convention used throughout this repository.
type Registry struct {
	AdvertsSent     *prometheus.CounterVec
	AdvertsReceived *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec
	ProtocolRejects *prometheus.CounterVec
	State           *prometheus.GaugeVec
}

// New creates a Registry and registers its metrics against reg. If
// reg is nil, prometheus.DefaultRegisterer is used.
func New(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := newRegistry()
	reg.MustRegister(r.AdvertsSent, r.AdvertsReceived, r.AuthFailures, r.ProtocolRejects, r.State)
	return r
}

func newRegistry() *Registry {
	vrLabels := []string{labelVRID, labelInterface}
	rejectLabels := []string{labelVRID, labelReason}

	return &Registry{
		AdvertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "adverts_sent_total",
			Help:      "Total VRRP ADVERTISEMENT frames transmitted.",
		}, vrLabels),

		AdvertsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "adverts_received_total",
			Help:      "Total VRRP ADVERTISEMENT frames accepted by the dispatcher.",
		}, vrLabels),

		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total advertisements rejected for authentication failure.",
		}, vrLabels),

		ProtocolRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "protocol_rejects_total",
			Help:      "Total frames dropped by the dispatch validation pipeline, by reason.",
		}, rejectLabels),

		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Current FSM state per virtual router (0=Init,1=Backup,2=Master,3=Down).",
		}, vrLabels),
	}
}

// AdvertSent increments the sent-advertisement counter for vrid on
// iface.
func (r *Registry) AdvertSent(vrid byte, iface string) {
	if r == nil {
		return
	}
	r.AdvertsSent.WithLabelValues(vridLabel(vrid), iface).Inc()
}

// AdvertReceived increments the accepted-advertisement counter.
func (r *Registry) AdvertReceived(vrid byte, iface string) {
	if r == nil {
		return
	}
	r.AdvertsReceived.WithLabelValues(vridLabel(vrid), iface).Inc()
}

// AuthFailure increments the authentication-failure counter.
func (r *Registry) AuthFailure(vrid byte, iface string) {
	if r == nil {
		return
	}
	r.AuthFailures.WithLabelValues(vridLabel(vrid), iface).Inc()
}

// ProtocolReject increments the protocol-reject counter, labeled with
// the dispatch step that failed.
func (r *Registry) ProtocolReject(vrid byte, reason string) {
	if r == nil {
		return
	}
	r.ProtocolRejects.WithLabelValues(vridLabel(vrid), reason).Inc()
}

// SetState sets the current FSM-state gauge for vrid on iface.
func (r *Registry) SetState(vrid byte, iface string, state int) {
	if r == nil {
		return
	}
	r.State.WithLabelValues(vridLabel(vrid), iface).Set(float64(state))
}

func vridLabel(vrid byte) string { return strconv.Itoa(int(vrid)) }
