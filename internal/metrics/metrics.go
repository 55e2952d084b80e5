// Package metrics instruments the device/arbiter/playback core with
// Prometheus collectors. Grounded on go.mod's
// github.com/prometheus/client_golang (the pack's only real metrics
// dependency) using the promauto registration style; the metric
// catalog itself — counters/gauges per device and per stream — is
// modeled on aminofox-zenlive's pkg/analytics stream metrics
// (viewers/bitrate/dropped-frames-per-stream becomes
// devices/receivers/ring-overflows-per-card here).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the core exposes. A nil *Registry is
// safe to call methods on — every method is a no-op in that case, so
// callers that don't want metrics (most unit tests) can pass nil
// through components unconditionally.
type Registry struct {
	reg *prometheus.Registry

	devicesActive    *prometheus.GaugeVec
	receiversActive  *prometheus.GaugeVec
	ringOverflows    *prometheus.CounterVec
	transferStarts   prometheus.Counter
	transferFailures prometheus.Counter
	replaySessions   prometheus.Gauge
	ptsIndexLookups  *prometheus.CounterVec
}

// New builds a Registry with all collectors registered against a fresh
// prometheus.Registry (not the global DefaultRegisterer, so multiple
// Contexts — e.g. in tests — never collide on registration).
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		devicesActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vdr_devices_active",
			Help: "Devices constructed and registered, per card (1 = active).",
		}, []string{"card"}),
		receiversActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vdr_receivers_active",
			Help: "Receivers currently attached per card.",
		}, []string{"card"}),
		ringOverflows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vdr_ring_overflows_total",
			Help: "Ring buffer overflow events per card (data dropped, not fatal).",
		}, []string{"card"}),
		transferStarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "vdr_transfer_mode_starts_total",
			Help: "Transfer Mode bridges started.",
		}),
		transferFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vdr_transfer_mode_dispatch_failures_total",
			Help: "Transfer Mode dispatch attempts that found no eligible source device.",
		}),
		replaySessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vdr_replay_sessions_active",
			Help: "1 if a playback engine is currently attached to the primary device, else 0.",
		}),
		ptsIndexLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vdr_pts_index_lookups_total",
			Help: "PTS index lookups during trick-play seeks, by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler returns the HTTP handler to mount at the metrics endpoint.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) SetDeviceActive(card string, active bool) {
	if r == nil {
		return
	}
	v := 0.0
	if active {
		v = 1.0
	}
	r.devicesActive.WithLabelValues(card).Set(v)
}

func (r *Registry) SetReceiverCount(card string, n int) {
	if r == nil {
		return
	}
	r.receiversActive.WithLabelValues(card).Set(float64(n))
}

func (r *Registry) IncRingOverflow(card string) {
	if r == nil {
		return
	}
	r.ringOverflows.WithLabelValues(card).Inc()
}

func (r *Registry) IncTransferStart() {
	if r == nil {
		return
	}
	r.transferStarts.Inc()
}

func (r *Registry) IncTransferDispatchFailure() {
	if r == nil {
		return
	}
	r.transferFailures.Inc()
}

func (r *Registry) SetReplayActive(active bool) {
	if r == nil {
		return
	}
	v := 0.0
	if active {
		v = 1.0
	}
	r.replaySessions.Set(v)
}

func (r *Registry) IncPTSIndexLookup(outcome string) {
	if r == nil {
		return
	}
	r.ptsIndexLookups.WithLabelValues(outcome).Inc()
}
