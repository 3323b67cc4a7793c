// Package telemetry exposes the control plane's Prometheus surface:
// vector metrics under one namespace, registered once at construction
// and updated from pkg/rtc via the Metrics interface.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sfu"

// Metrics implements rtc.Metrics over a dedicated prometheus.Registry so
// tests can construct as many independent instances as they like without
// tripping the default registry's duplicate-registration panic.
type Metrics struct {
	registry *prometheus.Registry

	rooms     prometheus.Gauge
	peers     prometheus.Gauge
	producers prometheus.Gauge
	consumers prometheus.Gauge

	events         *prometheus.CounterVec
	fanoutFailures prometheus.Counter
	workerDeaths   prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms_active",
			Help: "Number of rooms currently live.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peers_active",
			Help: "Number of peers currently registered.",
		}),
		producers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "producers_active",
			Help: "Number of producers currently open across all rooms.",
		}),
		consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "consumers_active",
			Help: "Number of consumers currently open across all rooms.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signaling_events_total",
			Help: "Signaling events processed, by event name and result.",
		}, []string{"event", "result"}),
		fanoutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fanout_failures_total",
			Help: "Fan-out deliveries that failed because a peer's sink rejected the send.",
		}),
		workerDeaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_deaths_total",
			Help: "Fatal media engine worker deaths observed.",
		}),
	}
	registry.MustRegister(m.rooms, m.peers, m.producers, m.consumers, m.events, m.fanoutFailures, m.workerDeaths)
	return m
}

// Registry exposes the underlying registry for pkg/service's /metrics
// handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SetRooms(n int)     { m.rooms.Set(float64(n)) }
func (m *Metrics) SetPeers(n int)     { m.peers.Set(float64(n)) }
func (m *Metrics) SetProducers(n int) { m.producers.Set(float64(n)) }
func (m *Metrics) SetConsumers(n int) { m.consumers.Set(float64(n)) }

func (m *Metrics) IncEvent(event, result string) {
	m.events.WithLabelValues(event, result).Inc()
}

func (m *Metrics) IncFanoutFailure() { m.fanoutFailures.Inc() }
func (m *Metrics) IncWorkerDeath()   { m.workerDeaths.Inc() }
