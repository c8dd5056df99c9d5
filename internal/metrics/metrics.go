package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"busfleet/internal/publisher"
)

type Collector struct {
	reg *prometheus.Registry

	TrackingActive prometheus.Gauge

	Ticks                   prometheus.Counter
	TicksSkipped            prometheus.Counter
	TickErrors              *prometheus.CounterVec // stage label: fix|coordinates|route
	TickFailuresConsecutive prometheus.Gauge
	TickDuration            prometheus.Histogram

	Arrivals       prometheus.Counter
	WaypointsDone  prometheus.Counter
	CleanupErrors  prometheus.Counter
	ClaimConflicts prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	Searches        prometheus.Counter
	EtaRequests     *prometheus.CounterVec // result label: ok|unavailable|transport
	OracleDuration  prometheus.Histogram
	PublishInterval prometheus.Gauge // seconds
	GeofenceRadius  prometheus.Gauge // meters
}

func NewCollector(publishInterval time.Duration, geofenceRadius float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TrackingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busfleet_tracking_active",
			Help: "1 while this process is publishing locations for a vehicle.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_ticks_total",
			Help: "Location ticks run.",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still in flight.",
		}),
		TickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busfleet_tick_errors_total",
			Help: "Tick failures by stage.",
		}, []string{"stage"}),
		TickFailuresConsecutive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busfleet_tick_failures_consecutive",
			Help: "Current streak of failed ticks.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busfleet_tick_duration_seconds",
			Help:    "Duration of one location tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		Arrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_geofence_arrivals_total",
			Help: "Geofence entries into a stop.",
		}),
		WaypointsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_waypoints_visited_total",
			Help: "Waypoints pruned from routes after arrival.",
		}),
		CleanupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_cleanup_errors_total",
			Help: "Failed best-effort route removals.",
		}),
		ClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_claim_conflicts_total",
			Help: "Claims refused because another driver holds the vehicle.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busfleet_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busfleet_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		Searches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_searches_total",
			Help: "Rider searches served.",
		}),
		EtaRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busfleet_eta_requests_total",
			Help: "Routing oracle calls by result.",
		}, []string{"result"}),
		OracleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busfleet_oracle_duration_seconds",
			Help:    "Latency of routing oracle calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PublishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busfleet_publish_interval_seconds",
			Help: "Publish interval in seconds.",
		}),
		GeofenceRadius: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busfleet_geofence_radius_meters",
			Help: "Arrival radius around stops.",
		}),
	}

	reg.MustRegister(
		c.TrackingActive,
		c.Ticks, c.TicksSkipped, c.TickErrors, c.TickFailuresConsecutive, c.TickDuration,
		c.Arrivals, c.WaypointsDone, c.CleanupErrors, c.ClaimConflicts,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.Searches, c.EtaRequests, c.OracleDuration,
		c.PublishInterval, c.GeofenceRadius,
	)

	c.PublishInterval.Set(publishInterval.Seconds())
	c.GeofenceRadius.Set(geofenceRadius)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// Publisher adapts the collector to the PublisherMetrics interface.
func (c *Collector) Publisher() publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
