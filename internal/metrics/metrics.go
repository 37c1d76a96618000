// Package metrics exports session and transfer metrics for Prometheus. The
// collector is fed from the event bus, so the core never imports it.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ftphandler/ftp-handler/internal/events"
	"github.com/ftphandler/ftp-handler/internal/logging"
)

// Collector turns bus events into metrics on its own registry.
type Collector struct {
	reg *prometheus.Registry

	transfersTotal   *prometheus.CounterVec
	transferProgress *prometheus.GaugeVec
	connected        prometheus.Gauge
	connectionsTotal *prometheus.CounterVec
	listingsTotal    prometheus.Counter
	listingEntries   prometheus.Histogram
}

// NewCollector registers the metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		transfersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftp_handler_transfers_total",
				Help: "Transfer state transitions by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
		transferProgress: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ftp_handler_transfer_progress_percent",
				Help: "Progress of the transfer in each slot",
			},
			[]string{"direction"},
		),
		connected: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ftp_handler_connected",
				Help: "1 while a live connection exists",
			},
		),
		connectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftp_handler_connection_events_total",
				Help: "Connects, disconnects and detected losses",
			},
			[]string{"event"},
		),
		listingsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ftp_handler_listings_total",
				Help: "Directory listings delivered",
			},
		),
		listingEntries: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ftp_handler_listing_entries",
				Help:    "Entries per directory listing",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}
}

// Observe records one event.
func (c *Collector) Observe(ev events.Event) {
	switch e := ev.(type) {
	case *events.ConnectionEvent:
		switch e.Type() {
		case events.EventConnected:
			c.connected.Set(1)
			c.connectionsTotal.WithLabelValues("connected").Inc()
		case events.EventDisconnected:
			c.connected.Set(0)
			c.connectionsTotal.WithLabelValues("disconnected").Inc()
		case events.EventConnectionLost:
			c.connected.Set(0)
			c.connectionsTotal.WithLabelValues("lost").Inc()
		}
	case *events.ListingEvent:
		c.listingsTotal.Inc()
		c.listingEntries.Observe(float64(e.Entries))
	case *events.TransferEvent:
		c.observeTransfer(e)
	}
}

func (c *Collector) observeTransfer(e *events.TransferEvent) {
	switch e.Type() {
	case events.EventTransferProgress:
		c.transferProgress.WithLabelValues(e.Direction).Set(e.Progress)
		return
	case events.EventTransferStarted:
		c.transferProgress.WithLabelValues(e.Direction).Set(0)
	case events.EventTransferCompleted:
		c.transferProgress.WithLabelValues(e.Direction).Set(100)
	}
	if outcome, ok := outcomes[e.Type()]; ok {
		c.transfersTotal.WithLabelValues(e.Direction, outcome).Inc()
	}
}

var outcomes = map[events.EventType]string{
	events.EventTransferStarted:   "started",
	events.EventTransferCompleted: "completed",
	events.EventTransferFailed:    "failed",
	events.EventTransferPaused:    "paused",
	events.EventTransferDiscarded: "discarded",
}

// TrackDrops exports the number of events bus dropped on full subscriber
// buffers. Call it once per bus.
func (c *Collector) TrackDrops(bus *events.EventBus) {
	c.reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "ftp_handler_events_dropped_total",
			Help: "Events dropped because a subscriber was not keeping up",
		},
		func() float64 { return float64(bus.GetDroppedEventCount()) },
	))
}

// Run observes events from ch until ctx is done or ch closes.
func (c *Collector) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

// Handler returns the Prometheus metrics HTTP handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. The returned address is
// the one actually bound, which matters for ":0".
func (c *Collector) Serve(ctx context.Context, addr string, log *logging.Logger) (string, error) {
	if log == nil {
		log = logging.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	log.Infof("serving metrics on http://%s/metrics", ln.Addr())
	return ln.Addr().String(), nil
}
