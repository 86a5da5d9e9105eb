package server

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer exports connection metrics to Prometheus and keeps plain counters for
// the stats endpoint
type Observer struct {
	// accessed atomically, kept first for 64-bit alignment
	active           int64
	frames           int64
	completed        int64
	gracefullyClosed int64
	failed           int64
	handshakeFailedN int64

	activeGauge       prometheus.Gauge
	outcomeTotal      *prometheus.CounterVec
	handshakeFailures prometheus.Counter
	handshakeLatency  prometheus.Histogram
	framesTotal       prometheus.Counter
	echoedBytes       prometheus.Counter
}

func NewObserver(reg *prometheus.Registry) *Observer {
	o := &Observer{
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tlsecho_active_connections",
			Help: "Connections currently being handled.",
		}),
		outcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tlsecho_connection_outcomes_total",
			Help: "Finished connections by outcome.",
		}, []string{"outcome"}),
		handshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tlsecho_handshake_failures_total",
			Help: "TLS handshakes that did not complete.",
		}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tlsecho_handshake_seconds",
			Help:    "Time spent in the server side TLS handshake.",
			Buckets: prometheus.DefBuckets,
		}),
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tlsecho_frames_total",
			Help: "Frames echoed back to clients.",
		}),
		echoedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tlsecho_echoed_bytes_total",
			Help: "Bytes echoed back to clients, sentinels included.",
		}),
	}
	reg.MustRegister(
		o.activeGauge,
		o.outcomeTotal,
		o.handshakeFailures,
		o.handshakeLatency,
		o.framesTotal,
		o.echoedBytes,
	)
	return o
}

func (o *Observer) ConnOpened() {
	o.activeGauge.Set(float64(atomic.AddInt64(&o.active, 1)))
}

func (o *Observer) ConnClosed() {
	o.activeGauge.Set(float64(atomic.AddInt64(&o.active, -1)))
}

func (o *Observer) Handshake(d time.Duration, err error) {
	o.handshakeLatency.Observe(d.Seconds())
	if err != nil {
		atomic.AddInt64(&o.handshakeFailedN, 1)
		o.handshakeFailures.Inc()
	}
}

func (o *Observer) Echoed(n int) {
	atomic.AddInt64(&o.frames, 1)
	o.framesTotal.Inc()
	o.echoedBytes.Add(float64(n))
}

// Outcome records how a connection ended
func (o *Observer) Outcome(out Outcome) {
	switch out.Kind {
	case Completed:
		atomic.AddInt64(&o.completed, 1)
	case GracefullyClosed:
		atomic.AddInt64(&o.gracefullyClosed, 1)
	case Failed:
		atomic.AddInt64(&o.failed, 1)
	}
	o.outcomeTotal.WithLabelValues(out.Kind.String()).Inc()
}

type Stats struct {
	Active            int64
	Frames            int64
	Completed         int64
	GracefullyClosed  int64
	Failed            int64
	HandshakeFailures int64
	RxBytes           int64
	TxBytes           int64
}

func (o *Observer) Snapshot(valve *Valve) Stats {
	s := Stats{
		Active:            atomic.LoadInt64(&o.active),
		Frames:            atomic.LoadInt64(&o.frames),
		Completed:         atomic.LoadInt64(&o.completed),
		GracefullyClosed:  atomic.LoadInt64(&o.gracefullyClosed),
		Failed:            atomic.LoadInt64(&o.failed),
		HandshakeFailures: atomic.LoadInt64(&o.handshakeFailedN),
	}
	if valve != nil {
		s.RxBytes = valve.GetRx()
		s.TxBytes = valve.GetTx()
	}
	return s
}
