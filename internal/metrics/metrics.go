package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	instanceSpawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termvisor",
			Subsystem: "instance",
			Name:      "spawns_total",
			Help:      "Number of successful terminal instance spawns.",
		},
	)
	instanceExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termvisor",
			Subsystem: "instance",
			Name:      "exits_total",
			Help:      "Number of natural process exits.",
		},
	)
	instanceDisposals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termvisor",
			Subsystem: "instance",
			Name:      "disposals_total",
			Help:      "Number of instance teardowns (explicit or after exit).",
		},
	)
	bufferDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termvisor",
			Subsystem: "logbuf",
			Name:      "dropped_records_total",
			Help:      "Records dropped because a session buffer was at capacity.",
		},
	)
	recordsFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termvisor",
			Subsystem: "logbuf",
			Name:      "flushed_records_total",
			Help:      "Records persisted to session logs.",
		},
	)
	recordsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termvisor",
			Subsystem: "logbuf",
			Name:      "discarded_records_total",
			Help:      "Records discarded at flush time by classification.",
		},
	)
	trimmedRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termvisor",
			Subsystem: "logstore",
			Name:      "trimmed_records_total",
			Help:      "Records removed by retention trims.",
		},
	)
	batchFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "termvisor",
			Subsystem: "display",
			Name:      "batch_flushes_total",
			Help:      "Display batch flushes by reason.",
		}, []string{"reason"},
	)
	eventDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termvisor",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because the subscriber queue was full.",
		},
	)
)

// Register registers all collectors with reg. Safe to call more than once.
func Register(reg prometheus.Registerer) error {
	cs := []prometheus.Collector{
		instanceSpawns, instanceExits, instanceDisposals,
		bufferDrops, recordsFlushed, recordsDiscarded,
		trimmedRecords, batchFlushes, eventDrops,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	regOK.Store(true)
	return nil
}

// Registered reports whether Register completed.
func Registered() bool { return regOK.Load() }

// Handler returns the HTTP handler serving the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncSpawn()          { instanceSpawns.Inc() }
func IncExit()           { instanceExits.Inc() }
func IncDisposal()       { instanceDisposals.Inc() }
func IncBufferDrop()     { bufferDrops.Inc() }
func AddFlushed(n int)   { recordsFlushed.Add(float64(n)) }
func AddDiscarded(n int) { recordsDiscarded.Add(float64(n)) }
func IncTrim(removed int) {
	trimmedRecords.Add(float64(removed))
}
func IncEventDrop() { eventDrops.Inc() }
func IncBatchFlush(reason string) {
	batchFlushes.WithLabelValues(reason).Inc()
}
