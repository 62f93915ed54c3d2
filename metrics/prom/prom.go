package prom

import (
	"github.com/IvanBrykalov/asyncdatacache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	evicts        *prometheus.CounterVec
	waitExclusive prometheus.Counter
	sizeEntries   prometheus.Gauge
	sizeBytes     prometheus.Gauge
	ssdSavedPages prometheus.Counter
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
func New(reg prometheus.Registerer, ns, sub string) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "hits_total", Help: "Cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "misses_total", Help: "Cache misses",
		}),
		evicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "evictions_total", Help: "Cache evictions by reason",
		}, []string{"reason"}),
		waitExclusive: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "wait_exclusive_total", Help: "Times a caller waited on an exclusive entry",
		}),
		sizeEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "size_entries", Help: "Number of resident entries",
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "size_bytes", Help: "Total resident bytes",
		}),
		ssdSavedPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "ssd_saved_pages_total", Help: "Pages handed to the SSD tier",
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.waitExclusive, a.sizeEntries, a.sizeBytes, a.ssdSavedPages)
	return a
}

func (a *Adapter) Hit()           { a.hits.Inc() }
func (a *Adapter) Miss()          { a.misses.Inc() }
func (a *Adapter) WaitExclusive() { a.waitExclusive.Inc() }

func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(reason(r)).Inc()
}

func (a *Adapter) Size(numEntries int, bytes int64) {
	a.sizeEntries.Set(float64(numEntries))
	a.sizeBytes.Set(float64(bytes))
}

func (a *Adapter) SSDSave(numPages int32) {
	a.ssdSavedPages.Add(float64(numPages))
}

func reason(r cache.EvictReason) string {
	switch r {
	case cache.EvictDesperate:
		return "desperate"
	case cache.EvictSuperseded:
		return "superseded"
	default:
		return "clock"
	}
}

var _ cache.Metrics = (*Adapter)(nil)
