// Package metrics holds the process Prometheus registry and the enrichment counters
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "enrichd"

// Skip reasons for RecordSkipped
const (
	ReasonStructural = "structural"
	ReasonJoinMiss   = "join_miss"
	ReasonDecode     = "decode"
)

type set struct {
	once sync.Once
	reg  *prometheus.Registry

	recordsRead    *prometheus.CounterVec
	recordsSkipped *prometheus.CounterVec
	docsAttempted  *prometheus.CounterVec
	docsStored     *prometheus.CounterVec
	flushes        *prometheus.CounterVec
	identity       *prometheus.CounterVec
	geo            *prometheus.CounterVec
	studyWritten   *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	lastRun        *prometheus.GaugeVec
}

var m set

func (s *set) init() {
	s.once.Do(func() {
		s.reg = prometheus.NewRegistry()
		counter := func(name, help string, labels ...string) *prometheus.CounterVec {
			return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
		}
		s.recordsRead = counter("records_read_total", "Raw records read", "source")
		s.recordsSkipped = counter("records_skipped_total", "Raw records skipped", "source", "reason")
		s.docsAttempted = counter("documents_attempted_total", "Documents sent to the index store", "index")
		s.docsStored = counter("documents_stored_total", "Documents the index store accepted", "index")
		s.flushes = counter("bulk_flushes_total", "Bulk flushes", "index")
		s.identity = counter("identity_lookups_total", "Identity resolutions by outcome", "source", "outcome")
		s.geo = counter("geo_lookups_total", "Geolocation lookups by outcome", "outcome")
		s.studyWritten = counter("study_documents_total", "Documents written by studies", "study")
		s.runs = counter("runs_total", "Pipeline runs by result", "source", "result")
		s.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "Pipeline run duration",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"source"})
		s.lastRun = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}, []string{"source"})

		s.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			s.recordsRead, s.recordsSkipped,
			s.docsAttempted, s.docsStored, s.flushes,
			s.identity, s.geo, s.studyWritten,
			s.runs, s.runDuration, s.lastRun,
		)
	})
}

// Registry returns the process registry
func Registry() *prometheus.Registry { m.init(); return m.reg }

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	m.init()
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RecordRead counts one raw record read for source
func RecordRead(source string) { m.init(); m.recordsRead.WithLabelValues(source).Inc() }

// RecordSkipped counts one skipped raw record
func RecordSkipped(source, reason string) {
	m.init()
	m.recordsSkipped.WithLabelValues(source, reason).Inc()
}

// ObserveFlush is a bulk.Observer
func ObserveFlush(index string, attempted, stored int) {
	m.init()
	m.flushes.WithLabelValues(index).Inc()
	m.docsAttempted.WithLabelValues(index).Add(float64(attempted))
	m.docsStored.WithLabelValues(index).Add(float64(stored))
}

// AddIdentity adds resolution outcomes for source
func AddIdentity(source string, hits, misses, errors int) {
	m.init()
	m.identity.WithLabelValues(source, "hit").Add(float64(hits))
	m.identity.WithLabelValues(source, "miss").Add(float64(misses))
	m.identity.WithLabelValues(source, "error").Add(float64(errors))
}

// AddGeo adds geolocation outcomes
func AddGeo(hits, misses, providerCalls int) {
	m.init()
	m.geo.WithLabelValues("hit").Add(float64(hits))
	m.geo.WithLabelValues("miss").Add(float64(misses))
	m.geo.WithLabelValues("provider_call").Add(float64(providerCalls))
}

// AddStudy adds documents written by study
func AddStudy(study string, written int) {
	m.init()
	m.studyWritten.WithLabelValues(study).Add(float64(written))
}

// FinishRun records one finished run
func FinishRun(source string, ok bool, took time.Duration, at time.Time) {
	m.init()
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.runs.WithLabelValues(source, result).Inc()
	m.runDuration.WithLabelValues(source).Observe(took.Seconds())
	m.lastRun.WithLabelValues(source).Set(float64(at.Unix()))
}
