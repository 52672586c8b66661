package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TimurManjosov/flagkit/internal/engine"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	featureEvals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_evaluations_total",
			Help: "Feature evaluations by result source",
		},
		[]string{"source"},
	)
	exposures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "experiment_exposures_total",
			Help: "Experiment exposures reported to the tracking callback",
		},
		[]string{"experiment"},
	)
	stickySaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticky_bucket_saves_total",
			Help: "Sticky bucket document writes by result",
		},
		[]string{"result"},
	)
	trackingDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_deliveries_total",
			Help: "Exposure deliveries to the tracking endpoint by result",
		},
		[]string{"result"},
	)
	trackingDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracking_dropped_total",
		Help: "Exposures dropped because the tracking queue was full or closed",
	})

	SnapshotFeatures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_features",
		Help: "Number of features currently in the in-memory snapshot",
	})

	initOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpReqs, httpDur, featureEvals, exposures,
			stickySaves, trackingDeliveries, trackingDropped, SnapshotFeatures)
	})
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Observer records engine and tracking events as Prometheus metrics.
type Observer struct{}

var _ engine.Observer = Observer{}

func (Observer) FeatureEvaluated(_ string, source engine.FeatureSource) {
	featureEvals.WithLabelValues(string(source)).Inc()
}

func (Observer) ExperimentExposed(experimentKey string, _ int) {
	exposures.WithLabelValues(experimentKey).Inc()
}

func (Observer) StickyBucketSaved(err error) {
	stickySaves.WithLabelValues(result(err == nil)).Inc()
}

func (Observer) TrackingDelivered(success bool) {
	trackingDeliveries.WithLabelValues(result(success)).Inc()
}

func (Observer) TrackingDropped() { trackingDropped.Inc() }

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		// chi fills in the pattern while routing, so read it afterwards
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpReqs.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
