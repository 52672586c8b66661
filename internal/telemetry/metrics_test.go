package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/TimurManjosov/flagkit/internal/engine"
	"github.com/TimurManjosov/flagkit/internal/value"
)

func TestInit_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Init()
		Init()
	})
}

func TestObserver_CountsEngineEvents(t *testing.T) {
	before := testutil.ToFloat64(featureEvals.WithLabelValues("defaultValue"))
	savesBefore := testutil.ToFloat64(stickySaves.WithLabelValues("error"))

	features := engine.Features{"f": {DefaultValue: value.Bool(true)}}
	ev := engine.NewEvaluator(engine.Context{Features: features}, engine.Options{Observer: Observer{}})
	ev.EvalFeature("f")
	ev.EvalFeature("f")

	assert.Equal(t, before+2, testutil.ToFloat64(featureEvals.WithLabelValues("defaultValue")))

	Observer{}.StickyBucketSaved(errors.New("down"))
	assert.Equal(t, savesBefore+1, testutil.ToFloat64(stickySaves.WithLabelValues("error")))
}

func TestObserver_Tracking(t *testing.T) {
	ok := testutil.ToFloat64(trackingDeliveries.WithLabelValues("ok"))
	dropped := testutil.ToFloat64(trackingDropped)

	Observer{}.TrackingDelivered(true)
	Observer{}.TrackingDropped()

	assert.Equal(t, ok+1, testutil.ToFloat64(trackingDeliveries.WithLabelValues("ok")))
	assert.Equal(t, dropped+1, testutil.ToFloat64(trackingDropped))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/features/{key}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpReqs.WithLabelValues("/v1/features/{key}", http.MethodGet, "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/features/banner", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpReqs.WithLabelValues("/v1/features/{key}", http.MethodGet, "418")))
}
