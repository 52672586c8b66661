// Package api serves remote evaluation over HTTP: clients post attributes
// and receive evaluated features or experiment assignments computed
// against the current snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagkit/internal/engine"
	"github.com/TimurManjosov/flagkit/internal/snapshot"
	"github.com/TimurManjosov/flagkit/internal/sticky"
	"github.com/TimurManjosov/flagkit/internal/telemetry"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// stickyLoadTimeout bounds the sticky document fetch done per request.
const stickyLoadTimeout = 2 * time.Second

type Options struct {
	Logger            zerolog.Logger
	StickyService     sticky.Service
	TrackingCallback  engine.TrackingCallback
	Observer          engine.Observer
	TrackingCacheSize int
	RateLimitPerIP    int // requests per minute; 0 disables limiting
	QAMode            bool
}

type Server struct {
	root      *engine.Evaluator
	log       zerolog.Logger
	rateLimit int
}

// NewServer creates the API server. All requests share one tracking dedup
// cache through a root evaluator.
func NewServer(opts Options) *Server {
	log := opts.Logger.With().Str("component", "api").Logger()
	root := engine.NewEvaluator(engine.Context{
		QAMode:              opts.QAMode,
		StickyBucketService: opts.StickyService,
		TrackingCallback:    opts.TrackingCallback,
	}, engine.Options{
		Logger:            &opts.Logger,
		TrackingCacheSize: opts.TrackingCacheSize,
		Observer:          opts.Observer,
	})
	return &Server{root: root, log: log, rateLimit: opts.RateLimitPerIP}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(middleware.Timeout(5 * time.Second))
	if s.rateLimit > 0 {
		r.Use(httprate.Limit(s.rateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(RateLimitedError),
		))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/v1/features", s.handleFeatures)
	r.Post("/v1/features/eval", s.handleEvalAll)
	r.Post("/v1/features/{key}/eval", s.handleEvalOne)
	r.Post("/v1/experiments/run", s.handleRun)

	return r
}

// handleFeatures serves the raw payload with ETag revalidation.
func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	snap := snapshot.Load()
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == snap.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", snap.ETag)
	writeJSON(w, http.StatusOK, snapshot.Payload{Features: snap.Features, SavedGroups: snap.SavedGroups})
}

// evalRequest is the body shared by the evaluation endpoints.
type evalRequest struct {
	Attributes       engine.Attributes  `json:"attributes"`
	ForcedVariations map[string]int     `json:"forcedVariations,omitempty"`
	Keys             []string           `json:"keys,omitempty"`
	Experiment       *engine.Experiment `json:"experiment,omitempty"`
}

type evalAllResponse struct {
	Features    map[string]*engine.FeatureResult `json:"features"`
	ETag        string                           `json:"etag"`
	EvaluatedAt string                           `json:"evaluatedAt"`
}

func (s *Server) handleEvalOne(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	snap := snapshot.Load()
	if _, exists := snap.Features[key]; !exists {
		NotFoundError(w, r, "unknown feature: "+key)
		return
	}
	ev := s.evaluator(r.Context(), snap, req)
	w.Header().Set("ETag", snap.ETag)
	writeJSON(w, http.StatusOK, ev.EvalFeature(key))
}

func (s *Server) handleEvalAll(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	snap := snapshot.Load()
	ev := s.evaluator(r.Context(), snap, req)

	keys := req.Keys
	if len(keys) == 0 {
		keys = make([]string, 0, len(snap.Features))
		for k := range snap.Features {
			keys = append(keys, k)
		}
	}
	results := make(map[string]*engine.FeatureResult, len(keys))
	for _, k := range keys {
		results[k] = ev.EvalFeature(k)
	}

	writeJSON(w, http.StatusOK, evalAllResponse{
		Features:    results,
		ETag:        snap.ETag,
		EvaluatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if req.Experiment == nil {
		BadRequestError(w, r, ErrCodeMissingField, "experiment is required")
		return
	}
	if req.Experiment.Key == "" {
		ValidationError(w, r, "Validation failed", map[string]string{"experiment.key": "Key is required"})
		return
	}
	ev := s.evaluator(r.Context(), snapshot.Load(), req, req.Experiment)
	writeJSON(w, http.StatusOK, ev.Run(req.Experiment))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (*evalRequest, bool) {
	var req evalRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RequestTooLargeError(w, r, "request body too large")
			return nil, false
		}
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return nil, false
	}
	return &req, true
}

// evaluator derives a per-request evaluator from the root one and loads the
// user's sticky bucket documents. A sticky store failure is logged and the
// request proceeds with fresh assignments.
func (s *Server) evaluator(ctx context.Context, snap *snapshot.Snapshot, req *evalRequest, extra ...*engine.Experiment) *engine.Evaluator {
	ev := s.root.WithAttributes(req.Attributes)
	ev.SetFeatures(snap.Features, snap.SavedGroups)
	if len(req.ForcedVariations) > 0 {
		ev.SetForcedVariations(req.ForcedVariations)
	}
	if ev.Context().StickyBucketService != nil {
		ctx, cancel := context.WithTimeout(ctx, stickyLoadTimeout)
		defer cancel()
		if err := ev.RefreshStickyBuckets(ctx, extra...); err != nil {
			s.log.Warn().Err(err).Str("request_id", middleware.GetReqID(ctx)).Msg("sticky bucket load failed")
		}
	}
	return ev
}
