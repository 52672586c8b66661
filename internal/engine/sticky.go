package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/TimurManjosov/flagkit/internal/sticky"
)

// stickySaveTimeout bounds a single assignment write to the sticky store.
const stickySaveTimeout = 5 * time.Second

func (e *Evaluator) stickyDocs() sticky.Docs {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ctx.StickyBucketAssignmentDocs
}

// stickyVariation returns the stored variation for exp, or -1. blocked is
// true when the user holds an assignment from a bucket version below
// MinBucketVersion.
func (e *Evaluator) stickyVariation(st *evalState, exp *Experiment) (variation int, blocked bool) {
	hashKey, fallbackKey := st.stickyDocKeys(exp)
	assignments := sticky.Assignments(e.stickyDocs(), hashKey, fallbackKey)
	return sticky.Variation(assignments, exp.Key, exp.BucketVersion, exp.MinBucketVersion, variationKeys(exp))
}

// saveStickyAssignment records the assignment in memory and, when it
// changed, persists the document through the sticky bucket service.
func (e *Evaluator) saveStickyAssignment(st *evalState, exp *Experiment, hashAttr, hashValue, variationKey string) {
	e.mu.Lock()
	doc, changed := sticky.GenerateDocument(e.ctx.StickyBucketAssignmentDocs, hashAttr, hashValue, map[string]string{
		sticky.ExperimentKey(exp.Key, exp.BucketVersion): variationKey,
	})
	if changed {
		docs := make(sticky.Docs, len(e.ctx.StickyBucketAssignmentDocs)+1)
		for k, v := range e.ctx.StickyBucketAssignmentDocs {
			docs[k] = v
		}
		docs[doc.Key()] = doc
		e.ctx.StickyBucketAssignmentDocs = docs
	}
	e.mu.Unlock()

	if !changed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stickySaveTimeout)
	defer cancel()
	err := st.ctx.StickyBucketService.SaveAssignments(ctx, doc)
	if err != nil {
		e.log.Warn().Err(err).Str("experiment", exp.Key).Str("doc", doc.Key()).Msg("sticky bucket save failed")
	}
	if e.observer != nil {
		e.observer.StickyBucketSaved(err)
	}
}

// RefreshStickyBuckets loads the sticky bucket documents for every
// identifier attribute used by an experiment rule, and by any extra
// experiments about to be run, replacing the in-memory cache. It is a no-op
// without a sticky bucket service.
func (e *Evaluator) RefreshStickyBuckets(ctx context.Context, extra ...*Experiment) error {
	st := e.newState()
	if st.ctx.StickyBucketService == nil {
		return nil
	}

	names := make(map[string]struct{})
	add := func(hashAttr, fallbackAttr string) {
		if hashAttr == "" {
			hashAttr = "id"
		}
		names[hashAttr] = struct{}{}
		if fallbackAttr != "" {
			names[fallbackAttr] = struct{}{}
		}
	}
	for _, f := range st.ctx.Features {
		if f == nil {
			continue
		}
		for _, r := range f.Rules {
			if r.Variations != nil {
				add(r.HashAttribute, r.FallbackAttribute)
			}
		}
	}
	for _, exp := range extra {
		if exp != nil {
			add(exp.HashAttribute, exp.FallbackAttribute)
		}
	}

	attrs := make(map[string]string, len(names))
	for name := range names {
		if hv := hashString(st.lookup(name)); hv != "" {
			attrs[name] = hv
		}
	}

	docs, err := st.ctx.StickyBucketService.GetAllAssignments(ctx, attrs)
	if err != nil {
		return fmt.Errorf("refresh sticky buckets: %w", err)
	}
	e.mu.Lock()
	e.ctx.StickyBucketAssignmentDocs = docs
	e.mu.Unlock()
	return nil
}
