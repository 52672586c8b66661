package engine

import "strconv"

// track reports an exposure once per (hash attribute, hash value,
// experiment key, variation). The dedup cache is an LRU, so a very old
// exposure may be reported again after eviction.
func (e *Evaluator) track(st *evalState, exp *Experiment, res *ExperimentResult) {
	if exp == nil || res == nil {
		return
	}
	cb := st.ctx.TrackingCallback
	if cb == nil {
		return
	}

	key := res.HashAttribute + res.HashValue + exp.Key + strconv.Itoa(res.VariationID)
	if seen, _ := e.tracked.ContainsOrAdd(key, struct{}{}); seen {
		return
	}

	if e.observer != nil {
		e.observer.ExperimentExposed(exp.Key, res.VariationID)
	}
	e.safeCall("tracking callback", func() { cb(exp, res) })
}
