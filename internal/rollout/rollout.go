package rollout

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRange is returned when a bucket range is not a [start, end] pair.
var ErrInvalidRange = errors.New("bucket range must be a [start, end] pair")

// BucketRange is a half-open interval [Start, End) inside [0,1].
// On the wire it is a two-element array.
type BucketRange struct {
	Start float64
	End   float64
}

// Contains reports whether start <= n < end.
func (r BucketRange) Contains(n float64) bool {
	return n >= r.Start && n < r.End
}

func (r BucketRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{r.Start, r.End})
}

func (r *BucketRange) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) != 2 {
		return ErrInvalidRange
	}
	r.Start, r.End = pair[0], pair[1]
	return nil
}

// Namespace partitions users across mutually exclusive experiments.
// On the wire it is [id, start, end]. A malformed triple decodes without
// error but reports Valid()==false, so the membership check is skipped.
type Namespace struct {
	ID    string
	Start float64
	End   float64
	valid bool
}

// NewNamespace returns a valid namespace.
func NewNamespace(id string, start, end float64) Namespace {
	return Namespace{ID: id, Start: start, End: end, valid: true}
}

func (ns Namespace) Valid() bool { return ns.valid }

func (ns Namespace) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{ns.ID, ns.Start, ns.End})
}

func (ns *Namespace) UnmarshalJSON(data []byte) error {
	*ns = Namespace{}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) != 3 {
		return nil
	}
	var (
		id         string
		start, end float64
	)
	if json.Unmarshal(parts[0], &id) != nil ||
		json.Unmarshal(parts[1], &start) != nil ||
		json.Unmarshal(parts[2], &end) != nil {
		return nil
	}
	*ns = NewNamespace(id, start, end)
	return nil
}

func (ns Namespace) String() string {
	return fmt.Sprintf("%s[%g,%g)", ns.ID, ns.Start, ns.End)
}

// InNamespace reports whether the user identified by hashValue falls inside
// the namespace range. The hash is always version 1 with seed "__"+id.
func InNamespace(hashValue string, ns Namespace) bool {
	n, ok := Hash("__"+ns.ID, hashValue, 1)
	if !ok {
		return false
	}
	return n >= ns.Start && n < ns.End
}

// EqualWeights returns n weights of 1/n each, or an empty slice when n <= 0.
func EqualWeights(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	return w
}

// BucketRanges turns variation weights into bucket ranges.
//
// Algorithm:
//  1. Clamp coverage into [0,1]
//  2. Fall back to equal weights when len(weights) != n or the weights do
//     not sum to within [0.99, 1.01]
//  3. Variation i gets [cum, cum + coverage*w_i), where cum is the sum of
//     the unscaled weights before i
//  4. Round both bounds to four decimals
//
// Example: n=2, coverage=0.5, weights=nil → [0,0.25), [0.5,0.75)
// Shrinking coverage shrinks each range from its top, so users never move
// between variations.
func BucketRanges(n int, coverage float64, weights []float64) []BucketRange {
	coverage = math.Min(math.Max(coverage, 0), 1)

	equal := EqualWeights(n)
	if len(weights) != n {
		weights = equal
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total < 0.99 || total > 1.01 {
		weights = equal
	}

	ranges := make([]BucketRange, len(weights))
	cumulative := 0.0
	for i, w := range weights {
		start := cumulative
		cumulative += w
		ranges[i] = BucketRange{Start: round4(start), End: round4(start + coverage*w)}
	}
	return ranges
}

// ChooseVariation returns the index of the first range containing n, or -1.
func ChooseVariation(n float64, ranges []BucketRange) int {
	for i, r := range ranges {
		if r.Contains(n) {
			return i
		}
	}
	return -1
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
