// Package snapshot holds the feature payload currently served by the host.
// A snapshot is immutable once built; updates swap the whole pointer so
// readers never observe a half-applied payload.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/TimurManjosov/flagkit/internal/condition"
	"github.com/TimurManjosov/flagkit/internal/engine"
)

// ErrInvalidPayload is returned when a feature payload cannot be decoded.
var ErrInvalidPayload = errors.New("invalid feature payload")

// Payload is the JSON document a feature source delivers.
type Payload struct {
	Features    engine.Features       `json:"features"`
	SavedGroups condition.SavedGroups `json:"savedGroups,omitempty"`
}

type Snapshot struct {
	ETag        string                `json:"etag"`
	Features    engine.Features       `json:"features"`
	SavedGroups condition.SavedGroups `json:"savedGroups,omitempty"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// Len returns the number of features in the snapshot.
func (s *Snapshot) Len() int { return len(s.Features) }

var current atomic.Pointer[Snapshot]

// Load returns the current snapshot, or an empty one before the first Update.
func Load() *Snapshot {
	if s := current.Load(); s != nil {
		return s
	}
	return &Snapshot{Features: engine.Features{}, UpdatedAt: time.Now().UTC()}
}

// Parse decodes a raw payload and builds a snapshot from it.
func Parse(raw []byte) (*Snapshot, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return Build(p), nil
}

// Build creates a snapshot from p. The ETag is derived from the canonical
// JSON encoding, so equal payloads get equal ETags regardless of key order.
func Build(p Payload) *Snapshot {
	features := p.Features
	if features == nil {
		features = engine.Features{}
	}
	etag := `W/"` + strconv.FormatUint(xxhash.Sum64(canonicalJSON(Payload{Features: features, SavedGroups: p.SavedGroups})), 16) + `"`
	return &Snapshot{
		ETag:        etag,
		Features:    features,
		SavedGroups: p.SavedGroups,
		UpdatedAt:   time.Now().UTC(),
	}
}

// Update swaps in s and notifies subscribers. A snapshot whose ETag equals
// the current one is ignored and reported as unchanged.
func Update(s *Snapshot) bool {
	if prev := current.Load(); prev != nil && prev.ETag == s.ETag {
		return false
	}
	current.Store(s)
	publishUpdate(s)
	return true
}

// canonicalJSON encodes p with object keys sorted at every depth. Values
// keep document key order, so the first encoding is decoded into plain
// maps and encoded again.
func canonicalJSON(p Payload) []byte {
	blob, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return blob
	}
	if sorted, err := json.Marshal(generic); err == nil {
		return sorted
	}
	return blob
}

// reset clears the current snapshot. Tests only.
func reset() { current.Store(nil) }
