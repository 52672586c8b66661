package tracking

import (
	"time"

	"github.com/TimurManjosov/flagkit/internal/engine"
	"github.com/TimurManjosov/flagkit/internal/value"
)

// EventExperimentViewed is the only event type the sink emits.
const EventExperimentViewed = "experiment.viewed"

// Event is one exposure as posted to the tracking endpoint.
type Event struct {
	Type       string     `json:"event"`
	Timestamp  time.Time  `json:"timestamp"`
	Experiment Experiment `json:"experiment"`
	Result     Result     `json:"result"`
	Metadata   Metadata   `json:"metadata,omitzero"`
}

// Experiment identifies the experiment that was viewed.
type Experiment struct {
	Key   string `json:"key"`
	Name  string `json:"name,omitempty"`
	Phase string `json:"phase,omitempty"`
}

// Result is the assignment the user saw.
type Result struct {
	VariationID      int         `json:"variationId"`
	VariationKey     string      `json:"variationKey"`
	VariationName    string      `json:"variationName,omitempty"`
	Value            value.Value `json:"value"`
	HashAttribute    string      `json:"hashAttribute"`
	HashValue        string      `json:"hashValue"`
	FeatureID        string      `json:"featureId,omitempty"`
	Bucket           *float64    `json:"bucket,omitempty"`
	StickyBucketUsed bool        `json:"stickyBucketUsed,omitempty"`
}

// Metadata carries request context when the exposure came through the API.
type Metadata struct {
	RequestID string `json:"requestId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
}

// NewEvent builds an exposure event from an experiment run.
func NewEvent(exp *engine.Experiment, res *engine.ExperimentResult) Event {
	return Event{
		Type:      EventExperimentViewed,
		Timestamp: time.Now().UTC(),
		Experiment: Experiment{
			Key:   exp.Key,
			Name:  exp.Name,
			Phase: exp.Phase,
		},
		Result: Result{
			VariationID:      res.VariationID,
			VariationKey:     res.Key,
			VariationName:    res.Name,
			Value:            res.Value,
			HashAttribute:    res.HashAttribute,
			HashValue:        res.HashValue,
			FeatureID:        res.FeatureID,
			Bucket:           res.Bucket,
			StickyBucketUsed: res.StickyBucketUsed,
		},
	}
}
