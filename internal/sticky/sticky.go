// Package sticky persists experiment assignments so that a user keeps the
// variation they were first bucketed into, even after weights, coverage or
// targeting change.
//
// Assignments are grouped into one Document per identifier, keyed
// "attributeName||attributeValue". Inside a document each experiment is
// stored under "experimentKey__bucketVersion" with the variation key as value.
package sticky

import (
	"context"
	"strconv"
)

// Document holds every sticky assignment for one identifier.
type Document struct {
	AttributeName  string            `json:"attributeName"`
	AttributeValue string            `json:"attributeValue"`
	Assignments    map[string]string `json:"assignments"`
}

// Key returns the document key "attributeName||attributeValue".
func (d Document) Key() string {
	return DocKey(d.AttributeName, d.AttributeValue)
}

// Docs maps document keys to documents.
type Docs map[string]Document

// Service loads and stores assignment documents. Implementations must be
// safe for concurrent use.
type Service interface {
	// GetAssignments returns the document for one identifier, or nil if
	// none has been saved.
	GetAssignments(ctx context.Context, attributeName, attributeValue string) (*Document, error)

	// SaveAssignments creates or replaces a document.
	SaveAssignments(ctx context.Context, doc Document) error

	// GetAllAssignments loads the documents for every attributeName →
	// attributeValue pair, keyed by DocKey. Missing documents are omitted.
	GetAllAssignments(ctx context.Context, attributes map[string]string) (Docs, error)

	// Close releases any resources held by the service.
	Close() error
}

func DocKey(attributeName, attributeValue string) string {
	return attributeName + "||" + attributeValue
}

// ExperimentKey returns the assignment key for an experiment at a bucket version.
func ExperimentKey(experimentKey string, bucketVersion int) string {
	return experimentKey + "__" + strconv.Itoa(bucketVersion)
}

// Assignments merges the assignments stored for the fallback identifier and
// the hash identifier. The hash identifier wins on conflicts. Either key may
// be empty.
func Assignments(docs Docs, hashKey, fallbackKey string) map[string]string {
	merged := make(map[string]string)
	if fallbackKey != "" {
		for k, v := range docs[fallbackKey].Assignments {
			merged[k] = v
		}
	}
	if hashKey != "" {
		for k, v := range docs[hashKey].Assignments {
			merged[k] = v
		}
	}
	return merged
}

// Variation looks up a stored assignment.
//
// It returns blocked=true when an assignment exists for any bucket version
// below minBucketVersion; such users must be excluded from the experiment.
// Otherwise it returns the index in variationKeys of the stored variation
// key, or -1 when there is no usable assignment.
func Variation(assignments map[string]string, experimentKey string, bucketVersion, minBucketVersion int, variationKeys []string) (variation int, blocked bool) {
	for v := 0; v < minBucketVersion; v++ {
		if _, ok := assignments[ExperimentKey(experimentKey, v)]; ok {
			return -1, true
		}
	}
	stored, ok := assignments[ExperimentKey(experimentKey, bucketVersion)]
	if !ok {
		return -1, false
	}
	for i, k := range variationKeys {
		if k == stored {
			return i, false
		}
	}
	return -1, false
}

// GenerateDocument merges assignments into the existing document for the
// identifier. changed is false when every assignment was already stored
// with the same value, in which case nothing needs saving.
func GenerateDocument(docs Docs, attributeName, attributeValue string, assignments map[string]string) (doc Document, changed bool) {
	existing := docs[DocKey(attributeName, attributeValue)].Assignments
	merged := make(map[string]string, len(existing)+len(assignments))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range assignments {
		if old, ok := existing[k]; !ok || old != v {
			changed = true
		}
		merged[k] = v
	}
	return Document{
		AttributeName:  attributeName,
		AttributeValue: attributeValue,
		Assignments:    merged,
	}, changed
}
