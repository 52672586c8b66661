// Package fixtures embeds the cross-SDK conformance cases shared by the
// bucketing, condition and engine tests.
package fixtures

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed cases.json
var casesJSON []byte

// Section returns every case of the named section as raw JSON tuples.
// Sections: hash, getBucketRange, chooseVariation, inNamespace,
// getEqualWeights, evalCondition, run, feature.
func Section(name string) ([][]json.RawMessage, error) {
	var all map[string][][]json.RawMessage
	if err := json.Unmarshal(casesJSON, &all); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	cases, ok := all[name]
	if !ok {
		return nil, fmt.Errorf("unknown fixture section %q", name)
	}
	return cases, nil
}
