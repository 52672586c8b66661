package rollout

// Filter restricts an experiment to users whose hash lands in one of Ranges.
type Filter struct {
	Attribute   string        `json:"attribute,omitempty"`
	Seed        string        `json:"seed"`
	HashVersion int           `json:"hashVersion,omitempty"`
	Ranges      []BucketRange `json:"ranges"`
}

// HashValueFunc resolves an attribute name to the string fed to Hash.
// It returns ok=false when the attribute is missing or not a primitive.
type HashValueFunc func(attribute string) (hashValue string, ok bool)

// IsFilteredOut reports whether any filter excludes the user. A filter
// excludes when the attribute (default "id") has no usable hash value or
// when none of its ranges contain the hash (default version 2).
func IsFilteredOut(filters []Filter, lookup HashValueFunc) bool {
	for _, f := range filters {
		attr := f.Attribute
		if attr == "" {
			attr = "id"
		}
		hv, ok := lookup(attr)
		if !ok || hv == "" {
			return true
		}
		version := f.HashVersion
		if version == 0 {
			version = 2
		}
		n, ok := Hash(f.Seed, hv, version)
		if !ok {
			return true
		}
		if ChooseVariation(n, f.Ranges) < 0 {
			return true
		}
	}
	return false
}

// IsIncludedInRollout decides whether a force rule applies to the user.
//
// Special cases:
//   - no range and no coverage: always included
//   - empty hashValue: never included
//   - hashVersion 0 defaults to 1
//
// With a range the hash must fall inside it, otherwise hash <= coverage.
func IsIncludedInRollout(seed, hashValue string, rng *BucketRange, coverage *float64, hashVersion int) bool {
	if rng == nil && coverage == nil {
		return true
	}
	if hashValue == "" {
		return false
	}
	if hashVersion == 0 {
		hashVersion = 1
	}
	n, ok := Hash(seed, hashValue, hashVersion)
	if !ok {
		return false
	}
	if rng != nil {
		return rng.Contains(n)
	}
	return n <= *coverage
}
