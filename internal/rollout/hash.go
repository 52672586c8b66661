// Package rollout provides deterministic user bucketing for feature rollouts
// and experiments. It hashes a user's hash attribute with a seed into [0,1)
// and maps that number onto bucket ranges. This ensures:
//   - Same user always lands in the same bucket for a seed (deterministic)
//   - Results agree bit-for-bit with the other SDKs sharing the algorithm
//   - Safe progressive rollouts (raising coverage only adds users, never removes)
package rollout

import "strconv"

const (
	fnvOffset32 uint32 = 0x811c9dc5
	fnvPrime32  uint32 = 0x01000193
)

// fnv32a is FNV-1a over the UTF-16 code units of s. Using code units rather
// than UTF-8 bytes keeps non-ASCII identifiers in the same bucket the
// JavaScript SDKs pick.
func fnv32a(s string) uint32 {
	h := fnvOffset32
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			h = (h ^ uint32(0xd800+(r>>10))) * fnvPrime32
			h = (h ^ uint32(0xdc00+(r&0x3ff))) * fnvPrime32
			continue
		}
		h = (h ^ uint32(r)) * fnvPrime32
	}
	return h
}

// Hash maps value and seed to a number in [0,1).
//
// Algorithm:
//  1. version 1: fnv32a(value + seed) % 1000 / 1000
//  2. version 2: fnv32a(decimal(fnv32a(seed + value))) % 10000 / 10000
//
// Any other version returns ok=false; callers treat that as "not bucketed".
func Hash(seed, value string, version int) (n float64, ok bool) {
	switch version {
	case 1:
		return float64(fnv32a(value+seed)%1000) / 1000, true
	case 2:
		inner := fnv32a(seed + value)
		return float64(fnv32a(strconv.FormatUint(uint64(inner), 10))%10000) / 10000, true
	}
	return 0, false
}
