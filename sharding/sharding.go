// Package sharding implements the single determinism primitive consumed by
// split matching and bandit tie-breaking: a bit-exact, cross-SDK-stable
// hash of a sequence of strings into a shard index.
package sharding

import (
	"crypto/md5"
	"encoding/binary"
	"strings"
)

// TotalShards is the fixed shard space used by bandit ordering and
// selection hashes (§6.3). Flags may declare their own TotalShards.
const TotalShards uint64 = 10000

// Shard concatenates parts, hashes them with MD5, and reduces the first
// four bytes (big-endian) modulo totalShards. The algorithm is bit-exact
// required: every language SDK must reproduce this same value for the
// same inputs.
func Shard(parts []string, totalShards uint64) uint64 {
	h := md5.Sum([]byte(strings.Join(parts, "")))
	v := binary.BigEndian.Uint32(h[:4])
	return uint64(v) % totalShards
}

// Range is an inclusive-inclusive bound within [0, totalShards).
type Range struct {
	Start uint64
	End   uint64
}

// Contains reports whether v falls within the range.
func (r Range) Contains(v uint64) bool {
	return v >= r.Start && v <= r.End
}

// AnyContains reports whether v is contained in any of the ranges.
func AnyContains(ranges []Range, v uint64) bool {
	for _, r := range ranges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}
