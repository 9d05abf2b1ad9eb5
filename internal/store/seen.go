// Package store provides the generation-time seen set and the persistent
// audio-feature cache.
package store

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// SeenSet tracks which track URIs a generation run has already accepted.
// A Bloom filter fronts the exact set so the common "never seen" case stays
// a cheap negative check even for large pools. The set is owned by a single
// generation call and is not safe for concurrent use.
type SeenSet struct {
	uris  map[string]struct{}
	bloom *bloom.BloomFilter
}

// NewSeenSet creates a seen set sized for the expected number of URIs.
func NewSeenSet(expected int, falsePositiveRate float64) *SeenSet {
	if expected < 1 {
		expected = 1
	}
	return &SeenSet{
		uris:  make(map[string]struct{}, expected),
		bloom: bloom.NewWithEstimates(uint(expected), falsePositiveRate),
	}
}

// Has checks whether a URI was already accepted.
func (s *SeenSet) Has(uri string) bool {
	if !s.bloom.TestString(uri) {
		return false
	}
	_, exists := s.uris[uri]
	return exists
}

// Add records a URI. Adding an already-present URI is a no-op.
func (s *SeenSet) Add(uri string) {
	if _, exists := s.uris[uri]; exists {
		return
	}
	s.uris[uri] = struct{}{}
	s.bloom.AddString(uri)
}

// Size returns the number of distinct URIs recorded.
func (s *SeenSet) Size() int {
	return len(s.uris)
}
