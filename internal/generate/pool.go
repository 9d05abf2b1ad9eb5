package generate

import (
	"playlistctl/internal/store"
)

const bloomFalsePositiveRate = 0.001

// pool is the mutable accumulator for one generation run: the ordered
// accepted URIs (seeds always first), the seen set for duplicate rejection,
// and the per-key counters for diversity capping. It lives for exactly one
// Generate call.
type pool struct {
	target    int
	accepted  []string
	seen      *store.SeenSet
	keyCounts map[int]int
}

func newPool(target int) *pool {
	return &pool{
		target:    target,
		accepted:  make([]string, 0, target),
		seen:      store.NewSeenSet(target, bloomFalsePositiveRate),
		keyCounts: make(map[int]int),
	}
}

func (p *pool) full() bool {
	return len(p.accepted) >= p.target
}

func (p *pool) contains(uri string) bool {
	return p.seen.Has(uri)
}

// add appends a URI if the pool is not full and the URI is new. It reports
// whether the URI was actually accepted.
func (p *pool) add(uri string) bool {
	if p.full() || p.seen.Has(uri) {
		return false
	}
	p.accepted = append(p.accepted, uri)
	p.seen.Add(uri)
	return true
}

// countKey increments the running counter for a musical key. Unknown keys
// (negative) are not tracked and never capped.
func (p *pool) countKey(key int) {
	if key >= 0 {
		p.keyCounts[key]++
	}
}

// keyAtCap reports whether the running count for key already reached cap.
// Unknown keys are never at cap.
func (p *pool) keyAtCap(key, cap int) bool {
	if key < 0 {
		return false
	}
	return p.keyCounts[key] >= cap
}

// shortfall is how many URIs the pool is short of its target.
func (p *pool) shortfall() int {
	if missing := p.target - len(p.accepted); missing > 0 {
		return missing
	}
	return 0
}
