package plan

import "time"

// rng is a splitmix64 generator. It is deliberately not math/rand: shuffles
// seeded with the same integer must reproduce the same permutation across
// runs and platforms so previews can be replayed before an apply.
type rng struct {
	state uint64
}

func newRNG(seed int64) *rng {
	return &rng{state: uint64(seed)}
}

func newTimeRNG() *rng {
	return &rng{state: uint64(time.Now().UnixNano())}
}

func (r *rng) next() uint64 {
	r.state += 0x9E3779B97F4A7C15
	z := r.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// intn returns a uniform value in [0,n). n must be positive.
func (r *rng) intn(n int) int {
	return int(r.next() % uint64(n))
}

// shuffle permutes uris in place with a backward Fisher-Yates walk.
func (r *rng) shuffle(uris []string) {
	for i := len(uris) - 1; i > 0; i-- {
		j := r.intn(i + 1)
		uris[i], uris[j] = uris[j], uris[i]
	}
}
