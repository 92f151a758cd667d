package grammar

import "math/rand"

// RandomSource abstracts the random number generator so sampling can be
// driven by a seeded *rand.Rand or by a scripted source in tests.
type RandomSource interface {
	Intn(n int) int
	Int63() int64
	Int63n(n int64) int64
	Float64() float64
}

// NewRand returns a deterministic source for seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// weightedIndex picks an index with probability proportional to weights.
// Non-positive weights count as 1 so unweighted alternatives stay uniform.
func weightedIndex(r RandomSource, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += normWeight(w)
	}
	x := r.Float64() * total
	for i, w := range weights {
		x -= normWeight(w)
		if x < 0 {
			return i
		}
	}
	return len(weights) - 1
}

func normWeight(w float64) float64 {
	if w <= 0 {
		return 1
	}
	return w
}
