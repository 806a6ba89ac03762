package gacha

import (
	"errors"
	"math"
)

// ErrDrawOutOfRange is returned when a draw falls outside [0, WeightSum).
var ErrDrawOutOfRange = errors.New("gacha: draw outside [0, 100)")

// Select picks exactly one reward from the pool for the given draw.
//
// The pool is scanned in declaration order with a running cumulative weight;
// the first reward whose cumulative weight strictly exceeds draw wins. A
// reward with weight w therefore owns a half-open draw interval of width w,
// and zero-weight rewards own an empty interval and can never win.
//
// Floating-point summation can leave the final cumulative weight fractionally
// under WeightSum; a draw landing in that sliver falls through the scan and
// deterministically wins the last reward in declaration order.
//
// Precondition: pool must be non-nil and validated; 0 <= draw < WeightSum.
// Postcondition: Returns exactly one reward from the pool, or
// ErrDrawOutOfRange. Pure: no randomness, no side effects.
func Select(pool *Pool, draw float64) (RewardDefinition, error) {
	if math.IsNaN(draw) || draw < 0 || draw >= WeightSum {
		return RewardDefinition{}, ErrDrawOutOfRange
	}

	cumulative := 0.0
	for _, r := range pool.rewards {
		cumulative += r.Weight
		if draw < cumulative {
			return r, nil
		}
	}

	// Rounding shortfall: the cumulative sum landed under WeightSum.
	return pool.rewards[len(pool.rewards)-1], nil
}
