package kernel

import "github.com/aristath/montecarlo-stress/internal/seeding"

const maxSkipRedraws = 50

// skipMask draws an independent uniform per trade and marks it executed when
// the draw exceeds p_skip. To avoid degenerate simulations it redraws (the
// whole mask) up to 50 times until at least minTrades survive; if it is
// still below the floor after all redraws, it returns the last mask produced
// and reports degenerate=true rather than looping forever.
func skipMask(rng *seeding.PCG32, n, minTrades int, pSkip float64) (executed []bool, degenerate bool) {
	if n == 0 {
		return nil, false
	}
	for attempt := 0; attempt < maxSkipRedraws; attempt++ {
		mask := make([]bool, n)
		count := 0
		for i := 0; i < n; i++ {
			u := rng.Float64()
			if u > pSkip {
				mask[i] = true
				count++
			}
		}
		if count >= minTrades {
			return mask, false
		}
		executed = mask
	}
	return executed, true
}
