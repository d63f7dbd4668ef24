package kernel

import (
	"sort"
	"time"

	"github.com/aristath/montecarlo-stress/internal/inputs"
	"gonum.org/v1/gonum/stat"
)

// volWindow is the rolling window (in equity-curve samples) used to compute
// the state-dependent volatility multiplier.
const volWindow = 20

// Intensity holds the per-trade state-dependent multipliers the slippage
// stage consumes: vol_pct_i (percentile rank of rolling equity volatility at
// the trade's entry bar) and dd_norm_i (normalized drawdown depth at that
// bar). Both are derived once from the baseline equity curve and shared by
// every permutation of every cell, since they do not depend on perturbation
// parameters.
type Intensity struct {
	VolPct []float64
	DDNorm []float64
}

// ComputeIntensity derives per-trade intensity multipliers from b's equity
// curve. The underlying bar-return distribution is treated as global rather
// than per-strategy, the same choice the approximate-mode delay stage makes
// (see DESIGN.md).
func ComputeIntensity(b *inputs.Bundle) Intensity {
	equity := b.Equity.Equity
	n := len(equity)

	rollingVol := make([]float64, n)
	runningMax := make([]float64, n)
	dd := make([]float64, n)

	maxSoFar := equity[0]
	for i := 0; i < n; i++ {
		if equity[i] > maxSoFar {
			maxSoFar = equity[i]
		}
		runningMax[i] = maxSoFar
		if maxSoFar != 0 {
			dd[i] = (equity[i] - maxSoFar) / maxSoFar
		}

		lo := i - volWindow + 1
		if lo < 1 {
			lo = 1
		}
		if i-lo < 1 {
			rollingVol[i] = 0
			continue
		}
		window := make([]float64, 0, i-lo+1)
		for j := lo; j <= i; j++ {
			if equity[j-1] == 0 {
				continue
			}
			window = append(window, (equity[j]-equity[j-1])/equity[j-1])
		}
		if len(window) < 2 {
			rollingVol[i] = 0
			continue
		}
		rollingVol[i] = stat.StdDev(window, nil)
	}

	volPctByIdx := percentileRanks(rollingVol)

	maxAbsDD := 0.0
	for _, d := range dd {
		if a := abs(d); a > maxAbsDD {
			maxAbsDD = a
		}
	}

	entryIdx := make([]int, b.Trades.Len())
	for i := range entryIdx {
		entryIdx[i] = nearestEquityIndex(b.Equity.Time, b.Trades.EntryTime[i])
	}

	result := Intensity{
		VolPct: make([]float64, b.Trades.Len()),
		DDNorm: make([]float64, b.Trades.Len()),
	}
	for i, idx := range entryIdx {
		result.VolPct[i] = volPctByIdx[idx]
		if maxAbsDD > 0 {
			result.DDNorm[i] = abs(dd[idx]) / maxAbsDD
		}
	}
	return result
}

// percentileRanks returns, for each element, the fraction of elements whose
// value is <= it (in [0, 1]).
func percentileRanks(xs []float64) []float64 {
	n := len(xs)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return xs[order[a]] < xs[order[b]] })

	ranks := make([]float64, n)
	for pos := 0; pos < n; {
		end := pos
		for end+1 < n && xs[order[end+1]] == xs[order[pos]] {
			end++
		}
		for k := pos; k <= end; k++ {
			ranks[order[k]] = float64(end+1) / float64(n)
		}
		pos = end + 1
	}
	return ranks
}

func nearestEquityIndex(times []time.Time, t time.Time) int {
	// binary search for the latest sample at or before t
	lo, hi := 0, len(times)-1
	best := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if !times[mid].After(t) {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
