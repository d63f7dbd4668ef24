package kernel

import (
	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/model"
	"github.com/aristath/montecarlo-stress/internal/seeding"
)

// delayTrade applies fill delay to one executed trade and returns its
// post-delay PnL. Two constraints are applied after the delayed PnL is
// computed regardless of mode: the conservative clamp (delay can only hurt)
// and the adverse cap (delay cannot hurt by more than delayAdverseCapR * R_i).
func delayTrade(rng *seeding.PCG32, b *inputs.Bundle, params model.CellParams, origIdx int, originalPnL float64) float64 {
	if params.DelayBarsMax == 0 {
		return originalPnL
	}

	kEntry, kExit := drawDelayBars(rng, params)

	var delayed float64
	if b.Bars != nil {
		delayed = delayOHLC(b, origIdx, kEntry, kExit)
	} else {
		delayed = delayApproximate(rng, b, originalPnL, kEntry, kExit, origIdx)
	}

	// Conservative clamp: delay can only hurt.
	if delayed > originalPnL {
		delayed = originalPnL
	}

	// Adverse cap.
	floor := originalPnL - params.DelayAdverseCapR*b.Trades.RiskDollars[origIdx]
	if delayed < floor {
		delayed = floor
	}

	return delayed
}

func drawDelayBars(rng *seeding.PCG32, params model.CellParams) (kEntry, kExit int) {
	n := params.DelayBarsMax + 1
	if params.DelaySideMode == model.DelayOneSide {
		if rng.IntN(2) == 0 {
			return rng.IntN(n), 0
		}
		return 0, rng.IntN(n)
	}
	return rng.IntN(n), rng.IntN(n)
}

func delayOHLC(b *inputs.Bundle, origIdx, kEntry, kExit int) float64 {
	lastBar := b.Bars.Len() - 1

	entryBar := b.Trades.EntryBarIdx[origIdx] + kEntry
	if entryBar > lastBar {
		entryBar = lastBar
	}
	exitBar := b.Trades.ExitBarIdx[origIdx] + kExit
	if exitBar > lastBar {
		exitBar = lastBar
	}

	entryPrice := b.Bars.Open[entryBar]
	exitPrice := b.Bars.Open[exitBar]
	qty := b.Trades.Quantity[origIdx]

	if b.Trades.Side[origIdx] == model.SideShort {
		return (entryPrice - exitPrice) * qty
	}
	return (exitPrice - entryPrice) * qty
}

// delayApproximate samples k bar-return draws with replacement from the
// global empirical per-bar return series (see DESIGN.md for why this is
// global rather than per-strategy), compounds them multiplicatively, and
// applies the resulting return to the trade's notional.
func delayApproximate(rng *seeding.PCG32, b *inputs.Bundle, originalPnL float64, kEntry, kExit, origIdx int) float64 {
	k := kEntry + kExit
	if k == 0 || len(b.BarReturns) == 0 {
		return originalPnL
	}
	compound := 1.0
	for i := 0; i < k; i++ {
		r := b.BarReturns[rng.IntN(len(b.BarReturns))]
		compound *= 1 + r
	}
	compoundReturn := compound - 1
	notional := b.Trades.Notional(origIdx)
	return originalPnL + compoundReturn*notional
}
