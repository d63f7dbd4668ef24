package kernel

import (
	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/model"
	"github.com/aristath/montecarlo-stress/internal/seeding"
)

// slipTrade draws a per-trade slippage cost and subtracts it from pnl. The
// draw is uniform on [0, slipMax] in the cell's configured units, then
// scaled by a state-dependent intensity multiplier m_i = 1 + intensity_i so
// that trades entered during higher volatility or deeper drawdown absorb
// more slippage than calm-regime trades.
func slipTrade(rng *seeding.PCG32, b *inputs.Bundle, intensity Intensity, params model.CellParams, origIdx int, pnl float64) float64 {
	if params.SlipMax == 0 {
		return pnl
	}

	u := rng.Float64()
	rawSlip := u * params.SlipMax

	m := intensityMultiplier(intensity, params.IntensityMode, origIdx)
	slip := rawSlip * m

	cost := slipCostDollars(b, params, origIdx, slip)
	return pnl - cost
}

func intensityMultiplier(intensity Intensity, mode model.IntensityMode, idx int) float64 {
	switch mode {
	case model.IntensityVol:
		return 1 + intensity.VolPct[idx]
	case model.IntensityDD:
		return 1 + intensity.DDNorm[idx]
	case model.IntensityVolDD:
		return 1 + 0.5*intensity.VolPct[idx] + 0.5*intensity.DDNorm[idx]
	default:
		return 1
	}
}

// slipCostDollars converts a slip draw (in the cell's configured units)
// into a dollar cost for the trade at origIdx.
func slipCostDollars(b *inputs.Bundle, params model.CellParams, origIdx int, slip float64) float64 {
	switch params.SlipUnits {
	case model.SlipR:
		return slip * b.Trades.RiskDollars[origIdx]
	case model.SlipPct:
		return slip / 100 * b.Trades.Notional(origIdx)
	default: // model.SlipDollars
		return slip
	}
}
