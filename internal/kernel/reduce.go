package kernel

import (
	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/model"
)

// Row is one entry in the final, post-shuffle/post-bootstrap trade sequence:
// the original trade it derives from (for its exit time) and its PnL after
// skip/delay/slippage have been applied. A bootstrap resample can place the
// same OrigIdx at more than one Row.
type Row struct {
	OrigIdx int
	PnL     float64
}

// reduce rebuilds the equity path implied by rows (in sequence order,
// starting from initialCapital) and derives the summary metrics recorded for
// one permutation.
func reduce(rows []Row, b *inputs.Bundle, initialCapital float64, permIndex uint32) model.MetricsRow {
	n := len(rows)

	equity := initialCapital
	peak := initialCapital
	maxDD := 0.0

	var grossProfit, grossLoss float64
	monthPnL := make(map[monthKey]float64)

	for _, r := range rows {
		equity += r.PnL

		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}

		if r.PnL > 0 {
			grossProfit += r.PnL
		} else {
			grossLoss += -r.PnL
		}

		exitTime := b.Trades.ExitTime[r.OrigIdx]
		key := monthKey{year: exitTime.UTC().Year(), month: int(exitTime.UTC().Month())}
		monthPnL[key] += r.PnL
	}

	profitFactor := model.ProfitFactorSentinel
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	}

	worstMonthPct := 0.0
	if initialCapital != 0 {
		for _, pnl := range monthPnL {
			if pct := pnl / initialCapital; pct < worstMonthPct {
				worstMonthPct = pct
			}
		}
	}

	totalReturnPct := 0.0
	if initialCapital != 0 {
		totalReturnPct = (equity - initialCapital) / initialCapital
	}

	return model.MetricsRow{
		PermIndex:       permIndex,
		TotalReturnPct:  totalReturnPct,
		MaxDrawdownPct:  maxDD,
		ProfitFactor:    profitFactor,
		WorstMonthPct:   worstMonthPct,
		TradesExecuted:  uint32(n),
	}
}

type monthKey struct {
	year  int
	month int
}
