// Package kernel implements the per-permutation perturbation pipeline:
// skip, delay, slippage, shuffle, bootstrap, then reduction to a single
// metrics row. Every stage draws from one PCG32 stream seeded
// deterministically from (global_seed, cell_id, perm_index), so two runs
// with the same inputs and the same seed reproduce byte-identical output.
package kernel

import (
	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/model"
	"github.com/aristath/montecarlo-stress/internal/seeding"
)

// Simulate runs one permutation of cell params against bundle b and returns
// its metrics row. degenerate reports that the skip stage could not find a
// mask with at least params.MinTrades survivors after the redraw budget, in
// which case the row's fields are still populated (from whatever mask was
// last drawn) but callers should flag it rather than treat it as a normal
// observation.
func Simulate(baseSeed uint32, permIndex uint32, b *inputs.Bundle, intensity Intensity, params model.CellParams) (model.MetricsRow, bool) {
	simSeed := seeding.SimSeed(baseSeed, permIndex)
	rng := seeding.NewPCG32(simSeed)

	n := b.Trades.Len()
	executed, degenerate := skipMask(rng, n, params.MinTrades, params.PSkip)

	execIdx := make([]int, 0, n)
	for i, ok := range executed {
		if ok {
			execIdx = append(execIdx, i)
		}
	}

	rows := make([]Row, len(execIdx))
	for i, origIdx := range execIdx {
		pnl := b.Trades.PnL[origIdx]
		pnl = delayTrade(rng, b, params, origIdx, pnl)
		pnl = slipTrade(rng, b, intensity, params, origIdx, pnl)
		rows[i] = Row{OrigIdx: origIdx, PnL: pnl}
	}

	rows = applyShuffle(rng, rows, params)
	rows = applyBootstrap(rng, rows, params)

	metrics := reduce(rows, b, b.InitialCapital, permIndex)
	return metrics, degenerate
}

func applyShuffle(rng *seeding.PCG32, rows []Row, params model.CellParams) []Row {
	var order []int
	switch params.ShuffleMode {
	case model.ShufflePermute:
		order = permute(rng, len(rows))
	case model.ShuffleBlockPermute:
		order = blockPermute(rng, len(rows), params.BlockLen)
	default:
		return rows
	}
	return reorder(rows, order)
}

func applyBootstrap(rng *seeding.PCG32, rows []Row, params model.CellParams) []Row {
	var order []int
	switch params.BootstrapMode {
	case model.BootstrapTrade:
		order = tradeBootstrap(rng, len(rows))
	case model.BootstrapBlock:
		order = blockBootstrap(rng, len(rows), params.BlockLen)
	default:
		return rows
	}
	return reorder(rows, order)
}

func reorder(rows []Row, order []int) []Row {
	out := make([]Row, len(order))
	for i, idx := range order {
		out[i] = rows[idx]
	}
	return out
}
