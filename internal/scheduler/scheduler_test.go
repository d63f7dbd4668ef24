package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/montecarlo-stress/internal/grid"
	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func tinyBundle() *inputs.Bundle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 10
	trades := model.Trades{
		EntryTime: make([]time.Time, n), ExitTime: make([]time.Time, n),
		EntryPrice: make([]float64, n), ExitPrice: make([]float64, n),
		Quantity: make([]float64, n), Side: make([]model.Side, n),
		PnL: make([]float64, n), RiskDollars: make([]float64, n),
		EntryBarIdx: make([]int, n), ExitBarIdx: make([]int, n),
	}
	equity := model.EquityCurve{}
	cum := 10000.0
	equity.Time = append(equity.Time, base)
	equity.Equity = append(equity.Equity, cum)
	for i := 0; i < n; i++ {
		entry := base.Add(time.Duration(i) * 24 * time.Hour)
		exit := entry.Add(time.Hour)
		pnl := 5.0
		trades.EntryTime[i], trades.ExitTime[i] = entry, exit
		trades.EntryPrice[i], trades.ExitPrice[i] = 100, 100+pnl
		trades.Quantity[i], trades.Side[i] = 1, model.SideLong
		trades.PnL[i], trades.RiskDollars[i] = pnl, 5
		trades.EntryBarIdx[i], trades.ExitBarIdx[i] = -1, -1
		cum += pnl
		equity.Time = append(equity.Time, exit)
		equity.Equity = append(equity.Equity, cum)
	}
	return &inputs.Bundle{Trades: trades, Equity: equity, InitialCapital: 10000.0}
}

func TestRun_CompletesAllCellsAndWritesDone(t *testing.T) {
	runDir := t.TempDir()
	aggDir := filepath.Join(runDir, "aggregated")

	spec := grid.DefaultSpec()
	spec.PSkip = []float64{0, 0.1}
	spec.SlipMax = []float64{0}
	spec.DelayBarsMax = []int{0}
	spec.ShuffleModes = []model.ShuffleMode{model.ShuffleNone}
	spec.BootstrapModes = []model.BootstrapMode{model.BootstrapNone}
	cells := grid.Enumerate(spec, grid.NoFilters())

	opts := Options{
		RunDir:          runDir,
		AggregatedDir:   aggDir,
		Cells:           cells,
		Bundle:          tinyBundle(),
		GlobalSeed:      1337,
		NPerCell:        5,
		CheckpointEvery: 5,
		Jobs:            2,
		Log:             zerolog.Nop(),
	}

	require.NoError(t, Run(context.Background(), opts))

	_, err := os.Stat(filepath.Join(aggDir, "DONE.txt"))
	require.NoError(t, err)

	for _, cell := range cells {
		_, err := os.Stat(filepath.Join(runDir, "per_cell", cell.ID(), "summary.json"))
		require.NoError(t, err)
	}
}
