package cellrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/kernel"
	"github.com/aristath/montecarlo-stress/internal/model"
	"github.com/aristath/montecarlo-stress/internal/persist"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func smallBundle() *inputs.Bundle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 40
	trades := model.Trades{
		EntryTime:   make([]time.Time, n),
		ExitTime:    make([]time.Time, n),
		EntryPrice:  make([]float64, n),
		ExitPrice:   make([]float64, n),
		Quantity:    make([]float64, n),
		Side:        make([]model.Side, n),
		PnL:         make([]float64, n),
		RiskDollars: make([]float64, n),
		EntryBarIdx: make([]int, n),
		ExitBarIdx:  make([]int, n),
	}
	equity := model.EquityCurve{}
	cum := 10000.0
	equity.Time = append(equity.Time, base)
	equity.Equity = append(equity.Equity, cum)
	for i := 0; i < n; i++ {
		entry := base.Add(time.Duration(i) * 24 * time.Hour)
		exit := entry.Add(6 * time.Hour)
		pnl := 8.0
		if i%4 == 0 {
			pnl = -6.0
		}
		trades.EntryTime[i] = entry
		trades.ExitTime[i] = exit
		trades.EntryPrice[i] = 100
		trades.ExitPrice[i] = 100 + pnl
		trades.Quantity[i] = 1
		trades.Side[i] = model.SideLong
		trades.PnL[i] = pnl
		trades.RiskDollars[i] = 6
		trades.EntryBarIdx[i] = -1
		trades.ExitBarIdx[i] = -1
		cum += pnl
		equity.Time = append(equity.Time, exit)
		equity.Equity = append(equity.Equity, cum)
	}
	return &inputs.Bundle{Trades: trades, Equity: equity, InitialCapital: 10000.0, BarReturns: []float64{0.001, -0.001}}
}

func newRunner(t *testing.T, dir string, nTarget uint32, checkpointEvery int) *Runner {
	t.Helper()
	b := smallBundle()
	return &Runner{
		CellID:          "0_0_0_0_0",
		Params:          model.CellParams{PSkip: 0.1, SlipMax: 10, MinTrades: 1, IntensityMode: model.IntensityVolDD, DelaySideMode: model.DelayBothSides, DelayAdverseCapR: 0.5},
		Bundle:          b,
		Intensity:       kernel.ComputeIntensity(b),
		GlobalSeed:      1337,
		NTarget:         nTarget,
		CheckpointEvery: checkpointEvery,
		Dir:             dir,
		Log:             zerolog.Nop(),
	}
}

func TestRunner_CompletesFreshRun(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, dir, 20, 7)
	require.NoError(t, r.Run(context.Background()))

	summary, ok, err := persist.ReadSummary(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(20), summary.NCompleted)

	loaded, err := persist.LoadMetrics(filepath.Join(dir, "metrics_compact.csv"), 20)
	require.NoError(t, err)
	require.Len(t, loaded.Rows, 20)
}

func TestRunner_ResumesFromPartialFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0755))

	mw, err := persist.OpenMetricsWriter(filepath.Join(dir, "metrics_compact.csv"))
	require.NoError(t, err)
	for i := uint32(0); i < 10; i++ {
		require.NoError(t, mw.Append(model.MetricsRow{PermIndex: i, ProfitFactor: 1.0, TradesExecuted: 10}))
	}
	require.NoError(t, mw.Close())

	r := newRunner(t, dir, 20, 5)
	require.NoError(t, r.Run(context.Background()))

	loaded, err := persist.LoadMetrics(filepath.Join(dir, "metrics_compact.csv"), 20)
	require.NoError(t, err)
	require.Len(t, loaded.Rows, 20)
}

func TestRunner_AlreadyCompleteIsNoOp(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, dir, 10, 5)
	require.NoError(t, r.Run(context.Background()))

	// Running again should see the existing summary and return immediately.
	r2 := newRunner(t, dir, 10, 5)
	require.NoError(t, r2.Run(context.Background()))
}
