package kernel

import (
	"testing"
	"time"

	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/model"
	"github.com/aristath/montecarlo-stress/internal/seeding"
	"github.com/stretchr/testify/require"
)

func fixtureBundle(t *testing.T, n int) *inputs.Bundle {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	trades := model.Trades{
		EntryTime:    make([]time.Time, n),
		ExitTime:     make([]time.Time, n),
		EntryPrice:   make([]float64, n),
		ExitPrice:    make([]float64, n),
		Quantity:     make([]float64, n),
		Side:         make([]model.Side, n),
		PnL:          make([]float64, n),
		RiskDollars:  make([]float64, n),
		EntryBarIdx:  make([]int, n),
		ExitBarIdx:   make([]int, n),
	}
	equity := model.EquityCurve{Time: make([]time.Time, 0, n+1), Equity: make([]float64, 0, n+1)}
	cum := 10000.0
	equity.Time = append(equity.Time, base)
	equity.Equity = append(equity.Equity, cum)

	for i := 0; i < n; i++ {
		entry := base.Add(time.Duration(i) * 24 * time.Hour)
		exit := entry.Add(12 * time.Hour)
		pnl := 10.0
		if i%3 == 0 {
			pnl = -5.0
		}
		trades.EntryTime[i] = entry
		trades.ExitTime[i] = exit
		trades.EntryPrice[i] = 100
		trades.ExitPrice[i] = 100 + pnl
		trades.Quantity[i] = 1
		trades.Side[i] = model.SideLong
		trades.PnL[i] = pnl
		trades.RiskDollars[i] = 5
		trades.EntryBarIdx[i] = -1
		trades.ExitBarIdx[i] = -1

		cum += pnl
		equity.Time = append(equity.Time, exit)
		equity.Equity = append(equity.Equity, cum)
	}

	return &inputs.Bundle{
		Trades:         trades,
		Equity:         equity,
		Bars:           nil,
		BarReturns:     []float64{0.001, -0.002, 0.0015, -0.001},
		InitialCapital: 10000.0,
	}
}

func baselineParams() model.CellParams {
	return model.CellParams{
		PSkip:            0,
		SlipMax:          0,
		SlipUnits:        model.SlipDollars,
		DelayBarsMax:     0,
		DelaySideMode:    model.DelayBothSides,
		ShuffleMode:      model.ShuffleNone,
		BootstrapMode:    model.BootstrapNone,
		BlockLen:         5,
		IntensityMode:    model.IntensityVolDD,
		MinTrades:        1,
		DelayAdverseCapR: 0.5,
	}
}

func TestSimulate_BaselineIdentity(t *testing.T) {
	b := fixtureBundle(t, 20)
	intensity := ComputeIntensity(b)
	params := baselineParams()

	metrics, degenerate := Simulate(42, 0, b, intensity, params)
	require.False(t, degenerate)
	require.Equal(t, uint32(20), metrics.TradesExecuted)

	var expectedReturn float64
	for _, pnl := range b.Trades.PnL {
		expectedReturn += pnl
	}
	expectedReturn = expectedReturn / b.InitialCapital
	require.InDelta(t, expectedReturn, metrics.TotalReturnPct, 1e-9)
}

func TestSimulate_DeterministicAcrossRuns(t *testing.T) {
	b := fixtureBundle(t, 50)
	intensity := ComputeIntensity(b)
	params := baselineParams()
	params.PSkip = 0.2
	params.SlipMax = 25
	params.ShuffleMode = model.ShufflePermute
	params.BootstrapMode = model.BootstrapTrade

	m1, _ := Simulate(7, 3, b, intensity, params)
	m2, _ := Simulate(7, 3, b, intensity, params)
	require.Equal(t, m1, m2)
}

func TestSimulate_DifferentPermIndexDiverges(t *testing.T) {
	b := fixtureBundle(t, 50)
	intensity := ComputeIntensity(b)
	params := baselineParams()
	params.PSkip = 0.3
	params.SlipMax = 25

	m1, _ := Simulate(7, 0, b, intensity, params)
	m2, _ := Simulate(7, 1, b, intensity, params)
	require.NotEqual(t, m1, m2)
}

func TestSkipMask_FloorRespected(t *testing.T) {
	rng := newTestRNG(1)
	mask, degenerate := skipMask(rng, 100, 30, 0.7)
	require.False(t, degenerate)
	count := 0
	for _, ok := range mask {
		if ok {
			count++
		}
	}
	require.GreaterOrEqual(t, count, 30)
}

func TestSkipMask_DegenerateAfterRedraws(t *testing.T) {
	rng := newTestRNG(2)
	_, degenerate := skipMask(rng, 5, 100, 0.5)
	require.True(t, degenerate)
}

func TestDelayTrade_ConservativeClampNeverImproves(t *testing.T) {
	b := fixtureBundle(t, 10)
	rng := newTestRNG(3)
	params := baselineParams()
	params.DelayBarsMax = 3

	for i := 0; i < b.Trades.Len(); i++ {
		original := b.Trades.PnL[i]
		delayed := delayTrade(rng, b, params, i, original)
		require.LessOrEqual(t, delayed, original+1e-9)
	}
}

func TestSlipTrade_MonotonicInSlipMax(t *testing.T) {
	b := fixtureBundle(t, 10)
	intensity := ComputeIntensity(b)
	params := baselineParams()

	paramsLow := params
	paramsLow.SlipMax = 5
	paramsHigh := params
	paramsHigh.SlipMax = 50

	rngLow := newTestRNG(9)
	rngHigh := newTestRNG(9)

	lowPnL := slipTrade(rngLow, b, intensity, paramsLow, 0, b.Trades.PnL[0])
	highPnL := slipTrade(rngHigh, b, intensity, paramsHigh, 0, b.Trades.PnL[0])
	require.LessOrEqual(t, highPnL, lowPnL)
}

func newTestRNG(seed uint32) *seeding.PCG32 {
	return seeding.NewPCG32(seed)
}
