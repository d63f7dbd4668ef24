// Package model defines the Struct-of-Arrays data types shared by every
// stage of the Monte Carlo engine: the baseline inputs read from disk, the
// cell parameter space, and the per-simulation metrics row the kernel
// reduces each permutation to.
package model

import "time"

// Side is the direction of a trade.
type Side uint8

const (
	SideLong Side = iota
	SideShort
)

// Trades is a Struct-of-Arrays representation of the input trade list.
// Every field is a primitive slice indexed by the same row index; the
// perturbation kernel never allocates a new "frame" for a stage, it operates
// directly on these slices (or narrow copies of them). Trades are ordered by
// EntryTime and never modified in place.
type Trades struct {
	EntryTime    []time.Time
	ExitTime     []time.Time
	EntryPrice   []float64
	ExitPrice    []float64
	Quantity     []float64
	Side         []Side
	PnL          []float64
	RiskDollars  []float64
	EntryBarIdx  []int // nil if OHLC bars not supplied
	ExitBarIdx   []int
}

// Len returns the number of trades.
func (t *Trades) Len() int { return len(t.EntryTime) }

// Notional returns the dollar notional of trade i (|entry price * quantity|).
func (t *Trades) Notional(i int) float64 {
	n := t.EntryPrice[i] * t.Quantity[i]
	if n < 0 {
		return -n
	}
	return n
}

// EquityCurve is the ordered (timestamp, equity) baseline curve.
type EquityCurve struct {
	Time   []time.Time
	Equity []float64
}

// OhlcBars is the optional per-bar price series, required for OHLC-mode
// delay. Timestamps are monotonically increasing.
type OhlcBars struct {
	Time  []time.Time
	Open  []float64
	High  []float64
	Low   []float64
	Close []float64
}

// Len returns the number of bars.
func (b *OhlcBars) Len() int { return len(b.Time) }

// ShuffleMode selects the sequence-shuffle stage behavior.
type ShuffleMode uint8

const (
	ShuffleNone ShuffleMode = iota
	ShufflePermute
	ShuffleBlockPermute
)

// BootstrapMode selects the resampling stage behavior.
type BootstrapMode uint8

const (
	BootstrapNone BootstrapMode = iota
	BootstrapTrade
	BootstrapBlock
)

// DelaySideMode selects whether entry/exit delay draws are independent.
type DelaySideMode uint8

const (
	DelayBothSides DelaySideMode = iota
	DelayOneSide
)

// SlipUnits selects the unit basis for the slippage draw.
type SlipUnits uint8

const (
	SlipDollars SlipUnits = iota
	SlipR
	SlipPct
)

// IntensityMode selects the state-dependent slippage multiplier.
type IntensityMode uint8

const (
	IntensityNone IntensityMode = iota
	IntensityVol
	IntensityDD
	IntensityVolDD
)

// CellKey is the 6-tuple of parameter indices identifying one grid cell.
type CellKey struct {
	PSkipIdx      int
	SlipIdx       int
	DelayIdx      int
	ShuffleIdx    int
	BootstrapIdx  int
	BlockLenIdx   int
}

// CellParams are the concrete parameter values a CellKey resolves to.
type CellParams struct {
	PSkip           float64
	SlipMax         float64
	SlipUnits       SlipUnits
	DelayBarsMax    int
	DelaySideMode   DelaySideMode
	ShuffleMode     ShuffleMode
	BootstrapMode   BootstrapMode
	BlockLen        int
	IntensityMode   IntensityMode
	MinTrades       int
	DelayAdverseCapR float64
}

// MetricsRow is a single simulation's summary, the primary unit written to
// metrics_compact.csv. PermIndex is the primary key within a cell.
type MetricsRow struct {
	PermIndex       uint32
	TotalReturnPct  float64
	MaxDrawdownPct  float64
	ProfitFactor    float64
	WorstMonthPct   float64
	TradesExecuted  uint32
}

// ProfitFactorSentinel is reported when the loss denominator is zero.
const ProfitFactorSentinel = 1e9
