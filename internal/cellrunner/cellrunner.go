// Package cellrunner drives one grid cell through its permutations: resuming
// from whatever metrics_compact.csv already holds, producing the remainder
// in checkpointed chunks, and finalizing into a summary once complete.
package cellrunner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/kernel"
	"github.com/aristath/montecarlo-stress/internal/metrics"
	"github.com/aristath/montecarlo-stress/internal/model"
	"github.com/aristath/montecarlo-stress/internal/persist"
	"github.com/aristath/montecarlo-stress/internal/seeding"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// State is the cell runner's lifecycle position, logged at every transition.
type State string

const (
	StateFresh      State = "fresh"
	StateResuming   State = "resuming"
	StateProducing  State = "producing"
	StateFinalizing State = "finalizing"
	StateComplete   State = "complete"
)

// Runner executes one grid cell end to end.
type Runner struct {
	CellID          string
	Params          model.CellParams
	Bundle          *inputs.Bundle
	Intensity       kernel.Intensity
	GlobalSeed      uint32
	NTarget         uint32
	CheckpointEvery int
	Dir             string
	BaselinePF      float64
	BaselineFound   bool
	NGridTotal      int
	NGridFiltered   int
	Log             zerolog.Logger

	// Produce computes one contiguous range of permutations [start, end).
	// If nil, the range runs in-process via kernel.Simulate. The scheduler
	// sets this to dispatch the range to an isolated worker subprocess
	// instead, so a panic or hang in the kernel only takes down that
	// subprocess rather than the coordinator.
	Produce func(ctx context.Context, baseSeed, start, end uint32) ([]ChunkRow, error)
}

// ChunkRow is one computed permutation result, in whichever order Produce
// returns them (the caller sorts by PermIndex before relying on order).
type ChunkRow struct {
	PermIndex  uint32
	Row        model.MetricsRow
	Degenerate bool
}

// Run executes the state machine and returns once the cell reaches
// StateComplete, or ctx is cancelled between chunks.
func (r *Runner) Run(ctx context.Context) error {
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return fmt.Errorf("create cell dir: %w", err)
	}

	metricsPath := filepath.Join(r.Dir, "metrics_compact.csv")
	progressPath := filepath.Join(r.Dir, "progress.json")
	summaryPath := filepath.Join(r.Dir, "summary.json")
	logsPath := filepath.Join(r.Dir, "logs.txt")

	if existing, ok, err := persist.ReadSummary(summaryPath); err == nil && ok && existing.NCompleted >= r.NTarget {
		r.transition(logsPath, StateComplete)
		return nil
	}

	loaded, err := persist.LoadMetrics(metricsPath, r.NTarget)
	if err != nil {
		return fmt.Errorf("load metrics: %w", err)
	}

	if loaded.StartIdx == 0 {
		r.transition(logsPath, StateFresh)
	} else {
		r.transition(logsPath, StateResuming)
	}

	if loaded.StartIdx >= r.NTarget {
		degenerateCount := uint32(0)
		if p, ok, err := persist.ReadProgress(progressPath); err == nil && ok {
			degenerateCount = p.Degenerate
		}
		return r.finalize(metricsPath, summaryPath, logsPath, degenerateCount)
	}

	r.transition(logsPath, StateProducing)
	producingStarted := time.Now()

	mw, err := persist.OpenMetricsWriter(metricsPath)
	if err != nil {
		return fmt.Errorf("open metrics writer: %w", err)
	}
	defer mw.Close()

	baseSeed := seeding.BaseSeed(r.GlobalSeed, r.CellID)
	degenerateCount := uint32(0)
	if loaded.StartIdx > 0 {
		if p, ok, err := persist.ReadProgress(progressPath); err == nil && ok {
			degenerateCount = p.Degenerate
		}
	}

	for permIndex := loaded.StartIdx; permIndex < r.NTarget; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunkEnd := permIndex + uint32(r.CheckpointEvery)
		if chunkEnd > r.NTarget {
			chunkEnd = r.NTarget
		}

		rows, err := r.produce(ctx, baseSeed, permIndex, chunkEnd)
		if err != nil {
			return fmt.Errorf("produce chunk [%d,%d): %w", permIndex, chunkEnd, err)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].PermIndex < rows[j].PermIndex })
		for _, cr := range rows {
			if cr.Degenerate {
				degenerateCount++
				metrics.DegenerateSimulations.Inc()
			}
			if cr.Row.ProfitFactor == model.ProfitFactorSentinel {
				metrics.SentinelProfitFactorEmitted.Inc()
			}
			if err := mw.Append(cr.Row); err != nil {
				return fmt.Errorf("append metrics row: %w", err)
			}
		}
		permIndex = chunkEnd

		if err := mw.Flush(); err != nil {
			return fmt.Errorf("flush metrics: %w", err)
		}
		if err := persist.WriteProgress(progressPath, persist.Progress{
			CellID:     r.CellID,
			NTarget:    r.NTarget,
			NCompleted: permIndex,
			Degenerate: degenerateCount,
		}); err != nil {
			return fmt.Errorf("write progress: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("close metrics writer: %w", err)
	}
	metrics.ObserveCellDuration(time.Since(producingStarted))

	return r.finalize(metricsPath, summaryPath, logsPath, degenerateCount)
}

// produce computes the permutation range [start, end) via r.Produce if set,
// otherwise in-process.
func (r *Runner) produce(ctx context.Context, baseSeed, start, end uint32) ([]ChunkRow, error) {
	if r.Produce != nil {
		return r.Produce(ctx, baseSeed, start, end)
	}
	rows := make([]ChunkRow, 0, end-start)
	for permIndex := start; permIndex < end; permIndex++ {
		row, degenerate := kernel.Simulate(baseSeed, permIndex, r.Bundle, r.Intensity, r.Params)
		rows = append(rows, ChunkRow{PermIndex: permIndex, Row: row, Degenerate: degenerate})
	}
	return rows, nil
}

func (r *Runner) finalize(metricsPath, summaryPath, logsPath string, degenerateCount uint32) error {
	r.transition(logsPath, StateFinalizing)

	loaded, err := persist.LoadMetrics(metricsPath, r.NTarget)
	if err != nil {
		return fmt.Errorf("reload metrics for finalize: %w", err)
	}
	if uint32(len(loaded.Rows)) != r.NTarget {
		return fmt.Errorf("integrity check failed: expected %d rows, found %d", r.NTarget, len(loaded.Rows))
	}

	summary := r.summarize(loaded, degenerateCount)
	if err := persist.WriteSummary(summaryPath, summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	r.transition(logsPath, StateComplete)
	return nil
}

func (r *Runner) summarize(loaded persist.LoadResult, degenerateCount uint32) persist.Summary {
	rows := loaded.Rows
	n := len(rows)
	totalReturns := make([]float64, n)
	maxDDs := make([]float64, n)
	pfs := make([]float64, n)
	worstMonths := make([]float64, n)
	belowOne := 0

	for i, row := range rows {
		totalReturns[i] = row.TotalReturnPct
		maxDDs[i] = row.MaxDrawdownPct
		pfs[i] = row.ProfitFactor
		worstMonths[i] = row.WorstMonthPct
		if row.ProfitFactor < 1 {
			belowOne++
		}
	}

	s := persist.Summary{
		CellID:             r.CellID,
		NTarget:            r.NTarget,
		NCompleted:         uint32(n),
		DegenerateCount:    degenerateCount,
		TotalReturnPct:     quantiles(totalReturns),
		MaxDrawdownPct:     quantiles(maxDDs),
		ProfitFactor:       quantiles(pfs),
		WorstMonthPct:      quantiles(worstMonths),
		PctProfitFactorLT1: float64(belowOne) / float64(n) * 100,
		NGridTotal:         r.NGridTotal,
		NGridFiltered:      r.NGridFiltered,
		NRowsRaw:           loaded.NRowsRaw,
		NDuplicatesDropped: loaded.NDuplicatesDropped,
		NRowsDeduped:       loaded.NRowsDeduped,
	}

	if r.BaselineFound {
		sortedPF := append([]float64(nil), pfs...)
		sort.Float64s(sortedPF)
		s.PValueVsBaseline = pValueVsBaseline(sortedPF, r.BaselinePF)
		s.PCorrected = s.PValueVsBaseline * float64(r.NGridFiltered)
		if s.PCorrected > 1 {
			s.PCorrected = 1
		}
		s.RobustScore = s.ProfitFactor.P50 * (1 - s.PCorrected)
	}
	return s
}

// quantiles computes the p05/p50/p95/mean/std of values, which must be
// non-empty for a meaningful result; an empty slice yields all zeros.
func quantiles(values []float64) persist.MetricQuantiles {
	if len(values) == 0 {
		return persist.MetricQuantiles{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return persist.MetricQuantiles{
		P05:  stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P50:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Mean: stat.Mean(values, nil),
		Std:  stat.StdDev(values, nil),
	}
}

// pValueVsBaseline estimates the one-sided probability that a permuted
// profit factor meets or exceeds the baseline, from the empirical
// permutation distribution.
func pValueVsBaseline(sortedPF []float64, baseline float64) float64 {
	n := len(sortedPF)
	if n == 0 {
		return 1
	}
	count := 0
	for _, pf := range sortedPF {
		if pf >= baseline {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (r *Runner) transition(logsPath string, s State) {
	r.Log.Info().Str("cell_id", r.CellID).Str("state", string(s)).Msg("cell state transition")
	_ = persist.AppendLogLine(logsPath, fmt.Sprintf("cell=%s state=%s", r.CellID, s))
}
