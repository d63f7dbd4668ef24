// Package scheduler dispatches an enumerated grid of cells across a bounded
// worker pool, tracks aggregate progress, and writes the run-level
// completion marker once every cell finishes.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aristath/montecarlo-stress/internal/cellrunner"
	"github.com/aristath/montecarlo-stress/internal/grid"
	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/kernel"
	"github.com/aristath/montecarlo-stress/internal/persist"
	"github.com/aristath/montecarlo-stress/internal/worker"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	heartbeatInterval = 30 * time.Second
	progressInterval  = 60 * time.Second
)

// Options configures one scheduler run.
type Options struct {
	RunDir          string
	AggregatedDir   string
	Cells           []grid.Cell
	Bundle          *inputs.Bundle
	GlobalSeed      uint32
	NPerCell        int
	CheckpointEvery int
	Jobs            int // 0: compute default from host CPU count
	PerCellTimeout  time.Duration
	BaselinePF      float64
	BaselineFound   bool
	NGridTotal      int
	NGridFiltered   int
	Log             zerolog.Logger

	// BundleDir is where trade_list.csv, equity_curve.csv, and ohlc.csv
	// live on disk. Only needed when WorkerBinary is set, since a
	// subprocess worker reloads the bundle itself rather than receiving
	// it over the wire.
	BundleDir string
	// WorkerBinary, when non-empty, routes every cell's chunks through a
	// "<WorkerBinary> worker" subprocess instead of computing them
	// in-process, isolating a kernel panic or hang to that one chunk.
	WorkerBinary string
}

// CellOutcome records one cell's terminal state for the run's progress
// ledger and orphan sweep.
type CellOutcome struct {
	CellID string
	Err    error
}

// Run dispatches every cell in opts.Cells across a bounded worker pool,
// writes periodic heartbeat/progress snapshots, and marks the run DONE once
// every cell's summary.json exists and is complete. It blocks until all
// cells finish or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	if err := os.MkdirAll(opts.AggregatedDir, 0755); err != nil {
		return fmt.Errorf("create aggregated dir: %w", err)
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = defaultJobs()
	}

	intensity := kernel.ComputeIntensity(opts.Bundle)

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go heartbeatLoop(hbCtx, opts)

	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()

	outcomes := make(chan CellOutcome, len(opts.Cells))
	sem := make(chan struct{}, jobs)
	var wg sync.WaitGroup

	var completedMu sync.Mutex
	completed := 0

	go progressLoop(progressCtx, opts, &completedMu, &completed)

	for _, cell := range opts.Cells {
		cell := cell
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			cellCtx := ctx
			var cancel context.CancelFunc
			if opts.PerCellTimeout > 0 {
				cellCtx, cancel = context.WithTimeout(ctx, opts.PerCellTimeout)
				defer cancel()
			}

			err := runCell(cellCtx, opts, cell, intensity)

			completedMu.Lock()
			completed++
			completedMu.Unlock()

			outcomes <- CellOutcome{CellID: cell.ID(), Err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var firstErr error
	for outcome := range outcomes {
		if outcome.Err != nil {
			opts.Log.Error().Str("cell_id", outcome.CellID).Err(outcome.Err).Msg("cell failed")
			if firstErr == nil {
				firstErr = outcome.Err
			}
			continue
		}
		opts.Log.Info().Str("cell_id", outcome.CellID).Msg("cell complete")
	}

	if firstErr != nil {
		return firstErr
	}

	if err := sweepOrphans(opts); err != nil {
		return fmt.Errorf("orphan sweep: %w", err)
	}

	donePath := filepath.Join(opts.AggregatedDir, "DONE.txt")
	return persist.AtomicWriteFile(donePath, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644)
}

func runCell(ctx context.Context, opts Options, cell grid.Cell, intensity kernel.Intensity) error {
	runner := &cellrunner.Runner{
		CellID:          cell.ID(),
		Params:          cell.Params,
		Bundle:          opts.Bundle,
		Intensity:       intensity,
		GlobalSeed:      opts.GlobalSeed,
		NTarget:         uint32(opts.NPerCell),
		CheckpointEvery: opts.CheckpointEvery,
		Dir:             filepath.Join(opts.RunDir, "per_cell", cell.ID()),
		BaselinePF:      opts.BaselinePF,
		BaselineFound:   opts.BaselineFound,
		NGridTotal:      opts.NGridTotal,
		NGridFiltered:   opts.NGridFiltered,
		Log:             opts.Log,
	}
	if opts.WorkerBinary != "" {
		runner.Produce = subprocessProduce(opts, cell.ID())
	}
	return runner.Run(ctx)
}

// subprocessProduce builds a cellrunner.Runner.Produce hook that dispatches
// each chunk to a "<WorkerBinary> worker" subprocess via worker.RunJob,
// translating its Envelope stream into ChunkRows.
func subprocessProduce(opts Options, cellID string) func(ctx context.Context, baseSeed, start, end uint32) ([]cellrunner.ChunkRow, error) {
	return func(ctx context.Context, baseSeed, start, end uint32) ([]cellrunner.ChunkRow, error) {
		cell := cellByID(opts.Cells, cellID)
		job := worker.JobRequest{
			CellID:    cellID,
			Params:    cell.Params,
			BundleDir: opts.BundleDir,
			BaseSeed:  baseSeed,
			PermStart: start,
			PermEnd:   end,
		}
		envelopes, err := worker.RunJob(ctx, opts.WorkerBinary, []string{"worker"}, job)
		if err != nil {
			return nil, err
		}
		rows := make([]cellrunner.ChunkRow, 0, len(envelopes))
		for _, env := range envelopes {
			if env.Kind != worker.KindResult {
				continue
			}
			rows = append(rows, cellrunner.ChunkRow{PermIndex: env.PermIndex, Row: env.Row, Degenerate: env.Degenerate})
		}
		return rows, nil
	}
}

func cellByID(cells []grid.Cell, id string) grid.Cell {
	for _, c := range cells {
		if c.ID() == id {
			return c
		}
	}
	return grid.Cell{}
}

// defaultJobs mirrors the host sizing used elsewhere in the stack: no more
// than 8 concurrent cells, and never more than the host reports having
// logical cores.
func defaultJobs() int {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		return 4
	}
	if cores > 8 {
		return 8
	}
	return cores
}

func heartbeatLoop(ctx context.Context, opts Options) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeHeartbeat(opts)
		}
	}
}

type heartbeat struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
}

func writeHeartbeat(opts Options) {
	hb := heartbeat{Timestamp: time.Now().UTC()}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		hb.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hb.MemPercent = vm.UsedPercent
	}
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		opts.Log.Warn().Err(err).Msg("marshal heartbeat")
		return
	}
	path := filepath.Join(opts.AggregatedDir, "heartbeat.json")
	if err := persist.AtomicWriteFile(path, data, 0644); err != nil {
		opts.Log.Warn().Err(err).Msg("write heartbeat")
	}
}

func progressLoop(ctx context.Context, opts Options, mu *sync.Mutex, completed *int) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	path := filepath.Join(opts.AggregatedDir, "progress.csv")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mu.Lock()
			n := *completed
			mu.Unlock()
			line := fmt.Sprintf("%s,%d,%d\n", time.Now().UTC().Format(time.RFC3339), n, len(opts.Cells))
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				opts.Log.Warn().Err(err).Msg("open progress.csv")
				continue
			}
			if _, err := f.WriteString(line); err != nil {
				opts.Log.Warn().Err(err).Msg("append progress.csv")
			}
			f.Close()
		}
	}
}

// sweepOrphans regenerates any cell's summary.json that is missing despite
// its metrics_compact.csv holding exactly NPerCell deduped rows — a cell
// whose process died after the last row was flushed but before the summary
// was written. A cell with a missing summary and fewer rows makes the sweep
// return an error.
func sweepOrphans(opts Options) error {
	for _, cell := range opts.Cells {
		cellDir := filepath.Join(opts.RunDir, "per_cell", cell.ID())
		summaryPath := filepath.Join(cellDir, "summary.json")
		if _, ok, err := persist.ReadSummary(summaryPath); err == nil && ok {
			continue
		}

		metricsPath := filepath.Join(cellDir, "metrics_compact.csv")
		loaded, err := persist.LoadMetrics(metricsPath, uint32(opts.NPerCell))
		if err != nil {
			return fmt.Errorf("cell %s: %w", cell.ID(), err)
		}
		if uint32(len(loaded.Rows)) != uint32(opts.NPerCell) {
			return fmt.Errorf("cell %s: incomplete at sweep (%d/%d)", cell.ID(), len(loaded.Rows), opts.NPerCell)
		}

		runner := &cellrunner.Runner{
			CellID:        cell.ID(),
			NTarget:       uint32(opts.NPerCell),
			Dir:           cellDir,
			BaselinePF:    opts.BaselinePF,
			BaselineFound: opts.BaselineFound,
			NGridTotal:    opts.NGridTotal,
			NGridFiltered: opts.NGridFiltered,
			Log:           opts.Log,
		}
		if err := runner.Run(context.Background()); err != nil {
			return fmt.Errorf("cell %s: regenerate summary: %w", cell.ID(), err)
		}
	}
	return nil
}
