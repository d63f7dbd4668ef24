package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/montecarlo-stress/internal/applog"
	"github.com/aristath/montecarlo-stress/internal/archive"
	"github.com/aristath/montecarlo-stress/internal/config"
	"github.com/aristath/montecarlo-stress/internal/grid"
	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/registry"
	"github.com/aristath/montecarlo-stress/internal/scheduler"
	"github.com/aristath/montecarlo-stress/internal/statusserver"
	"github.com/aristath/montecarlo-stress/internal/worker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		if err := worker.Serve(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	log := applog.New(applog.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting monte carlo stress run")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	bundle, err := inputs.LoadBundle(cfg.RepoPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load inputs")
	}

	step1 := inputs.LoadStep1Report(cfg.RepoPath + "/step1_report.txt")

	spec := grid.DefaultSpec()
	filters := grid.Filters{
		FixedDelay:      cfg.FixedDelay,
		SlipMin:         cfg.SlipMin,
		SlipMax:         cfg.SlipMax,
		IncludeZeroSlip: cfg.IncludeZeroSlip,
	}
	cellsTotal := len(grid.Enumerate(spec, grid.NoFilters()))
	cells := grid.Enumerate(spec, filters)

	log.Info().Int("n_grid_total", cellsTotal).Int("n_grid_filtered", len(cells)).Msg("grid enumerated")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Warn().Msg("shutdown signal received, finishing in-flight chunks")
		cancel()
	}()

	var statusSrv *statusserver.Server
	if cfg.StatusServerAddr != "" {
		statusSrv = statusserver.New(cfg.StatusServerAddr, cfg.RepoPath+"/backtest/out/montecarlo", log)
		go func() {
			if err := statusSrv.Start(); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	var reg *registry.Registry
	if cfg.RegistryPath != "" {
		reg, err = registry.Open(cfg.RegistryPath)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open run registry, continuing without it")
		} else {
			defer reg.Close()
			_ = reg.Upsert(registry.RunRecord{
				RunName: cfg.RunName, RepoPath: cfg.RepoPath,
				NCells: len(cells), NPerCell: cfg.NPerCell, GlobalSeed: cfg.GlobalSeed,
				Status: "running", StartedAt: timeNow(), UpdatedAt: timeNow(),
			})
		}
	}

	if cfg.StatusOnly {
		log.Info().Msg("status-only mode: exiting without running the grid")
		return
	}

	opts := scheduler.Options{
		RunDir:          cfg.RunDir(),
		AggregatedDir:   cfg.AggregatedDir(),
		Cells:           cells,
		Bundle:          bundle,
		GlobalSeed:      cfg.GlobalSeed,
		NPerCell:        cfg.NPerCell,
		CheckpointEvery: cfg.CheckpointEvery,
		Jobs:            cfg.Jobs,
		BaselinePF:      step1.BaselineProfitFactor,
		BaselineFound:   step1.Found,
		NGridTotal:      cellsTotal,
		NGridFiltered:   len(cells),
		Log:             log,
		BundleDir:       cfg.RepoPath,
	}
	if cfg.SubprocessWorkers {
		if self, err := os.Executable(); err == nil {
			opts.WorkerBinary = self
		} else {
			log.Warn().Err(err).Msg("failed to resolve self executable, falling back to in-process workers")
		}
	}

	runErr := scheduler.Run(ctx, opts)

	if reg != nil {
		status := "complete"
		if runErr != nil {
			status = "failed"
		}
		completedAt := timeNow()
		_ = reg.Upsert(registry.RunRecord{
			RunName: cfg.RunName, RepoPath: cfg.RepoPath,
			NCells: len(cells), NPerCell: cfg.NPerCell, GlobalSeed: cfg.GlobalSeed,
			Status: status, StartedAt: completedAt, UpdatedAt: completedAt, CompletedAt: &completedAt,
		})
	}

	if runErr != nil {
		log.Fatal().Err(runErr).Msg("run failed")
	}

	if cfg.ArchiveBucket != "" {
		archiver, err := archive.New(ctx, archive.Config{
			Bucket:   cfg.ArchiveBucket,
			Endpoint: cfg.ArchiveEndpoint,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to build archiver, skipping archival")
		} else if err := archiver.ArchiveRun(ctx, cfg.RunName, cfg.RunDir()); err != nil {
			log.Error().Err(err).Msg("failed to archive completed run")
		}
	}

	if statusSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = statusSrv.Shutdown(shutdownCtx)
	}

	log.Info().Msg("run complete")
}

func timeNow() (t time.Time) {
	return time.Now().UTC()
}
