// Package daemon ties the scanner, gates, job store and executor into
// the long-running service loop.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"av1d/internal/classify"
	"av1d/internal/config"
	"av1d/internal/executor"
	"av1d/internal/gate"
	"av1d/internal/jobstore"
	"av1d/internal/metrics"
	"av1d/internal/plan"
	"av1d/internal/probe"
	"av1d/internal/scan"
	"av1d/internal/skipmark"
)

// Daemon owns the scan loop and all shared state behind it.
type Daemon struct {
	cfg    config.Config
	log    zerolog.Logger
	plan   plan.Plan
	store  *jobstore.Store
	agg    *metrics.Aggregator
	exec   *executor.Executor
	prober probe.Prober
}

// RunOptions adjusts a single Run invocation.
type RunOptions struct {
	// Once runs exactly one scan cycle, waits for the admitted jobs,
	// and returns.
	Once bool
}

// New wires the daemon from a validated config. The encoder and prober
// are injected so the pipeline can be exercised without the external
// tools.
func New(cfg config.Config, encoder executor.Encoder, prober probe.Prober, log zerolog.Logger) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Paths.TempOutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp output directory %s: %w", cfg.Paths.TempOutputDir, err)
	}

	store, err := jobstore.NewStore(cfg.Paths.JobStateDir, log)
	if err != nil {
		return nil, err
	}

	p := plan.Derive(cfg.EffectiveCores(), plan.Policy{
		TargetUtilization: cfg.CPU.TargetCPUUtilization,
		WorkersOverride:   cfg.Av1an.WorkersPerJob,
		MaxJobsOverride:   cfg.Av1an.MaxConcurrentJobs,
	})
	log.Info().
		Int("total_cores", p.TotalCores).
		Int("target_threads", p.TargetThreads).
		Int("workers_per_job", p.WorkersPerJob).
		Int("max_concurrent_jobs", p.MaxConcurrentJobs).
		Msg("concurrency plan derived")

	agg := metrics.NewAggregator()
	exec := executor.New(store, encoder, prober, agg, p, executor.Options{
		MaxSizeRatio:     cfg.Gates.MaxSizeRatio,
		KeepOriginal:     cfg.Gates.KeepOriginal,
		WriteWhySidecars: cfg.Scan.WriteWhySidecars,
		TempDir:          cfg.Paths.TempOutputDir,
	}, log)

	return &Daemon{
		cfg:    cfg,
		log:    log,
		plan:   p,
		store:  store,
		agg:    agg,
		exec:   exec,
		prober: prober,
	}, nil
}

// Store exposes the job store for inspection.
func (d *Daemon) Store() *jobstore.Store {
	return d.store
}

// Run executes the daemon until the context is canceled. The state
// directory lock is held for the whole run.
func (d *Daemon) Run(ctx context.Context, opts RunOptions) error {
	// Background goroutines stop when Run returns, not only when the
	// caller's context ends.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lock, err := jobstore.AcquireStateLock(d.cfg.Paths.JobStateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			d.log.Warn().Err(err).Msg("release state lock")
		}
	}()

	if err := d.store.Load(); err != nil {
		return err
	}
	reset, err := d.store.ResetInterrupted()
	if err != nil {
		return err
	}
	if len(reset) > 0 {
		d.log.Info().Strs("job_ids", reset).Msg("reset interrupted jobs")
	}
	d.resubmitPending(ctx)

	go metrics.RunSampler(ctx, d.agg, d.log)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- metrics.Serve(ctx, d.cfg.Server.ListenAddr, d.agg, d.log)
	}()

	if opts.Once {
		d.scanCycle(ctx)
		d.exec.Wait()
		return nil
	}

	interval := time.Duration(d.cfg.Scan.ScanIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.scanCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("shutting down, waiting for running jobs")
			d.exec.Wait()
			return nil
		case err := <-serveErr:
			d.exec.Wait()
			return err
		case <-ticker.C:
			d.scanCycle(ctx)
		}
	}
}

// resubmitPending hands every pending job back to the executor after a
// restart.
func (d *Daemon) resubmitPending(ctx context.Context) {
	for _, job := range d.store.List() {
		if job.Status == jobstore.StatusPending {
			d.log.Info().Str("job_id", job.ID).Str("input", job.InputPath).Msg("resuming job")
			d.exec.Submit(ctx, job)
		}
	}
}

// scanCycle walks the library once and admits every eligible file.
// Candidates are processed concurrently because each one sits in a
// stability wait.
func (d *Daemon) scanCycle(ctx context.Context) {
	candidates := scan.Scan(d.cfg.Scan.LibraryRoots)
	d.log.Debug().Int("candidates", len(candidates)).Msg("scan cycle")

	var wg sync.WaitGroup
	for _, c := range candidates {
		if d.store.ActiveForPath(c.Path) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.admit(ctx, c)
		}()
	}
	wg.Wait()
}

// admit runs the per-candidate pipeline: stability, probe, gates,
// classification, job creation.
func (d *Daemon) admit(ctx context.Context, c scan.Candidate) {
	log := d.log.With().Str("path", c.Path).Logger()

	wait := time.Duration(d.cfg.Scan.StabilityWaitSecs) * time.Second
	stability, err := scan.CheckStability(ctx, c.Path, c.SizeBytes, wait)
	if err != nil || !stability.Stable {
		// Still being written; the next cycle tries again.
		log.Debug().Msg("file not stable yet, deferring")
		return
	}

	pr, err := d.prober.Probe(ctx, c.Path)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown killed the probe subprocess. The file is fine;
			// the next cycle probes it again.
			log.Debug().Msg("probe interrupted by shutdown, deferring")
			return
		}
		log.Warn().Err(err).Msg("probe failed, marking file")
		d.markSkipped(c.Path, fmt.Sprintf("probe failed: %v", err), log)
		return
	}

	res := gate.Check(pr, stability.CurrentSize, gate.Config{MinBytes: d.cfg.Gates.MinBytes})
	if !res.Pass {
		log.Info().Str("reason", res.Reason).Msg("gated out")
		d.markSkipped(c.Path, res.Reason, log)
		return
	}

	source := classify.Source(c.Path, pr)
	job := jobstore.New(c, *pr, source, d.cfg.Paths.TempOutputDir)
	if err := d.store.Put(job); err != nil {
		log.Error().Err(err).Msg("persist new job")
		return
	}
	log.Info().
		Str("job_id", job.ID).
		Str("source_type", string(source)).
		Int64("size_bytes", stability.CurrentSize).
		Msg("job admitted")
	d.exec.Submit(ctx, job)
}

func (d *Daemon) markSkipped(path, reason string, log zerolog.Logger) {
	if err := skipmark.Write(path); err != nil {
		log.Warn().Err(err).Msg("write skip marker")
	}
	if err := skipmark.WriteSidecar(path, reason, d.cfg.Scan.WriteWhySidecars); err != nil {
		log.Warn().Err(err).Msg("write reason sidecar")
	}
}
