// Package executor drives admitted jobs through the encode, validate,
// size-gate and replace stages under a fixed concurrency limit.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"av1d/internal/encode"
	"av1d/internal/jobstore"
	"av1d/internal/metrics"
	"av1d/internal/plan"
	"av1d/internal/probe"
	"av1d/internal/replace"
	"av1d/internal/skipmark"
)

// Encoder produces the encoded output for one request.
type Encoder interface {
	Encode(ctx context.Context, req encode.Request) error
}

// Options carries the gate and replacement policy the executor applies
// to every job.
type Options struct {
	MaxSizeRatio     float64
	KeepOriginal     bool
	WriteWhySidecars bool
	TempDir          string
}

// Executor runs jobs concurrently up to the plan's job limit. Jobs
// beyond the limit wait on a counting semaphore in queue order of
// arrival.
type Executor struct {
	store   *jobstore.Store
	encoder Encoder
	prober  probe.Prober
	agg     *metrics.Aggregator
	log     zerolog.Logger
	plan    plan.Plan
	opts    Options

	sem     chan struct{}
	waiting atomic.Int64
	wg      sync.WaitGroup
}

func New(store *jobstore.Store, encoder Encoder, prober probe.Prober, agg *metrics.Aggregator, p plan.Plan, opts Options, log zerolog.Logger) *Executor {
	return &Executor{
		store:   store,
		encoder: encoder,
		prober:  prober,
		agg:     agg,
		log:     log,
		plan:    p,
		opts:    opts,
		sem:     make(chan struct{}, p.MaxConcurrentJobs),
	}
}

// Submit schedules the job and returns immediately. The job waits for
// a free slot, then runs the full pipeline.
func (e *Executor) Submit(ctx context.Context, job jobstore.Job) {
	e.waiting.Add(1)
	e.agg.SetQueueLen(int(e.waiting.Load()))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			e.waiting.Add(-1)
			e.agg.SetQueueLen(int(e.waiting.Load()))
			return
		}
		defer func() { <-e.sem }()

		e.waiting.Add(-1)
		e.agg.SetQueueLen(int(e.waiting.Load()))

		e.run(ctx, job)
	}()
}

// Wait blocks until every submitted job has finished or bailed out.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) run(ctx context.Context, job jobstore.Job) {
	log := e.log.With().Str("job_id", job.ID).Str("input", job.InputPath).Logger()

	if err := job.SetStatus(jobstore.StatusRunning); err != nil {
		log.Error().Err(err).Msg("cannot start job")
		return
	}
	if err := e.store.Put(job); err != nil {
		log.Error().Err(err).Msg("persist job start")
		return
	}

	e.agg.UpsertJob(e.jobMetrics(job))
	defer e.agg.RemoveJob(job.ID)

	if err := e.pipeline(ctx, &job, log); err != nil {
		// pipeline already moved the job to its terminal state; this
		// is only reachable when persisting that state failed.
		log.Error().Err(err).Msg("job pipeline bookkeeping failed")
	}
}

// pipeline runs the stages in order. Each stage transition is
// persisted before the stage's work begins so a crash is attributable
// to a specific stage.
func (e *Executor) pipeline(ctx context.Context, job *jobstore.Job, log zerolog.Logger) error {
	originalBytes := job.ProbeResult.Format.SizeBytes

	// Encoding. Each job gets its own chunks workspace so concurrent
	// encodes never share intermediate files.
	if err := e.enterStage(job, jobstore.StageEncoding); err != nil {
		return err
	}
	chunksDir := filepath.Join(e.opts.TempDir, "chunks_"+job.ID)
	if err := os.MkdirAll(chunksDir, 0o755); err != nil {
		return e.fail(job, fmt.Sprintf("create chunks directory: %v", err), log)
	}
	defer func() {
		if err := os.RemoveAll(chunksDir); err != nil {
			log.Warn().Err(err).Str("path", chunksDir).Msg("remove chunks directory")
		}
	}()
	req := encode.Request{
		InputPath:  job.InputPath,
		OutputPath: job.OutputPath,
		Workers:    e.plan.WorkersPerJob,
		TempDir:    chunksDir,
	}
	log.Info().Int("workers", req.Workers).Msg("encoding started")
	if err := e.encoder.Encode(ctx, req); err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a real failure. The job stays Running on
			// disk and the next startup resets it for resume.
			e.cleanupOutput(job.OutputPath, log)
			log.Info().Msg("encode interrupted by shutdown, job left for resume")
			return nil
		}
		return e.fail(job, fmt.Sprintf("encode failed: %v", err), log)
	}

	// Validating.
	if err := e.enterStage(job, jobstore.StageValidating); err != nil {
		return err
	}
	encoded, err := e.prober.Probe(ctx, job.OutputPath)
	if err != nil {
		if ctx.Err() != nil {
			e.cleanupOutput(job.OutputPath, log)
			return nil
		}
		return e.fail(job, fmt.Sprintf("probe encoded output: %v", err), log)
	}
	if err := ValidateOutput(&job.ProbeResult, encoded); err != nil {
		return e.fail(job, fmt.Sprintf("validation failed: %v", err), log)
	}

	// Size gating.
	if err := e.enterStage(job, jobstore.StageSizeGating); err != nil {
		return err
	}
	info, err := os.Stat(job.OutputPath)
	if err != nil {
		return e.fail(job, fmt.Sprintf("stat encoded output: %v", err), log)
	}
	outputBytes := info.Size()
	if SizeGateReject(outputBytes, originalBytes, e.opts.MaxSizeRatio) {
		reason := fmt.Sprintf("output not smaller than original (%d bytes vs %d bytes, max ratio %.2f)",
			outputBytes, originalBytes, e.opts.MaxSizeRatio)
		return e.skip(job, reason, log)
	}

	// Replacing.
	if err := e.enterStage(job, jobstore.StageReplacing); err != nil {
		return err
	}
	if err := replace.Replace(job.InputPath, job.OutputPath, replace.Options{KeepOriginal: e.opts.KeepOriginal}); err != nil {
		// The temp output stays on disk here: after a replacement
		// failure it may be the only good copy left.
		return e.failKeepOutput(job, fmt.Sprintf("replace failed: %v", err), log)
	}

	// Complete.
	if err := job.Advance(jobstore.StageComplete); err != nil {
		return err
	}
	if err := job.SetStatus(jobstore.StatusSuccess); err != nil {
		return err
	}
	if err := e.store.Put(*job); err != nil {
		return err
	}

	e.agg.JobCompleted(outputBytes)
	log.Info().
		Int64("original_bytes", originalBytes).
		Int64("output_bytes", outputBytes).
		Msg("job complete")
	return nil
}

func (e *Executor) enterStage(job *jobstore.Job, stage jobstore.Stage) error {
	if err := job.Advance(stage); err != nil {
		return err
	}
	if err := e.store.Put(*job); err != nil {
		return err
	}
	jm := e.jobMetrics(*job)
	e.agg.UpsertJob(jm)
	return nil
}

// fail moves the job to failed and removes the temp output. The input
// is not marked: a failure is terminal for this job only, and a later
// scan cycle may admit the file again once the underlying condition
// (full disk, killed encoder) has cleared.
func (e *Executor) fail(job *jobstore.Job, reason string, log zerolog.Logger) error {
	e.cleanupOutput(job.OutputPath, log)
	return e.failKeepOutput(job, reason, log)
}

func (e *Executor) failKeepOutput(job *jobstore.Job, reason string, log zerolog.Logger) error {
	log.Error().Str("reason", reason).Msg("job failed")
	e.agg.JobFailed()

	if err := job.Fail(reason); err != nil {
		return err
	}
	return e.store.Put(*job)
}

// skip moves the job to skipped. The original file is left untouched;
// the marker prevents re-admission on later scans.
func (e *Executor) skip(job *jobstore.Job, reason string, log zerolog.Logger) error {
	log.Info().Str("reason", reason).Msg("job skipped")
	e.cleanupOutput(job.OutputPath, log)
	e.markInput(job.InputPath, reason, log)

	if err := job.Skip(reason); err != nil {
		return err
	}
	return e.store.Put(*job)
}

func (e *Executor) cleanupOutput(path string, log zerolog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("remove temp output")
	}
}

func (e *Executor) markInput(path, reason string, log zerolog.Logger) {
	if err := skipmark.Write(path); err != nil {
		log.Warn().Err(err).Msg("write skip marker")
	}
	if err := skipmark.WriteSidecar(path, reason, e.opts.WriteWhySidecars); err != nil {
		log.Warn().Err(err).Msg("write reason sidecar")
	}
}

func (e *Executor) jobMetrics(job jobstore.Job) metrics.JobMetrics {
	return metrics.JobMetrics{
		ID:              job.ID,
		InputPath:       job.InputPath,
		Stage:           string(job.Stage),
		CRF:             8,
		Encoder:         "svt-av1",
		Workers:         e.plan.WorkersPerJob,
		SizeBytesBefore: job.ProbeResult.Format.SizeBytes,
	}
}
