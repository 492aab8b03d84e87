package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"av1d/internal/classify"
	"av1d/internal/encode"
	"av1d/internal/jobstore"
	"av1d/internal/metrics"
	"av1d/internal/plan"
	"av1d/internal/probe"
	"av1d/internal/scan"
	"av1d/internal/skipmark"
)

// fakeEncoder writes outputBytes of data to the requested output path,
// or fails without producing output. It records the temp dir of every
// request it sees.
type fakeEncoder struct {
	outputBytes int
	failWith    string
	running     atomic.Int64
	peak        atomic.Int64
	delay       time.Duration

	mu       sync.Mutex
	tempDirs []string
}

func (f *fakeEncoder) Encode(_ context.Context, req encode.Request) error {
	f.mu.Lock()
	f.tempDirs = append(f.tempDirs, req.TempDir)
	f.mu.Unlock()

	cur := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		old := f.peak.Load()
		if cur <= old || f.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failWith != "" {
		return errors.New(f.failWith)
	}
	return os.WriteFile(req.OutputPath, make([]byte, f.outputBytes), 0o644)
}

// fakeProber reports a valid single-stream AV1 result whose duration
// matches the given value.
type fakeProber struct {
	codec        string
	durationSecs float64
	streams      int
}

func (f fakeProber) Probe(_ context.Context, path string) (*probe.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	streams := f.streams
	if streams == 0 {
		streams = 1
	}
	pr := &probe.Result{
		Format: probe.FormatInfo{DurationSecs: f.durationSecs, SizeBytes: info.Size()},
	}
	for i := 0; i < streams; i++ {
		pr.VideoStreams = append(pr.VideoStreams, probe.VideoStream{Codec: f.codec, Width: 1920, Height: 1080})
	}
	return pr, nil
}

type fixture struct {
	store    *jobstore.Store
	agg      *metrics.Aggregator
	exec     *Executor
	mediaDir string
	tempDir  string
}

func newFixture(t *testing.T, enc Encoder, prober probe.Prober, opts Options, maxJobs int) *fixture {
	t.Helper()
	store, err := jobstore.NewStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tempDir := t.TempDir()
	opts.TempDir = tempDir
	if opts.MaxSizeRatio == 0 {
		opts.MaxSizeRatio = 0.95
	}
	agg := metrics.NewAggregator()
	p := plan.Plan{TotalCores: 8, TargetThreads: 7, WorkersPerJob: 4, MaxConcurrentJobs: maxJobs}
	return &fixture{
		store:    store,
		agg:      agg,
		exec:     New(store, enc, prober, agg, p, opts, zerolog.Nop()),
		mediaDir: t.TempDir(),
		tempDir:  tempDir,
	}
}

func (fx *fixture) admit(t *testing.T, name string, sizeBytes int, durationSecs float64) jobstore.Job {
	t.Helper()
	path := filepath.Join(fx.mediaDir, name)
	if err := os.WriteFile(path, make([]byte, sizeBytes), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	pr := probe.Result{
		VideoStreams: []probe.VideoStream{{Codec: "h264", Width: 1920, Height: 1080}},
		Format:       probe.FormatInfo{DurationSecs: durationSecs, SizeBytes: int64(sizeBytes)},
	}
	job := jobstore.New(scan.Candidate{Path: path}, pr, classify.Unknown, fx.tempDir)
	if err := fx.store.Put(job); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return job
}

func TestExecutor_SuccessfulJob(t *testing.T) {
	enc := &fakeEncoder{outputBytes: 400}
	fx := newFixture(t, enc, fakeProber{codec: "av1", durationSecs: 120}, Options{}, 1)

	job := fx.admit(t, "movie.mkv", 1000, 120)
	fx.exec.Submit(context.Background(), job)
	fx.exec.Wait()

	got, _ := fx.store.Get(job.ID)
	if got.Stage != jobstore.StageComplete || got.Status != jobstore.StatusSuccess {
		t.Fatalf("final state: stage=%s status=%s reason=%q", got.Stage, got.Status, got.ErrorReason)
	}

	// The original path now holds the encoded output.
	info, err := os.Stat(job.InputPath)
	if err != nil {
		t.Fatalf("stat replaced file: %v", err)
	}
	if info.Size() != 400 {
		t.Fatalf("replaced file size = %d, want 400", info.Size())
	}

	// Temp output and backup are both gone.
	if _, err := os.Stat(job.OutputPath); !os.IsNotExist(err) {
		t.Fatal("temp output still present")
	}
	entries, err := os.ReadDir(filepath.Dir(job.InputPath))
	if err != nil {
		t.Fatalf("read media dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".orig.") {
			t.Fatalf("backup left behind: %s", e.Name())
		}
	}

	snap := fx.agg.Snapshot()
	if snap.CompletedJobs != 1 || snap.FailedJobs != 0 {
		t.Fatalf("counters: completed=%d failed=%d", snap.CompletedJobs, snap.FailedJobs)
	}
	if snap.TotalBytesEncoded != 400 {
		t.Fatalf("total bytes encoded = %d", snap.TotalBytesEncoded)
	}
	if snap.RunningJobs != 0 {
		t.Fatalf("running jobs after completion = %d", snap.RunningJobs)
	}
}

func TestExecutor_SizeGateSkipsOversizedOutput(t *testing.T) {
	// 970 of 1000 bytes is above the 0.95 ratio.
	enc := &fakeEncoder{outputBytes: 970}
	fx := newFixture(t, enc, fakeProber{codec: "av1", durationSecs: 120}, Options{}, 1)

	job := fx.admit(t, "movie.mkv", 1000, 120)
	fx.exec.Submit(context.Background(), job)
	fx.exec.Wait()

	got, _ := fx.store.Get(job.ID)
	if got.Status != jobstore.StatusSkipped {
		t.Fatalf("status = %s, want skipped (reason %q)", got.Status, got.ErrorReason)
	}
	if got.Stage != jobstore.StageSizeGating {
		t.Fatalf("stage = %s, want size_gating", got.Stage)
	}

	// Original untouched, temp removed, marker written.
	info, err := os.Stat(job.InputPath)
	if err != nil {
		t.Fatalf("stat original: %v", err)
	}
	if info.Size() != 1000 {
		t.Fatalf("original size = %d, want 1000", info.Size())
	}
	if _, err := os.Stat(job.OutputPath); !os.IsNotExist(err) {
		t.Fatal("temp output still present")
	}
	if !skipmark.Exists(job.InputPath) {
		t.Fatal("skip marker not written")
	}

	snap := fx.agg.Snapshot()
	if snap.CompletedJobs != 0 {
		t.Fatalf("completed = %d", snap.CompletedJobs)
	}
}

func TestExecutor_SizeGateBoundaryRejects(t *testing.T) {
	// Exactly at the ratio: 950 of 1000 at 0.95 must be rejected.
	enc := &fakeEncoder{outputBytes: 950}
	fx := newFixture(t, enc, fakeProber{codec: "av1", durationSecs: 60}, Options{}, 1)

	job := fx.admit(t, "edge.mkv", 1000, 60)
	fx.exec.Submit(context.Background(), job)
	fx.exec.Wait()

	got, _ := fx.store.Get(job.ID)
	if got.Status != jobstore.StatusSkipped {
		t.Fatalf("status = %s, want skipped", got.Status)
	}
}

func TestExecutor_ValidationFailureMarksFailed(t *testing.T) {
	enc := &fakeEncoder{outputBytes: 400}
	// Output probes as hevc, not av1.
	fx := newFixture(t, enc, fakeProber{codec: "hevc", durationSecs: 120}, Options{}, 1)

	job := fx.admit(t, "movie.mkv", 1000, 120)
	fx.exec.Submit(context.Background(), job)
	fx.exec.Wait()

	got, _ := fx.store.Get(job.ID)
	if got.Status != jobstore.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorReason, "validation failed") {
		t.Fatalf("reason = %q", got.ErrorReason)
	}
	if _, err := os.Stat(job.OutputPath); !os.IsNotExist(err) {
		t.Fatal("temp output still present")
	}
	if skipmark.Exists(job.InputPath) {
		t.Fatal("failed input carries a skip marker")
	}
	// Original untouched.
	info, err := os.Stat(job.InputPath)
	if err != nil || info.Size() != 1000 {
		t.Fatalf("original modified: %v size=%d", err, info.Size())
	}

	snap := fx.agg.Snapshot()
	if snap.FailedJobs != 1 {
		t.Fatalf("failed counter = %d", snap.FailedJobs)
	}
}

func TestExecutor_DurationDriftRejected(t *testing.T) {
	enc := &fakeEncoder{outputBytes: 400}
	// 5 seconds of drift is past the 2 second tolerance.
	fx := newFixture(t, enc, fakeProber{codec: "av1", durationSecs: 115}, Options{}, 1)

	job := fx.admit(t, "movie.mkv", 1000, 120)
	fx.exec.Submit(context.Background(), job)
	fx.exec.Wait()

	got, _ := fx.store.Get(job.ID)
	if got.Status != jobstore.StatusFailed {
		t.Fatalf("status = %s, want failed (reason %q)", got.Status, got.ErrorReason)
	}
}

func TestExecutor_KeepOriginalLeavesBackup(t *testing.T) {
	enc := &fakeEncoder{outputBytes: 400}
	fx := newFixture(t, enc, fakeProber{codec: "av1", durationSecs: 60}, Options{KeepOriginal: true}, 1)

	job := fx.admit(t, "movie.mkv", 1000, 60)
	fx.exec.Submit(context.Background(), job)
	fx.exec.Wait()

	got, _ := fx.store.Get(job.ID)
	if got.Status != jobstore.StatusSuccess {
		t.Fatalf("status = %s (reason %q)", got.Status, got.ErrorReason)
	}

	entries, err := os.ReadDir(filepath.Dir(job.InputPath))
	if err != nil {
		t.Fatalf("read media dir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.Contains(e.Name(), ".orig.") {
			found = true
		}
	}
	if !found {
		t.Fatal("backup missing with KeepOriginal set")
	}
}

func TestExecutor_ConcurrencyLimit(t *testing.T) {
	enc := &fakeEncoder{outputBytes: 100, delay: 50 * time.Millisecond}
	fx := newFixture(t, enc, fakeProber{codec: "av1", durationSecs: 60}, Options{}, 2)

	for i := 0; i < 6; i++ {
		job := fx.admit(t, "movie"+string(rune('a'+i))+".mkv", 1000, 60)
		fx.exec.Submit(context.Background(), job)
	}
	fx.exec.Wait()

	if peak := enc.peak.Load(); peak > 2 {
		t.Fatalf("observed %d concurrent encodes, limit is 2", peak)
	}
	snap := fx.agg.Snapshot()
	if snap.CompletedJobs != 6 {
		t.Fatalf("completed = %d, want 6", snap.CompletedJobs)
	}
}

func TestExecutor_PerJobChunksDirs(t *testing.T) {
	enc := &fakeEncoder{outputBytes: 100, delay: 50 * time.Millisecond}
	fx := newFixture(t, enc, fakeProber{codec: "av1", durationSecs: 60}, Options{}, 2)

	jobA := fx.admit(t, "a.mkv", 1000, 60)
	jobB := fx.admit(t, "b.mkv", 1000, 60)
	fx.exec.Submit(context.Background(), jobA)
	fx.exec.Submit(context.Background(), jobB)
	fx.exec.Wait()

	if len(enc.tempDirs) != 2 {
		t.Fatalf("encoder saw %d requests, want 2", len(enc.tempDirs))
	}
	if enc.tempDirs[0] == enc.tempDirs[1] {
		t.Fatalf("concurrent jobs share chunks dir %q", enc.tempDirs[0])
	}
	want := map[string]bool{
		filepath.Join(fx.tempDir, "chunks_"+jobA.ID): true,
		filepath.Join(fx.tempDir, "chunks_"+jobB.ID): true,
	}
	for _, dir := range enc.tempDirs {
		if !want[dir] {
			t.Fatalf("unexpected chunks dir %q", dir)
		}
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("chunks dir %q not cleaned up", dir)
		}
	}
}

func TestExecutor_EncodeFailureLeavesNoMarker(t *testing.T) {
	enc := &fakeEncoder{failWith: "av1an exited with status 1"}
	fx := newFixture(t, enc, fakeProber{codec: "av1", durationSecs: 60}, Options{}, 1)

	job := fx.admit(t, "movie.mkv", 1000, 60)
	fx.exec.Submit(context.Background(), job)
	fx.exec.Wait()

	got, _ := fx.store.Get(job.ID)
	if got.Status != jobstore.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorReason, "encode failed") {
		t.Fatalf("reason = %q", got.ErrorReason)
	}
	// A transient failure must not exclude the file from later scans.
	if skipmark.Exists(job.InputPath) {
		t.Fatal("failed job's input carries a skip marker")
	}
	info, err := os.Stat(job.InputPath)
	if err != nil || info.Size() != 1000 {
		t.Fatalf("original modified: %v", err)
	}
}

// blockingEncoder holds until the context ends, like a long encode
// interrupted by shutdown.
type blockingEncoder struct {
	started chan struct{}
}

func (b *blockingEncoder) Encode(ctx context.Context, _ encode.Request) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestExecutor_ShutdownLeavesJobResumable(t *testing.T) {
	enc := &blockingEncoder{started: make(chan struct{})}
	fx := newFixture(t, enc, fakeProber{codec: "av1", durationSecs: 60}, Options{}, 1)

	job := fx.admit(t, "movie.mkv", 1000, 60)
	ctx, cancel := context.WithCancel(context.Background())
	fx.exec.Submit(ctx, job)

	<-enc.started
	cancel()
	fx.exec.Wait()

	got, _ := fx.store.Get(job.ID)
	if got.Status != jobstore.StatusRunning {
		t.Fatalf("status = %s, want running for restart recovery", got.Status)
	}
	if skipmark.Exists(job.InputPath) {
		t.Fatal("interrupted job must not mark its input")
	}
	snap := fx.agg.Snapshot()
	if snap.FailedJobs != 0 {
		t.Fatalf("shutdown counted as failure: %d", snap.FailedJobs)
	}
}

func TestValidateOutput(t *testing.T) {
	original := &probe.Result{Format: probe.FormatInfo{DurationSecs: 100}}

	ok := &probe.Result{
		VideoStreams: []probe.VideoStream{{Codec: "av1"}},
		Format:       probe.FormatInfo{DurationSecs: 101.5},
	}
	if err := ValidateOutput(original, ok); err != nil {
		t.Fatalf("valid output rejected: %v", err)
	}

	twoStreams := &probe.Result{
		VideoStreams: []probe.VideoStream{{Codec: "av1"}, {Codec: "av1"}},
		Format:       probe.FormatInfo{DurationSecs: 100},
	}
	if err := ValidateOutput(original, twoStreams); err == nil {
		t.Fatal("two video streams accepted")
	}

	wrongCodec := &probe.Result{
		VideoStreams: []probe.VideoStream{{Codec: "hevc"}},
		Format:       probe.FormatInfo{DurationSecs: 100},
	}
	if err := ValidateOutput(original, wrongCodec); err == nil {
		t.Fatal("wrong codec accepted")
	}
}

func TestSizeGateReject(t *testing.T) {
	cases := []struct {
		output, original int64
		ratio            float64
		want             bool
	}{
		{949, 1000, 0.95, false},
		{950, 1000, 0.95, true}, // equality rejects
		{951, 1000, 0.95, true},
		{1200, 1000, 0.95, true},
		{500, 1000, 0.95, false},
	}
	for _, tc := range cases {
		if got := SizeGateReject(tc.output, tc.original, tc.ratio); got != tc.want {
			t.Fatalf("SizeGateReject(%d, %d, %v) = %v, want %v",
				tc.output, tc.original, tc.ratio, got, tc.want)
		}
	}
}
