// Package metrics aggregates per-job encoding progress and host load
// into a snapshot served over HTTP for external viewers.
package metrics

import (
	"sync"
	"time"
)

// JobMetrics is the live view of one running job.
type JobMetrics struct {
	ID               string   `json:"id"`
	InputPath        string   `json:"input_path"`
	Stage            string   `json:"stage"`
	Progress         float64  `json:"progress"`
	FPS              float64  `json:"fps"`
	BitrateKbps      float64  `json:"bitrate_kbps"`
	CRF              int      `json:"crf"`
	Encoder          string   `json:"encoder"`
	Workers          int      `json:"workers"`
	EstRemainingSecs float64  `json:"est_remaining_secs"`
	FramesEncoded    int64    `json:"frames_encoded"`
	TotalFrames      int64    `json:"total_frames"`
	SizeBytesBefore  int64    `json:"size_in_bytes_before"`
	SizeBytesAfter   int64    `json:"size_in_bytes_after"`
	VMAF             *float64 `json:"vmaf,omitempty"`
	PSNR             *float64 `json:"psnr,omitempty"`
	SSIM             *float64 `json:"ssim,omitempty"`
}

// SystemMetrics is the host load sample attached to every snapshot.
type SystemMetrics struct {
	CPUUsagePercent float64 `json:"cpu_usage_percent"`
	MemUsagePercent float64 `json:"mem_usage_percent"`
	LoadAvg1        float64 `json:"load_avg_1"`
	LoadAvg5        float64 `json:"load_avg_5"`
	LoadAvg15       float64 `json:"load_avg_15"`
}

// Snapshot is the complete state served at /metrics.
type Snapshot struct {
	TimestampUnixMs   int64         `json:"timestamp_unix_ms"`
	Jobs              []JobMetrics  `json:"jobs"`
	System            SystemMetrics `json:"system"`
	QueueLen          int           `json:"queue_len"`
	RunningJobs       int           `json:"running_jobs"`
	CompletedJobs     int64         `json:"completed_jobs"`
	FailedJobs        int64         `json:"failed_jobs"`
	TotalBytesEncoded int64         `json:"total_bytes_encoded"`
}

// Aggregator collects job and system metrics behind a mutex. All
// methods are safe for concurrent use.
type Aggregator struct {
	mu                sync.Mutex
	jobs              map[string]JobMetrics
	system            SystemMetrics
	queueLen          int
	completedJobs     int64
	failedJobs        int64
	totalBytesEncoded int64
}

func NewAggregator() *Aggregator {
	return &Aggregator{jobs: make(map[string]JobMetrics)}
}

// UpsertJob publishes the current state of a running job.
func (a *Aggregator) UpsertJob(jm JobMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs[jm.ID] = jm
}

// RemoveJob drops a job from the live view once it reaches a terminal
// state.
func (a *Aggregator) RemoveJob(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.jobs, id)
}

// SetQueueLen publishes the number of admitted jobs waiting for a
// concurrency slot.
func (a *Aggregator) SetQueueLen(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queueLen = n
}

// JobCompleted records a successful replacement and the encoded output
// size it contributed.
func (a *Aggregator) JobCompleted(outputBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completedJobs++
	a.totalBytesEncoded += outputBytes
}

// JobFailed records a failed job.
func (a *Aggregator) JobFailed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failedJobs++
}

// SetSystem publishes a fresh host load sample.
func (a *Aggregator) SetSystem(sys SystemMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.system = sys
}

// Snapshot returns a copy of the current state. Job order is not
// specified.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	jobs := make([]JobMetrics, 0, len(a.jobs))
	for _, jm := range a.jobs {
		jobs = append(jobs, jm)
	}
	return Snapshot{
		TimestampUnixMs:   time.Now().UnixMilli(),
		Jobs:              jobs,
		System:            a.system,
		QueueLen:          a.queueLen,
		RunningJobs:       len(jobs),
		CompletedJobs:     a.completedJobs,
		FailedJobs:        a.failedJobs,
		TotalBytesEncoded: a.totalBytesEncoded,
	}
}
