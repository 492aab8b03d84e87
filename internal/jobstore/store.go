package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Store persists one JSON file per job under a state directory. All
// mutation goes through the store so the in-memory view and the files
// on disk never diverge.
type Store struct {
	dir string
	log zerolog.Logger

	mu   sync.Mutex
	jobs map[string]Job
}

// NewStore creates the state directory if needed and returns an empty
// store. Call Load to pick up records from a previous run.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job state directory %s: %w", dir, err)
	}
	return &Store{
		dir:  dir,
		log:  log,
		jobs: make(map[string]Job),
	}, nil
}

// Dir returns the state directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) jobPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Load reads every *.json record in the state directory. Corrupt or
// unreadable files are logged and skipped; one bad record must not
// take the daemon down.
func (s *Store) Load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read job state directory %s: %w", s.dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.dir, e.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable job record")
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("skipping corrupt job record")
			continue
		}
		if job.ID == "" || !IsKnownStage(job.Stage) || !IsKnownStatus(job.Status) {
			s.log.Warn().Str("path", path).Msg("skipping malformed job record")
			continue
		}
		s.jobs[job.ID] = job
	}
	return nil
}

// Put persists the job to disk and updates the in-memory view. The
// write is atomic: a temp file in the same directory renamed over the
// final name, so a crash never leaves a half-written record.
func (s *Store) Put(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(job)
}

func (s *Store) putLocked(job Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	data = append(data, '\n')

	path := s.jobPath(job.ID)
	tmp, err := os.CreateTemp(s.dir, ".av1d-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for job %s: %w", job.ID, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for job %s: %w", job.ID, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file for job %s: %w", job.ID, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for job %s: %w", job.ID, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for job %s: %w", job.ID, err)
	}

	s.jobs[job.ID] = job
	return nil
}

// Get returns a copy of the job by id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

// List returns a snapshot of all jobs, ordered by creation time then
// id for a stable view.
func (s *Store) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveForPath reports whether a pending or running job already holds
// the input path. A fresh scan must not admit the same file twice.
func (s *Store) ActiveForPath(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.InputPath == path && job.Active() {
			return true
		}
	}
	return false
}

// ResetInterrupted returns every running job to pending so a restarted
// daemon picks it up again, and persists each reset record. Partial
// encoder output is worthless after a crash, so the stage also resets
// to queued and the pipeline restarts from the top. It returns the ids
// that were reset.
func (s *Store) ResetInterrupted() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reset []string
	for id, job := range s.jobs {
		if job.Status != StatusRunning {
			continue
		}
		job.Stage = StageQueued
		if err := job.SetStatus(StatusPending); err != nil {
			return reset, err
		}
		if err := s.putLocked(job); err != nil {
			return reset, err
		}
		reset = append(reset, id)
	}
	sort.Strings(reset)
	return reset, nil
}
