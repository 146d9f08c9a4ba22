package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"ytgrab/models"
	"ytgrab/utils"
)

const (
	sidecarName  = "progress.log"
	probeTimeout = 2 * time.Minute
)

// ErrNotRunning is returned when cancelling a job that has no live process.
var ErrNotRunning = errors.New("job is not running")

// JobStore is the write side of job persistence the supervisor depends on.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	SetDownloading(ctx context.Context, id string, progress float64) error
	UpdateProgress(ctx context.Context, id string, progress float64) error
	Complete(ctx context.Context, id, artifactPath string, artifactSize int64) error
	Fail(ctx context.Context, id, message string) error
	SetTitle(ctx context.Context, id, title string) error
}

// SupervisorConfig carries the settings the supervisor needs.
type SupervisorConfig struct {
	YtdlpPath      string
	OngoingDir     string
	CompletedDir   string
	MaxFileSize    string
	StartupTimeout time.Duration
	JobTimeout     time.Duration
}

// JobSupervisor orchestrates one download job end to end: validation, the
// rate-limit gate, record creation, the subprocess, progress persistence and
// finalization. Each accepted job runs on its own goroutine, decoupled from
// the request that submitted it; all writes to one job go through that single
// goroutine.
type JobSupervisor struct {
	store     JobStore
	gate      *RateGate
	runner    Runner
	validator *Validator
	cfg       SupervisorConfig

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewJobSupervisor(store JobStore, gate *RateGate, runner Runner, validator *Validator, cfg SupervisorConfig) *JobSupervisor {
	return &JobSupervisor{
		store:     store,
		gate:      gate,
		runner:    runner,
		validator: validator,
		cfg:       cfg,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Submit validates a request, consults the rate gate, creates the job record
// and launches the background download. It returns the created job and the
// client's remaining allowance. Validation and rate-limit rejections happen
// before any side effect: no job row, no rate-limit consumption.
func (s *JobSupervisor) Submit(ctx context.Context, identity string, req models.DownloadRequest) (*models.Job, int, error) {
	if req.Quality == "" {
		req.Quality = "best"
	}
	if req.Format == "" {
		req.Format = "mp4"
	}

	if err := s.validator.ValidateRequest(req.URL, req.Format, req.Quality); err != nil {
		return nil, 0, err
	}

	if !s.gate.CanProceed(ctx, identity) {
		return nil, 0, &RateLimitError{RetryAfter: s.gate.TimeUntilReset(ctx, identity)}
	}
	s.gate.Record(ctx, identity)

	job := &models.Job{
		ID:             uuid.New().String(),
		ClientIdentity: identity,
		SourceURL:      req.URL,
		Format:         req.Format,
		Quality:        req.Quality,
		Status:         models.StatusPending,
		CreatedAt:      time.Now(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, 0, err
	}

	go s.run(job)

	return job, s.gate.Remaining(ctx, identity), nil
}

// Cancel terminates a running job's subprocess. The job still finalizes as
// failed through its own goroutine.
func (s *JobSupervisor) Cancel(jobID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	cancel()
	return nil
}

// run is the background unit for one job. A panic anywhere inside still
// produces a failed terminal write, so no job is left stuck in pending or
// downloading.
func (s *JobSupervisor) run(job *models.Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Job %s: panic: %v", job.ID, r)
			s.failJob(job.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, job.ID)
		s.mu.Unlock()
	}()

	jobDir := filepath.Join(s.cfg.OngoingDir, job.ID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		s.failJob(job.ID, "could not create working directory: "+err.Error())
		return
	}
	defer os.RemoveAll(jobDir)

	s.probeTitle(ctx, job)

	args := utils.BuildDownloadArgs(job.SourceURL, job.Quality, job.Format,
		filepath.Join(jobDir, "media.%(ext)s"), s.cfg.MaxFileSize)
	handle, err := s.runner.Start(ctx, s.cfg.YtdlpPath, args, filepath.Join(jobDir, sidecarName))
	if err != nil {
		s.failJob(job.ID, "could not start download tool: "+err.Error())
		return
	}

	res := s.consume(job.ID, cancel, handle)
	exitErr := handle.Wait()

	switch {
	case res.startupTimedOut:
		s.failJob(job.ID, "download tool produced no output before the startup deadline")
	case res.errLine != "":
		s.failJob(job.ID, res.errLine)
	case exitErr != nil && !res.completed:
		if ctx.Err() == context.DeadlineExceeded {
			s.failJob(job.ID, "download exceeded the time limit and was terminated")
		} else {
			s.failJob(job.ID, "download tool exited with error: "+exitErr.Error())
		}
	default:
		// The completion marker means the media is fully written; a non-zero
		// exit after it (a post-processing warning, say) still completes the
		// job. finalize fails the job when no artifact exists.
		s.finalize(job, jobDir)
	}
}

type runResult struct {
	started         bool
	maxPercent      float64
	completed       bool
	errLine         string
	startupTimedOut bool
}

// consume drains the line stream, translating each line into a progress event
// and persisting state transitions in order. Progress is clamped to the
// previous maximum since the tool's output is not strictly monotonic.
func (s *JobSupervisor) consume(jobID string, cancel context.CancelFunc, handle ProcessHandle) runResult {
	var res runResult
	lines := handle.Lines()

	startup := time.NewTimer(s.cfg.StartupTimeout)
	defer startup.Stop()
	gotFirstLine := false

	for {
		var line OutputLine
		var ok bool
		if gotFirstLine || res.startupTimedOut {
			line, ok = <-lines
		} else {
			select {
			case line, ok = <-lines:
			case <-startup.C:
				res.startupTimedOut = true
				cancel()
				continue
			}
		}
		if !ok {
			return res
		}
		gotFirstLine = true

		evt := ParseProgressLine(line.Text)
		if evt.Error != "" && res.errLine == "" {
			res.errLine = evt.Error
		}
		if evt.Completed {
			res.completed = true
		}
		if evt.Percent == nil {
			continue
		}

		pct := *evt.Percent
		if res.started && pct <= res.maxPercent {
			continue
		}
		if pct > res.maxPercent {
			res.maxPercent = pct
		}
		if !res.started {
			res.started = true
			if err := s.store.SetDownloading(context.Background(), jobID, res.maxPercent); err != nil {
				log.Printf("Job %s: %v", jobID, err)
			}
		} else {
			// Intermediate updates are best effort; only the terminal write
			// is mandatory.
			if err := s.store.UpdateProgress(context.Background(), jobID, res.maxPercent); err != nil {
				log.Printf("Job %s: %v", jobID, err)
			}
		}
	}
}

// finalize locates the produced file, moves it into the public directory and
// records the terminal completed status. The move happens immediately before
// the terminal write, so a file only becomes servable for a job about to be
// marked completed.
func (s *JobSupervisor) finalize(job *models.Job, jobDir string) {
	artifact, size, err := locateArtifact(jobDir)
	if err != nil {
		s.failJob(job.ID, "download finished but no output file was produced")
		return
	}

	dest := filepath.Join(s.cfg.CompletedDir, s.artifactName(job, filepath.Ext(artifact)))
	if err := os.Rename(artifact, dest); err != nil {
		s.failJob(job.ID, "could not move artifact into storage: "+err.Error())
		return
	}

	if err := s.store.Complete(context.Background(), job.ID, dest, size); err != nil {
		log.Printf("Job %s: terminal write failed: %v", job.ID, err)
		return
	}
	log.Printf("Job %s: completed, artifact %s (%d bytes)", job.ID, dest, size)
}

func (s *JobSupervisor) failJob(jobID, message string) {
	if err := s.store.Fail(context.Background(), jobID, message); err != nil {
		log.Printf("Job %s: terminal write failed: %v", jobID, err)
		return
	}
	log.Printf("Job %s: failed: %s", jobID, message)
}

func (s *JobSupervisor) artifactName(job *models.Job, ext string) string {
	base := SanitizeFilename(job.Title)
	if base == "" {
		base = job.ID
	} else {
		base = base + "_" + shortID(job.ID)
	}
	return base + ext
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// locateArtifact finds the downloaded file in the job directory, skipping the
// sidecar log.
func locateArtifact(jobDir string) (path string, size int64, err error) {
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		return "", 0, errors.Wrap(err, "read job directory")
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == sidecarName {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		return filepath.Join(jobDir, entry.Name()), info.Size(), nil
	}
	return "", 0, errors.New("no artifact in job directory")
}

// probeTitle asks the tool for video metadata and records the title. Best
// effort: a failed probe never fails the job.
func (s *JobSupervisor) probeTitle(ctx context.Context, job *models.Job) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	handle, err := s.runner.Start(ctx, s.cfg.YtdlpPath, utils.BuildProbeArgs(job.SourceURL), "")
	if err != nil {
		log.Printf("Job %s: title probe failed to start: %v", job.ID, err)
		return
	}

	var payload string
	for line := range handle.Lines() {
		if !line.Stderr && payload == "" && strings.HasPrefix(line.Text, "{") {
			payload = line.Text
		}
	}
	if err := handle.Wait(); err != nil {
		log.Printf("Job %s: title probe failed: %v", job.ID, err)
		return
	}

	var meta struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(payload), &meta); err != nil || meta.Title == "" {
		return
	}
	job.Title = meta.Title
	if err := s.store.SetTitle(context.Background(), job.ID, meta.Title); err != nil {
		log.Printf("Job %s: %v", job.ID, err)
	}
}
