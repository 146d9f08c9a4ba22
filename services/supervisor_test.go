package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ytgrab/models"
)

// fakeJobStore records every write and enforces the legal status edges:
// pending -> downloading -> {completed | failed}, with failed also reachable
// straight from pending.
type fakeJobStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	progress    []float64
	transitions []string
	illegal     []string
	terminal    chan struct{}
	once        sync.Once
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:     make(map[string]*models.Job),
		terminal: make(chan struct{}),
	}
}

func (s *fakeJobStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	s.transitions = append(s.transitions, job.Status)
	if job.Status != models.StatusPending {
		s.illegal = append(s.illegal, "created as "+job.Status)
	}
	return nil
}

func (s *fakeJobStore) SetDownloading(_ context.Context, id string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Status != models.StatusPending {
		s.illegal = append(s.illegal, job.Status+" -> downloading")
	}
	job.Status = models.StatusDownloading
	job.ProgressPercent = progress
	s.progress = append(s.progress, progress)
	s.transitions = append(s.transitions, models.StatusDownloading)
	return nil
}

func (s *fakeJobStore) UpdateProgress(_ context.Context, id string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Status != models.StatusDownloading {
		s.illegal = append(s.illegal, "progress update while "+job.Status)
	}
	if progress < job.ProgressPercent {
		s.illegal = append(s.illegal, fmt.Sprintf("progress went backwards: %v -> %v", job.ProgressPercent, progress))
	}
	job.ProgressPercent = progress
	s.progress = append(s.progress, progress)
	return nil
}

func (s *fakeJobStore) Complete(_ context.Context, id, artifactPath string, artifactSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Status != models.StatusDownloading {
		s.illegal = append(s.illegal, job.Status+" -> completed")
	}
	job.Status = models.StatusCompleted
	job.ProgressPercent = 100
	job.ArtifactPath = &artifactPath
	job.ArtifactSize = artifactSize
	now := time.Now()
	job.CompletedAt = &now
	s.transitions = append(s.transitions, models.StatusCompleted)
	s.once.Do(func() { close(s.terminal) })
	return nil
}

func (s *fakeJobStore) Fail(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Status != models.StatusPending && job.Status != models.StatusDownloading {
		s.illegal = append(s.illegal, job.Status+" -> failed")
	}
	job.Status = models.StatusFailed
	job.ErrorMessage = &message
	now := time.Now()
	job.CompletedAt = &now
	s.transitions = append(s.transitions, models.StatusFailed)
	s.once.Do(func() { close(s.terminal) })
	return nil
}

func (s *fakeJobStore) SetTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Title = title
	return nil
}

func (s *fakeJobStore) get(id string) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeJobStore) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-s.terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached a terminal status")
	}
}

// fakeRunner scripts subprocess behavior. Title probes answer with fixed
// metadata; download invocations replay the scripted lines.
type fakeRunner struct {
	lines            []string
	exitErr          error
	startErr         error
	probeTitle       string
	createArtifact   bool
	blockUntilCancel bool
}

func (r *fakeRunner) Start(ctx context.Context, _ string, args []string, sidecar string) (ProcessHandle, error) {
	for _, a := range args {
		if a == "--dump-json" {
			payload := fmt.Sprintf(`{"title":%q}`, r.probeTitle)
			return newScriptedHandle(ctx, []string{payload}, nil, false), nil
		}
	}
	if r.startErr != nil {
		return nil, r.startErr
	}
	if r.createArtifact {
		jobDir := filepath.Dir(sidecar)
		if err := os.WriteFile(filepath.Join(jobDir, "media.mp4"), []byte("media bytes"), 0644); err != nil {
			return nil, err
		}
	}
	return newScriptedHandle(ctx, r.lines, r.exitErr, r.blockUntilCancel), nil
}

type scriptedHandle struct {
	ch      chan OutputLine
	exitErr error
}

func newScriptedHandle(ctx context.Context, lines []string, exitErr error, blockUntilCancel bool) *scriptedHandle {
	h := &scriptedHandle{ch: make(chan OutputLine), exitErr: exitErr}
	go func() {
		defer close(h.ch)
		if blockUntilCancel {
			<-ctx.Done()
			return
		}
		for _, line := range lines {
			h.ch <- OutputLine{Text: line}
		}
	}()
	return h
}

func (h *scriptedHandle) Lines() <-chan OutputLine { return h.ch }
func (h *scriptedHandle) Wait() error              { return h.exitErr }

type testEnv struct {
	supervisor   *JobSupervisor
	store        *fakeJobStore
	rateStore    *fakeRateStore
	completedDir string
}

func newTestEnv(t *testing.T, runner Runner) *testEnv {
	t.Helper()
	store := newFakeJobStore()
	rateStore := newFakeRateStore()
	ongoing := t.TempDir()
	completed := t.TempDir()

	supervisor := NewJobSupervisor(
		store,
		NewRateGate(rateStore, 5, 30*time.Minute),
		runner,
		NewValidator(testDomains),
		SupervisorConfig{
			YtdlpPath:      "yt-dlp",
			OngoingDir:     ongoing,
			CompletedDir:   completed,
			MaxFileSize:    "2G",
			StartupTimeout: 2 * time.Second,
			JobTimeout:     10 * time.Second,
		},
	)
	return &testEnv{supervisor: supervisor, store: store, rateStore: rateStore, completedDir: completed}
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{
		lines: []string{
			"download: 50.0% 5.7MiB/11.4MiB",
			"download: 100% 11.4MiB/11.4MiB",
			"[download] 100% complete",
		},
		probeTitle:     "Test Video",
		createArtifact: true,
	})

	job, remaining, err := env.supervisor.Submit(context.Background(),
		"1.2.3.4", models.DownloadRequest{URL: "https://youtu.be/abc123", Format: "mp4", Quality: "720"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.Status != models.StatusPending {
		t.Errorf("job created with status %q, want pending", job.Status)
	}
	if remaining != 4 {
		t.Errorf("remaining = %d, want 4", remaining)
	}

	env.store.waitTerminal(t)
	final := env.store.get(job.ID)

	if final.Status != models.StatusCompleted {
		t.Fatalf("final status = %q, want completed", final.Status)
	}
	if final.ProgressPercent != 100 {
		t.Errorf("final progress = %v, want 100", final.ProgressPercent)
	}
	if final.ArtifactPath == nil {
		t.Fatal("completed job must have an artifact path")
	}
	if final.ErrorMessage != nil {
		t.Errorf("completed job must not carry an error, got %q", *final.ErrorMessage)
	}
	if final.ArtifactSize == 0 {
		t.Error("artifact size not recorded")
	}

	name := filepath.Base(*final.ArtifactPath)
	if !strings.HasPrefix(name, "Test_Video_") {
		t.Errorf("artifact name %q not derived from the probed title", name)
	}
	if _, err := os.Stat(*final.ArtifactPath); err != nil {
		t.Errorf("artifact missing from completed dir: %v", err)
	}

	want := []string{models.StatusPending, models.StatusDownloading, models.StatusCompleted}
	if len(env.store.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", env.store.transitions, want)
	}
	for i, status := range want {
		if env.store.transitions[i] != status {
			t.Fatalf("transitions = %v, want %v", env.store.transitions, want)
		}
	}
}

func TestSubmitRejectsDisallowedHost(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{})

	_, _, err := env.supervisor.Submit(context.Background(),
		"1.2.3.4", models.DownloadRequest{URL: "https://evil.example/video", Format: "mp4", Quality: "best"})

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if len(env.store.jobs) != 0 {
		t.Error("rejected submission must not create a job")
	}
	if w, _ := env.rateStore.GetWindow(context.Background(), "1.2.3.4"); w != nil {
		t.Error("rejected submission must not consume rate limit")
	}
}

func TestSubmitRejectsBadFormat(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{})

	_, _, err := env.supervisor.Submit(context.Background(),
		"1.2.3.4", models.DownloadRequest{URL: "https://youtu.be/abc123", Format: "mkv", Quality: "best"})

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if len(env.store.jobs) != 0 {
		t.Error("rejected submission must not create a job")
	}
}

func TestSubmitRateLimited(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{})
	env.rateStore.setWindow("1.2.3.4", 5, time.Now())

	_, _, err := env.supervisor.Submit(context.Background(),
		"1.2.3.4", models.DownloadRequest{URL: "https://youtu.be/abc123", Format: "mp4", Quality: "best"})

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("error = %v, want *RateLimitError", err)
	}
	if rateErr.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", rateErr.RetryAfter)
	}
	if len(env.store.jobs) != 0 {
		t.Error("rate-limited submission must not create a job")
	}
}

func TestJobFailsOnErrorMarker(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{
		lines: []string{
			"[youtube] abc123: Downloading webpage",
			"ERROR: [youtube] abc123: Video unavailable",
		},
		exitErr: errors.New("exit status 1"),
	})

	job := submitOK(t, env)
	env.store.waitTerminal(t)
	final := env.store.get(job.ID)

	if final.Status != models.StatusFailed {
		t.Fatalf("final status = %q, want failed", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "Video unavailable") {
		t.Errorf("error message not captured from tool output: %v", final.ErrorMessage)
	}
	if final.ArtifactPath != nil {
		t.Error("failed job must not carry an artifact path")
	}
}

func TestJobFailsOnNonZeroExit(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{
		lines:   []string{"download: 40.0% 4.5MiB/11.4MiB"},
		exitErr: errors.New("exit status 1"),
	})

	job := submitOK(t, env)
	env.store.waitTerminal(t)
	final := env.store.get(job.ID)

	if final.Status != models.StatusFailed {
		t.Fatalf("final status = %q, want failed", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "exited with error") {
		t.Errorf("unexpected error message: %v", final.ErrorMessage)
	}
}

func TestJobCompletesDespiteNonZeroExit(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{
		lines: []string{
			"download: 100% 11.4MiB/11.4MiB",
			"[download] 100% of 11.40MiB in 00:12",
		},
		exitErr:        errors.New("exit status 1"),
		createArtifact: true,
	})

	job := submitOK(t, env)
	env.store.waitTerminal(t)
	final := env.store.get(job.ID)

	if final.Status != models.StatusCompleted {
		t.Fatalf("final status = %q, want completed", final.Status)
	}
	if final.ArtifactPath == nil {
		t.Fatal("completed job must have an artifact path")
	}
	if final.ErrorMessage != nil {
		t.Errorf("completed job must not carry an error, got %q", *final.ErrorMessage)
	}
}

func TestJobFailsWhenArtifactMissing(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{
		lines: []string{
			"download: 100% 11.4MiB/11.4MiB",
			"[download] 100% of 11.40MiB in 00:12",
		},
		exitErr:        errors.New("exit status 1"),
		createArtifact: false,
	})

	job := submitOK(t, env)
	env.store.waitTerminal(t)
	final := env.store.get(job.ID)

	if final.Status != models.StatusFailed {
		t.Fatalf("final status = %q, want failed", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "no output file") {
		t.Errorf("unexpected error message: %v", final.ErrorMessage)
	}
}

func TestJobFailsOnStartupTimeout(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{blockUntilCancel: true, exitErr: errors.New("signal: killed")})
	env.supervisor.cfg.StartupTimeout = 50 * time.Millisecond

	job := submitOK(t, env)
	env.store.waitTerminal(t)
	final := env.store.get(job.ID)

	if final.Status != models.StatusFailed {
		t.Fatalf("final status = %q, want failed", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "no output") {
		t.Errorf("unexpected error message: %v", final.ErrorMessage)
	}
}

func TestJobFailsWhenToolCannotStart(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{startErr: errors.New("executable not found")})

	job := submitOK(t, env)
	env.store.waitTerminal(t)
	final := env.store.get(job.ID)

	if final.Status != models.StatusFailed {
		t.Fatalf("final status = %q, want failed", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "could not start") {
		t.Errorf("unexpected error message: %v", final.ErrorMessage)
	}
}

func TestProgressClampedToPreviousMax(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{
		lines: []string{
			"download: 50.0% 5.7MiB/11.4MiB",
			"download: 30.0% 3.4MiB/11.4MiB",
			"download: 80.0% 9.1MiB/11.4MiB",
			"[download] 100% of 11.40MiB in 00:12",
		},
		createArtifact: true,
	})

	job := submitOK(t, env)
	env.store.waitTerminal(t)

	env.store.mu.Lock()
	progress := append([]float64(nil), env.store.progress...)
	env.store.mu.Unlock()

	want := []float64{50, 80, 100}
	if len(progress) != len(want) {
		t.Fatalf("persisted progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("persisted progress = %v, want %v", progress, want)
		}
	}
	if len(env.store.illegal) != 0 {
		t.Errorf("illegal store writes: %v", env.store.illegal)
	}
	_ = job
}

func TestTransitionsLegalUnderEventPermutations(t *testing.T) {
	base := []string{
		"[youtube] abc123: Downloading webpage",
		"download: 50.0% 5.7MiB/11.4MiB",
		"ERROR: [youtube] abc123: fragment not found",
		"[download] 100% of 11.40MiB in 00:12",
	}

	for _, order := range permutations(len(base)) {
		lines := make([]string, len(base))
		for i, idx := range order {
			lines[i] = base[idx]
		}

		t.Run(strings.Join(lines, "|"), func(t *testing.T) {
			env := newTestEnv(t, &fakeRunner{lines: lines, createArtifact: true})

			job := submitOK(t, env)
			env.store.waitTerminal(t)
			final := env.store.get(job.ID)

			if !final.Terminal() {
				t.Fatalf("job did not terminate, status %q", final.Status)
			}
			if len(env.store.illegal) != 0 {
				t.Errorf("illegal transitions under order %v: %v", order, env.store.illegal)
			}
			// The error marker is present in every permutation, so the job
			// must end up failed with exactly one of the terminal fields set.
			if final.Status != models.StatusFailed {
				t.Errorf("final status = %q, want failed", final.Status)
			}
			if final.ErrorMessage == nil || final.ArtifactPath != nil {
				t.Error("failed job must carry an error message and no artifact")
			}
		})
	}
}

func TestCancelRunningJob(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{blockUntilCancel: true, exitErr: errors.New("signal: killed")})
	env.supervisor.cfg.StartupTimeout = time.Minute

	job := submitOK(t, env)

	// Wait until the job registers its cancel func.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := env.supervisor.Cancel(job.ID); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never became cancellable")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.store.waitTerminal(t)
	final := env.store.get(job.ID)
	if final.Status != models.StatusFailed {
		t.Errorf("cancelled job status = %q, want failed", final.Status)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{})
	if err := env.supervisor.Cancel("no-such-job"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Cancel on unknown job = %v, want ErrNotRunning", err)
	}
}

func submitOK(t *testing.T, env *testEnv) *models.Job {
	t.Helper()
	job, _, err := env.supervisor.Submit(context.Background(),
		"1.2.3.4", models.DownloadRequest{URL: "https://youtu.be/abc123", Format: "mp4", Quality: "best"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return job
}

// permutations returns all orderings of n indices.
func permutations(n int) [][]int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	var out [][]int
	var permute func(k int)
	permute = func(k int) {
		if k == n {
			out = append(out, append([]int(nil), indices...))
			return
		}
		for i := k; i < n; i++ {
			indices[k], indices[i] = indices[i], indices[k]
			permute(k + 1)
			indices[k], indices[i] = indices[i], indices[k]
		}
	}
	permute(0)
	return out
}
