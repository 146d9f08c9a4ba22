package services

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
)

// OutputLine is one line of subprocess output. Stderr lines are tagged so the
// supervisor can surface them in error detection.
type OutputLine struct {
	Text   string
	Stderr bool
}

// ProcessHandle exposes a running subprocess as a finite line stream. The
// stream ends when the process exits; Wait must be called after the stream is
// drained and returns the process's exit error, if any.
type ProcessHandle interface {
	Lines() <-chan OutputLine
	Wait() error
}

// Runner launches the external download tool.
type Runner interface {
	Start(ctx context.Context, name string, args []string, sidecarPath string) (ProcessHandle, error)
}

// ProcessRunner runs commands via os/exec. Arguments are passed as a vector,
// never through a shell. Every output line is appended to a sidecar log as it
// arrives, in addition to being streamed to the caller.
type ProcessRunner struct{}

func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

func (r *ProcessRunner) Start(ctx context.Context, name string, args []string, sidecarPath string) (ProcessHandle, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// Stdin stays unset: exec connects it to /dev/null, no interactive input.

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stderr pipe")
	}

	var sidecar *os.File
	if sidecarPath != "" {
		sidecar, err = os.OpenFile(sidecarPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, errors.Wrap(err, "open sidecar log")
		}
	}

	if err := cmd.Start(); err != nil {
		if sidecar != nil {
			sidecar.Close()
		}
		return nil, errors.Wrapf(err, "start %s", name)
	}

	h := &processHandle{
		cmd:     cmd,
		lines:   make(chan OutputLine, 64),
		sidecar: sidecar,
	}
	h.wg.Add(2)
	go h.scan(stdout, false)
	go h.scan(stderr, true)
	go func() {
		h.wg.Wait()
		if h.sidecar != nil {
			h.sidecar.Close()
		}
		close(h.lines)
	}()

	return h, nil
}

type processHandle struct {
	cmd     *exec.Cmd
	lines   chan OutputLine
	sidecar *os.File
	mu      sync.Mutex
	wg      sync.WaitGroup
}

func (h *processHandle) Lines() <-chan OutputLine {
	return h.lines
}

func (h *processHandle) Wait() error {
	h.wg.Wait()
	return h.cmd.Wait()
}

func (h *processHandle) scan(r io.Reader, isStderr bool) {
	defer h.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		h.logLine(line)
		h.lines <- OutputLine{Text: line, Stderr: isStderr}
	}
}

func (h *processHandle) logLine(line string) {
	if h.sidecar == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sidecar.WriteString(line + "\n")
}
