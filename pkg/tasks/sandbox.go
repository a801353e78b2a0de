package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievoice/charlie/pkg/logger"
)

// SandboxConfig bounds one execution.
type SandboxConfig struct {
	Root           string
	FilesRoot      string
	Timeout        time.Duration
	MaxOutputBytes int
	MaxMemoryBytes int64
	MaxCPUPercent  float64
}

func (c SandboxConfig) withDefaults() SandboxConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 64000
	}
	if c.MaxMemoryBytes <= 0 {
		c.MaxMemoryBytes = 512 << 20
	}
	if c.MaxCPUPercent <= 0 {
		c.MaxCPUPercent = 50
	}
	return c
}

// Sandbox executes one validated task at a time per request: an
// ephemeral working directory, a wall-clock timeout that kills the
// whole process tree, bounded output capture, and cleanup on every
// exit path.
type Sandbox struct {
	cfg   SandboxConfig
	audit *AuditLog
}

func NewSandbox(cfg SandboxConfig, audit *AuditLog) *Sandbox {
	return &Sandbox{cfg: cfg.withDefaults(), audit: audit}
}

// Run drives a queued request through Running to a terminal status and
// appends the audit row. It never returns a non-terminal result.
func (s *Sandbox) Run(ctx context.Context, req *Request, spec TypeSpec) Result {
	started := time.Now()
	req.Status = StatusRunning

	result := s.execute(ctx, req, spec)
	result.TaskID = req.ID
	result.StartedAt = started
	result.FinishedAt = time.Now()
	result.DurationMS = result.FinishedAt.Sub(started).Milliseconds()
	req.Status = result.Status

	if err := s.audit.Append(ctx, AuditEntry{
		TaskID:     req.ID,
		UserID:     req.UserID,
		Type:       req.Type,
		Params:     req.Params,
		Status:     result.Status,
		DurationMS: result.DurationMS,
		Output:     result.Output,
		Stderr:     result.Stderr,
		Error:      result.Error,
	}); err != nil {
		logger.ErrorCF("sandbox", "audit append failed", map[string]interface{}{
			"task_id": req.ID,
			"error":   err.Error(),
		})
	}
	return result
}

func (s *Sandbox) execute(ctx context.Context, req *Request, spec TypeSpec) Result {
	if err := os.MkdirAll(s.cfg.Root, 0o755); err != nil {
		return Result{Status: StatusFailed, Error: "allocate sandbox root: " + err.Error()}
	}
	workDir, err := os.MkdirTemp(s.cfg.Root, "task-")
	if err != nil {
		return Result{Status: StatusFailed, Error: "allocate work dir: " + err.Error()}
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.WarnCF("sandbox", "work dir cleanup failed", map[string]interface{}{
				"task_id": req.ID,
				"dir":     workDir,
			})
		}
	}()

	env := ExecEnv{WorkDir: workDir, FilesRoot: s.cfg.FilesRoot}
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if spec.Native != nil {
		return s.runNative(runCtx, spec, env, req.Params)
	}
	return s.runCommand(runCtx, spec, env, req.Params)
}

func (s *Sandbox) runNative(ctx context.Context, spec TypeSpec, env ExecEnv, params map[string]string) Result {
	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := spec.Native(ctx, env, params)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				return Result{Status: StatusTimedOut, Error: "execution exceeded deadline"}
			}
			return Result{Status: StatusFailed, Error: o.err.Error()}
		}
		return Result{Status: StatusSucceeded, Output: truncate(o.output, s.cfg.MaxOutputBytes)}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Status: StatusTimedOut, Error: "execution exceeded deadline"}
		}
		return Result{Status: StatusFailed, Error: "execution cancelled"}
	}
}

func (s *Sandbox) runCommand(ctx context.Context, spec TypeSpec, env ExecEnv, params map[string]string) Result {
	argv, err := spec.Command(env, params)
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = env.WorkDir
	// Minimal environment; the task sees only its own directory.
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=" + env.WorkDir, "TMPDIR=" + env.WorkDir}
	setProcGroup(cmd)

	outCapture := &boundedBuffer{max: s.cfg.MaxOutputBytes}
	errCapture := &boundedBuffer{max: s.cfg.MaxOutputBytes}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Status: StatusFailed, Error: "create stdout pipe: " + err.Error()}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{Status: StatusFailed, Error: "create stderr pipe: " + err.Error()}
	}

	if err := cmd.Start(); err != nil {
		return Result{Status: StatusFailed, Error: "start process: " + err.Error()}
	}

	var memKilled atomic.Bool
	monStop := make(chan struct{})
	defer close(monStop)
	go s.monitorProcess(cmd.Process.Pid, monStop, func() {
		memKilled.Store(true)
		killProcessGroup(cmd)
	})

	var streams sync.WaitGroup
	streams.Add(2)
	go func() { defer streams.Done(); outCapture.consume(stdout) }()
	go func() { defer streams.Done(); errCapture.consume(stderr) }()

	waitErr := make(chan error, 1)
	go func() {
		streams.Wait()
		waitErr <- cmd.Wait()
	}()

	select {
	case err := <-waitErr:
		if memKilled.Load() {
			return Result{
				Status:   StatusFailed,
				ExitCode: -1,
				Output:   outCapture.String(),
				Stderr:   errCapture.String(),
				Error:    fmt.Sprintf("memory limit exceeded (%d MB)", s.cfg.MaxMemoryBytes>>20),
			}
		}
		if err != nil {
			exitCode := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
			return Result{
				Status:   StatusFailed,
				ExitCode: exitCode,
				Output:   outCapture.String(),
				Stderr:   errCapture.String(),
				Error:    fmt.Sprintf("process exited: %v", err),
			}
		}
		return Result{Status: StatusSucceeded, Output: outCapture.String(), Stderr: errCapture.String()}
	case <-ctx.Done():
		// Kill the whole process group so no orphan survives, then wait
		// for Wait to reap the child.
		killProcessGroup(cmd)
		<-waitErr
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{
				Status:   StatusTimedOut,
				ExitCode: -1,
				Output:   outCapture.String(),
				Stderr:   errCapture.String(),
				Error:    "execution exceeded deadline",
			}
		}
		return Result{Status: StatusFailed, ExitCode: -1, Error: "execution cancelled"}
	}
}

const monitorInterval = 100 * time.Millisecond

// monitorProcess samples the child's resident memory and CPU time.
// Exceeding the memory ceiling kills the process group; CPU over-use is
// logged but not fatal. Sampling is a no-op on platforms without /proc.
func (s *Sandbox) monitorProcess(pid int, stop <-chan struct{}, onMemExceeded func()) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	var lastJiffies int64 = -1
	cpuWarned := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if rss, ok := processRSS(pid); ok && rss > s.cfg.MaxMemoryBytes {
				logger.WarnCF("sandbox", "memory limit exceeded, killing process group", map[string]interface{}{
					"pid":       pid,
					"rss_bytes": rss,
					"limit":     s.cfg.MaxMemoryBytes,
				})
				onMemExceeded()
				return
			}
			jiffies, ok := processCPUJiffies(pid)
			if !ok {
				continue
			}
			if lastJiffies >= 0 && !cpuWarned {
				// Jiffies are 1/100s on every mainstream kernel config.
				busyPercent := float64(jiffies-lastJiffies) / monitorInterval.Seconds()
				if busyPercent > s.cfg.MaxCPUPercent {
					cpuWarned = true
					logger.WarnCF("sandbox", "high cpu usage", map[string]interface{}{
						"pid":         pid,
						"cpu_percent": busyPercent,
						"limit":       s.cfg.MaxCPUPercent,
					})
				}
			}
			lastJiffies = jiffies
		}
	}
}

// boundedBuffer captures the newest maxBytes of one output stream.
type boundedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *boundedBuffer) consume(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			b.append(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

func (b *boundedBuffer) append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, chunk...)
	if b.max > 0 && len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func truncate(text string, max int) string {
	if max > 0 && len(text) > max {
		return text[:max]
	}
	return text
}
