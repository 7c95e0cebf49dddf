// Package executor launches commands as child processes and streams their
// output into run records while they execute.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/repository"
	"github.com/glizzus/cmdcron/internal/run"
	"github.com/glizzus/cmdcron/internal/worker"
)

const (
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultFlushInterval = time.Second

	// finalWriteTimeout bounds the retry of a terminal update.
	finalWriteTimeout = 10 * time.Second
	// waitDelay bounds how long output is drained after the child exits,
	// in case a grandchild keeps the pipes open.
	waitDelay = 5 * time.Second
)

type Config struct {
	PollInterval  time.Duration
	FlushInterval time.Duration
	// RunTimeout kills the child after this long. Zero means no limit.
	RunTimeout time.Duration
}

// ExecutionFault is an error raised by the executor itself rather than
// by the command it runs.
type ExecutionFault struct {
	Stage string
	Err   error
}

func (e *ExecutionFault) Error() string {
	return fmt.Sprintf("execution fault during %s: %v", e.Stage, e.Err)
}

func (e *ExecutionFault) Unwrap() error {
	return e.Err
}

var _ error = (*ExecutionFault)(nil)

// Result is the outcome of one execution.
type Result struct {
	Status   run.Status
	ExitCode int
	Output   string
	Fault    error
}

type Executor struct {
	runs   repository.RunRepository
	cfg    Config
	events worker.EventHandler
	log    *slog.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

type Option func(*Executor)

// WithEvents publishes run.started and run.finished to h.
func WithEvents(h worker.EventHandler) Option {
	return func(e *Executor) { e.events = h }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.log = logger }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func New(runs repository.RunRepository, cfg Config, opts ...Option) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	e := &Executor{
		runs: runs,
		cfg:  cfg,
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start executes argv for the pending run rec in its own goroutine and
// returns immediately. The execution is detached from ctx cancellation;
// use Wait to block until every started execution has finished.
func (e *Executor) Start(ctx context.Context, rec run.Record, argv []string) {
	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Execute(ctx, rec, argv)
	}()
}

// Wait blocks until all executions begun with Start have finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Execute runs argv for the pending run rec and records the outcome.
// Every fault resolves to a Failure record; Execute never panics.
func (e *Executor) Execute(ctx context.Context, rec run.Record, argv []string) (res Result) {
	log := e.log.With("run", rec.ID, "command", rec.CommandName)
	line := command.Quote(argv)
	header := storable("Starting command: "+line+"\n", false)

	defer func() {
		if r := recover(); r != nil {
			fault := &ExecutionFault{Stage: "execution", Err: fmt.Errorf("panic: %v", r)}
			log.Error("executor panicked", "error", fault)
			res = Result{Status: run.StatusFailure, ExitCode: -1, Output: withFault(header, fault), Fault: fault}
			res = e.finish(ctx, log, rec, header, res)
		}
	}()

	if err := e.runs.UpdateRun(ctx, rec.ID, run.Start(header)); err != nil {
		// The run never reached Running, so no child is started.
		fault := &ExecutionFault{Stage: "marking run as running", Err: err}
		log.Error("failed to mark run as running", "error", err)
		res = Result{Status: run.StatusFailure, ExitCode: -1, Output: withFault(header, fault), Fault: fault}
		return e.finish(ctx, log, rec, header, res)
	}
	e.publish(ctx, log, worker.RunEvent{
		Kind:        worker.EventRunStarted,
		RunID:       rec.ID,
		CommandName: rec.CommandName,
		Status:      run.StatusRunning,
		At:          e.now(),
	})

	log.Info("starting command", "argv", line)
	res = e.runProcess(ctx, log, rec.ID, header, argv)
	return e.finish(ctx, log, rec, header, res)
}

func (e *Executor) runProcess(ctx context.Context, log *slog.Logger, runID, header string, argv []string) Result {
	if len(argv) == 0 {
		fault := &ExecutionFault{Stage: "spawn", Err: errors.New("empty command")}
		return Result{Status: run.StatusFailure, ExitCode: -1, Output: withFault(header, fault), Fault: fault}
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if e.cfg.RunTimeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, e.cfg.RunTimeout, errTimedOut)
		defer stop()
	}

	var stdout, stderr outputBuffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		fault := &ExecutionFault{Stage: "spawn", Err: err}
		log.Warn("failed to start command", "error", err)
		return Result{Status: run.StatusFailure, ExitCode: -1, Output: withFault(header, fault), Fault: fault}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	limiter := rate.NewLimiter(rate.Every(e.cfg.FlushInterval), 1)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var (
		waitErr  error
		flushErr error
	)
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-ticker.C:
			if flushErr != nil || !limiter.Allow() {
				continue
			}
			progress := progressOutput(header, stdout.String(), stderr.String())
			if err := e.runs.UpdateRun(ctx, runID, run.Progress(progress)); err != nil {
				flushErr = &ExecutionFault{Stage: "output flush", Err: err}
				log.Error("failed to flush output; stopping command", "error", err)
				cancel(flushErr)
			}
		}
	}

	res := Result{Output: finalOutput(header, stdout.String(), stderr.String())}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	} else {
		res.ExitCode = -1
	}

	var exitErr *exec.ExitError
	switch {
	case flushErr != nil:
		res.Fault = flushErr
	case errors.Is(context.Cause(runCtx), errTimedOut):
		res.Fault = &ExecutionFault{Stage: "execution", Err: fmt.Errorf("%w after %s", errTimedOut, e.cfg.RunTimeout)}
	case waitErr == nil, errors.As(waitErr, &exitErr), errors.Is(waitErr, exec.ErrWaitDelay):
	default:
		res.Fault = &ExecutionFault{Stage: "wait", Err: waitErr}
	}

	switch {
	case res.Fault != nil:
		res.Status = run.StatusFailure
		res.Output = withFault(res.Output, res.Fault)
	case res.ExitCode == 0:
		res.Status = run.StatusSuccess
	default:
		res.Status = run.StatusFailure
		res.Output += fmt.Sprintf("\n\nExit code: %d", res.ExitCode)
	}
	return res
}

var errTimedOut = errors.New("command timed out")

// finish writes the terminal state and returns the result that was
// recorded. A failed write is retried once on a fresh context so a canceled
// caller cannot strand the run as Running. If the retry fails as well, a
// Failure carrying only the header and the write error is recorded instead.
func (e *Executor) finish(ctx context.Context, log *slog.Logger, rec run.Record, header string, res Result) Result {
	update := run.Finish(res.Status, res.Output, e.now())
	if err := e.runs.UpdateRun(ctx, rec.ID, update); err != nil {
		log.Warn("failed to record run result; retrying", "error", err)

		retryCtx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
		defer cancel()
		if err := e.runs.UpdateRun(retryCtx, rec.ID, update); err != nil {
			fault := &ExecutionFault{Stage: "recording result", Err: err}
			log.Error("failed to record run result; recording failure instead", "status", res.Status, "error", err)

			res = Result{Status: run.StatusFailure, ExitCode: res.ExitCode, Output: withFault(header, fault), Fault: fault}
			fallback := run.Finish(res.Status, res.Output, e.now())
			if err := e.runs.UpdateRun(retryCtx, rec.ID, fallback); err != nil {
				log.Error("failed to record run failure", "error", err)
				return res
			}
		}
	}

	log.Info("command finished", "status", res.Status, "exitCode", res.ExitCode)
	e.publish(ctx, log, worker.RunEvent{
		Kind:        worker.EventRunFinished,
		RunID:       rec.ID,
		CommandName: rec.CommandName,
		Status:      res.Status,
		ExitCode:    res.ExitCode,
		At:          e.now(),
	})
	return res
}

func (e *Executor) publish(ctx context.Context, log *slog.Logger, event worker.RunEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.HandleEvents(ctx, event); err != nil {
		log.Warn("failed to publish run event", "kind", event.Kind, "error", err)
	}
}

// progressOutput extends header, so successive snapshots of a running
// command never get shorter.
func progressOutput(header, stdout, stderr string) string {
	return header + "STDOUT (in progress):\n" + storable(stdout, true) +
		"\n\nSTDERR (in progress):\n" + storable(stderr, true)
}

func finalOutput(header, stdout, stderr string) string {
	return header + "STDOUT:\n" + storable(stdout, false) + "\n\nSTDERR:\n" + storable(stderr, false)
}

func withFault(output string, fault error) string {
	return strings.TrimRight(output, "\n") + "\n\nError: " + storable(fault.Error(), false)
}

// storable makes child output safe for a text column: NUL bytes are
// dropped and invalid UTF-8 becomes U+FFFD. With partial set, a trailing
// incomplete sequence is held back since more of it may still arrive.
func storable(s string, partial bool) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if partial {
		for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
			if utf8.RuneStart(s[i]) {
				if !utf8.FullRuneInString(s[i:]) {
					s = s[:i]
				}
				break
			}
		}
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// outputBuffer collects one output stream. Writes come from the exec
// copying goroutine while the flush loop reads snapshots.
type outputBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
