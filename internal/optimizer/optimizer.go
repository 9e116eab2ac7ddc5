// Package optimizer invokes the external parameter search and the optional
// walk-forward verifier as child processes. The exit code and text output are
// the whole contract; a failed run never halts the calling session.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Command         string // executable plus fixed args, empty disables
	Timeout         time.Duration
	Trials          int
	VerifierCommand string
}

// Result is the typed outcome of one child process run.
type Result struct {
	Skipped  bool
	ExitCode int
	TimedOut bool
	Output   string
	Duration time.Duration
}

// Ok reports whether the run completed cleanly.
func (r Result) Ok() bool {
	return !r.Skipped && !r.TimedOut && r.ExitCode == 0
}

type Runner struct {
	cfg Config
}

func New(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// Trials returns the configured trial budget.
func (r *Runner) Trials() int { return r.cfg.Trials }

// Optimize runs the external optimizer against a trade log, blocking until it
// exits or times out. With no command configured the run is skipped.
func (r *Runner) Optimize(ctx context.Context, tradeLogPath string, trials int) Result {
	if r.cfg.Command == "" {
		log.Debug().Msg("no optimizer command configured, skipping")
		return Result{Skipped: true}
	}
	args := []string{"--trade-log", tradeLogPath, "--trials", strconv.Itoa(trials)}
	res := r.run(ctx, r.cfg.Command, args)
	evt := log.Info()
	if !res.Ok() {
		evt = log.Warn()
	}
	evt.Int("exit_code", res.ExitCode).
		Bool("timed_out", res.TimedOut).
		Dur("took", res.Duration).
		Int("trials", trials).
		Msg("optimizer run finished")
	return res
}

// Verify runs the walk-forward verifier against a strategy artifact. Failures
// are reported, never fatal.
func (r *Runner) Verify(ctx context.Context, artifactPath string) Result {
	if r.cfg.VerifierCommand == "" {
		return Result{Skipped: true}
	}
	res := r.run(ctx, r.cfg.VerifierCommand, []string{"--artifact", artifactPath})
	if !res.Ok() {
		log.Warn().
			Int("exit_code", res.ExitCode).
			Bool("timed_out", res.TimedOut).
			Msg("walk-forward verification failed")
	}
	return res
}

func (r *Runner) run(ctx context.Context, command string, extra []string) Result {
	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(command)
	args := append(parts[1:], extra...)
	cmd := exec.CommandContext(ctx, parts[0], args...)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	res := Result{
		Output:   string(out),
		Duration: time.Since(start),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else if !res.TimedOut {
			res.ExitCode = -1
			res.Output = fmt.Sprintf("%s%v", res.Output, err)
		} else {
			res.ExitCode = -1
		}
	}
	return res
}
