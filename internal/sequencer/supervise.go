package sequencer

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// SessionOutcome is the typed result of one supervised trading session, so
// callers can tell a session terminated on schedule from one that crashed.
type SessionOutcome struct {
	Started    bool
	Terminated bool // we sent SIGTERM after the wall-clock budget
	ExitCode   int
	Duration   time.Duration
	Err        error
}

// ProcessSupervisor runs trading sessions as child processes: start, wait the
// wall-clock budget, SIGTERM, await exit. No finer cancellation propagates
// into a running session.
type ProcessSupervisor struct {
	TraderCmd string // trader executable plus fixed args
	Grace     time.Duration
}

func (p *ProcessSupervisor) RunSession(ctx context.Context, cfgPath string, duration time.Duration, label string) SessionOutcome {
	parts := strings.Fields(p.TraderCmd)
	args := append(parts[1:], "-config", cfgPath, "-session", label)
	cmd := exec.Command(parts[0], args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return SessionOutcome{Err: err}
	}
	log.Info().Str("session", label).Dur("budget", duration).Int("pid", cmd.Process.Pid).Msg("session started")

	waitC := make(chan error, 1)
	go func() { waitC <- cmd.Wait() }()

	out := SessionOutcome{Started: true}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case err := <-waitC:
		out.Err = err
	case <-ctx.Done():
		out.Terminated = true
		out.Err = p.terminate(cmd, waitC)
	case <-timer.C:
		out.Terminated = true
		out.Err = p.terminate(cmd, waitC)
	}
	out.Duration = time.Since(start)
	out.ExitCode = cmd.ProcessState.ExitCode()

	evt := log.Info()
	if !out.Terminated && out.ExitCode != 0 {
		evt = log.Warn()
	}
	evt.Str("session", label).
		Bool("terminated", out.Terminated).
		Int("exit_code", out.ExitCode).
		Dur("took", out.Duration).
		Msg("session finished")
	return out
}

// terminate sends SIGTERM and escalates to SIGKILL after the grace period.
func (p *ProcessSupervisor) terminate(cmd *exec.Cmd, waitC <-chan error) error {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	grace := p.Grace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-waitC:
		return err
	case <-timer.C:
		log.Warn().Int("pid", cmd.Process.Pid).Msg("session ignored SIGTERM, killing")
		_ = cmd.Process.Kill()
		return <-waitC
	}
}
