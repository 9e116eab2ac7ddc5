package optimizer

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestEmptyCommandSkips(t *testing.T) {
	r := New(Config{Timeout: time.Second})
	res := r.Optimize(context.Background(), "trades.csv", 10)
	if !res.Skipped {
		t.Fatal("expected skipped result without a command")
	}
	if res.Ok() {
		t.Fatal("skipped run must not count as ok")
	}
}

func TestCleanExit(t *testing.T) {
	r := New(Config{Command: "true", Timeout: time.Second})
	res := r.Optimize(context.Background(), "trades.csv", 10)
	if !res.Ok() {
		t.Fatalf("expected ok result, got %+v", res)
	}
}

func TestNonZeroExitCaptured(t *testing.T) {
	r := New(Config{Command: "false", Timeout: time.Second})
	res := r.Optimize(context.Background(), "trades.csv", 10)
	if res.Ok() || res.ExitCode == 0 {
		t.Fatalf("expected non-zero exit, got %+v", res)
	}
}

func TestOutputAndArgsPassedThrough(t *testing.T) {
	r := New(Config{Command: "echo running", Timeout: time.Second})
	res := r.Optimize(context.Background(), "/tmp/trades.csv", 25)
	if !res.Ok() {
		t.Fatalf("expected ok result, got %+v", res)
	}
	for _, want := range []string{"running", "--trade-log", "/tmp/trades.csv", "--trials", "25"} {
		if !strings.Contains(res.Output, want) {
			t.Fatalf("output %q missing %q", res.Output, want)
		}
	}
}

func TestTimeout(t *testing.T) {
	r := New(Config{Command: "sleep 5", Timeout: 100 * time.Millisecond})
	res := r.Optimize(context.Background(), "trades.csv", 10)
	if !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if res.Ok() {
		t.Fatal("timed out run must not count as ok")
	}
}

func TestVerifySkippedWithoutCommand(t *testing.T) {
	r := New(Config{Command: "true", Timeout: time.Second})
	if res := r.Verify(context.Background(), "strategy.json"); !res.Skipped {
		t.Fatal("expected skipped verification without a verifier command")
	}
}

func TestVerifyRuns(t *testing.T) {
	r := New(Config{VerifierCommand: "true", Timeout: time.Second})
	if res := r.Verify(context.Background(), "strategy.json"); !res.Ok() {
		t.Fatalf("expected ok verification, got %+v", res)
	}
}
