package command

import (
	"context"
	"testing"
	"time"

	"github.com/enactprotocol/enact-go/internal/ports"
)

func TestRealRunner_Run_Success(t *testing.T) {
	runner := NewRealRunner()

	result, err := runner.Run(context.Background(), ports.CommandSpec{
		Name: "echo", Args: []string{"hello"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success() {
		t.Error("Run() should succeed for 'echo hello'")
	}
	if result.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hello\n")
	}
}

func TestRealRunner_Run_NonzeroExit(t *testing.T) {
	runner := NewRealRunner()

	result, err := runner.Run(context.Background(), ports.CommandSpec{Name: "false"})
	if err != nil {
		t.Fatalf("Run() error = %v (should return result with exit code, not error)", err)
	}
	if result.Success() {
		t.Error("Run() should fail for 'false' command")
	}
	if result.ExitCode == 0 {
		t.Error("ExitCode should be non-zero for 'false' command")
	}
}

func TestRealRunner_Run_NotFound(t *testing.T) {
	runner := NewRealRunner()

	_, err := runner.Run(context.Background(), ports.CommandSpec{Name: "nonexistent-command-12345"})
	if err == nil {
		t.Error("Run() should return error for non-existent command")
	}
}

func TestRealRunner_Run_Stderr(t *testing.T) {
	runner := NewRealRunner()

	result, err := runner.Run(context.Background(), ports.CommandSpec{
		Name: "sh", Args: []string{"-c", "echo error >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if result.Stderr != "error\n" {
		t.Errorf("Stderr = %q, want %q", result.Stderr, "error\n")
	}
}

func TestRealRunner_Run_Env(t *testing.T) {
	runner := NewRealRunner()

	result, err := runner.Run(context.Background(), ports.CommandSpec{
		Name: "sh", Args: []string{"-c", "echo $GREETING"},
		Env: []string{"GREETING=hi there", "PATH=/usr/bin:/bin"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Stdout != "hi there\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hi there\n")
	}
}

func TestRealRunner_Run_Stdin(t *testing.T) {
	runner := NewRealRunner()

	result, err := runner.Run(context.Background(), ports.CommandSpec{
		Name: "cat", Stdin: "piped input",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Stdout != "piped input" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "piped input")
	}
}

func TestRealRunner_Run_DeadlineKillsProcessGroup(t *testing.T) {
	runner := NewRealRunner()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := runner.Run(ctx, ports.CommandSpec{
		Name: "sh", Args: []string{"-c", "sleep 10"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.TimedOut {
		t.Error("TimedOut should be true after deadline expiry")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("process was not killed promptly, took %v", elapsed)
	}
}

func TestRealRunner_Run_Cancellation(t *testing.T) {
	runner := NewRealRunner()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := runner.Run(ctx, ports.CommandSpec{
		Name: "sh", Args: []string{"-c", "sleep 10"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TimedOut {
		t.Error("explicit cancellation must not be classified as timeout")
	}
	if result.ExitCode == 0 {
		t.Error("cancelled process should not report success")
	}
}
