// Package reason invokes the reasoning engine for a task and turns its
// textual output into a validated proposed action. The engine is an external
// CLI treated as opaque: prompt in, text out.
package reason

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Engine produces a textual response for a prompt.
type Engine interface {
	Propose(ctx context.Context, prompt string) (string, error)
}

// CLIEngine shells out to a reasoning CLI in non-interactive mode. The
// prompt travels through a temp file fed to stdin; the file is removed on
// every path, including timeout.
type CLIEngine struct {
	Command string
	Model   string
	Timeout time.Duration
	WorkDir string
	Logger  *slog.Logger
}

// NewCLIEngine builds an engine with the configured command and model.
func NewCLIEngine(command, model string, timeout time.Duration, workDir string, logger *slog.Logger) *CLIEngine {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &CLIEngine{
		Command: command,
		Model:   model,
		Timeout: timeout,
		WorkDir: workDir,
		Logger:  logger,
	}
}

func (e *CLIEngine) Propose(ctx context.Context, prompt string) (string, error) {
	tmp, err := os.CreateTemp("", "deskhand-prompt-*.txt")
	if err != nil {
		return "", fmt.Errorf("create prompt file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(prompt); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write prompt file: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("rewind prompt file: %w", err)
	}
	defer tmp.Close()

	runCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.Command, "--print", "--model", e.Model)
	cmd.Stdin = tmp
	cmd.Dir = e.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.Logger.Debug("invoking reasoning engine", "command", e.Command, "model", e.Model)
	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("reasoning engine timed out after %s", e.Timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("reasoning engine failed: %s", msg)
	}

	response := strings.TrimSpace(stdout.String())
	e.Logger.Debug("reasoning engine responded", "elapsed", elapsed, "chars", len(response))
	return response, nil
}
