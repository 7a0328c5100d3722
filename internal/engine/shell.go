package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/pkg/schema"
)

// maxShellOutputSize bounds captured stdout/stderr per stream.
const maxShellOutputSize = 10 * 1024 * 1024 // 10MB

// runShell executes a single shell command with the given timeout and
// returns the {stdout, stderr, return_code} payload. A non-zero exit is a
// failure carrying the combined output; a timeout is a failure. The timeout
// fires at the command boundary: no mid-execution cancellation beyond
// killing the process.
func runShell(ctx context.Context, command string, timeoutSeconds int) (map[string]any, error) {
	timeout := time.Duration(timeoutSeconds) * time.Second
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", command)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: maxShellOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxShellOutputSize}

	runErr := cmd.Run()

	if execCtx.Err() == context.DeadlineExceeded {
		return nil, schema.NewErrorf(schema.ErrCodeTimeout,
			"shell command timed out after %ds", timeoutSeconds)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Non-exit error, e.g. the shell itself could not be started.
			return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
				"shell command execution failed: %v", runErr).WithCause(runErr)
		}
	}

	output := map[string]any{
		"stdout":      stdoutBuf.String(),
		"stderr":      stderrBuf.String(),
		"return_code": exitCode,
	}

	if exitCode != 0 {
		detail := stderrBuf.String()
		if detail == "" {
			detail = stdoutBuf.String()
		}
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
			"shell command failed with exit code %d: %s", exitCode, detail)
	}

	return output, nil
}

// limitedWriter wraps a writer and silently discards bytes beyond the limit.
// Write always reports the full len(p) consumed to prevent the subprocess
// from blocking on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
