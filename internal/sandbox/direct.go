package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mrlecko/truth-capsules-sub001/internal/logging"
)

// DirectExecutor runs processes on the host with no isolation beyond the
// timeout and output cap. It is the default for trusted local runs.
type DirectExecutor struct {
	config Config
}

func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultConfig())
}

func NewDirectExecutorWithConfig(config Config) *DirectExecutor {
	return &DirectExecutor{config: config}
}

func (e *DirectExecutor) Name() string { return "direct" }

func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if cmd.Policy != nil && cmd.Policy.Mode != "" && cmd.Policy.Mode != ModeNone {
		return fmt.Errorf("direct executor cannot honor sandbox mode %q", cmd.Policy.Mode)
	}
	return nil
}

// Execute runs the command to completion or timeout. A timeout kill is
// reported with Killed=true but Success=true: the infrastructure worked,
// the process was slow.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "direct execution")
	defer timer.Stop()

	if err := e.Validate(cmd); err != nil {
		return nil, err
	}
	cmd = e.config.Merge(cmd)

	logging.SandboxDebug("executing: %s (dir=%s)", cmd.CommandString(), cmd.Workdir)

	result := &ExecutionResult{ExitCode: -1, SandboxUsed: ModeNone}

	timeout := e.config.timeoutFor(cmd)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Args...)
	execCmd.Dir = cmd.Workdir

	env, err := e.buildEnvironment(cmd)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	execCmd.Env = env

	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	maxOutput := e.config.outputCapFor(cmd)
	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: maxOutput}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	result.StartedAt = time.Now()
	runErr := execCmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.SandboxWarn("output truncated: %d bytes discarded", result.TruncatedBytes)
	}

	classifyRunError(result, runErr, execCtx, timeout)

	logging.Sandbox("completed: %s -> exit=%d killed=%v duration=%s",
		cmd.Binary, result.ExitCode, result.Killed, result.Duration)
	return result, nil
}

// buildEnvironment assembles the process environment. A command-supplied
// environment is authoritative; otherwise the configured passthrough list
// is forwarded from the host. An env file, when configured, loads first so
// explicit entries override it.
func (e *DirectExecutor) buildEnvironment(cmd Command) ([]string, error) {
	var env []string

	if cmd.Policy != nil && cmd.Policy.EnvFile != "" {
		fromFile, err := ParseEnvFile(cmd.Policy.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
		env = append(env, fromFile...)
	}

	if len(cmd.Env) > 0 {
		return append(env, cmd.Env...), nil
	}

	for _, key := range e.config.PassEnvironment {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	return env, nil
}

// classifyRunError translates an exec error into result fields. The
// ordering matters: a deadline hit must be recognized before the generic
// exit-error case, because a killed process also reports an ExitError.
func classifyRunError(result *ExecutionResult, runErr error, execCtx context.Context, timeout time.Duration) {
	if runErr == nil {
		result.Success = true
		result.ExitCode = 0
		return
	}
	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		result.Killed = true
		result.KillReason = fmt.Sprintf("timeout after %s", timeout)
		result.Success = true
	case execCtx.Err() == context.Canceled:
		result.Killed = true
		result.KillReason = "context canceled"
		result.Success = true
	default:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.Success = true
			result.ExitCode = exitErr.ExitCode()
			return
		}
		result.Success = false
		result.Error = runErr.Error()
	}
}

// ParseEnvFile reads KEY=VALUE lines, skipping blanks and # comments.
func ParseEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var env []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "=") {
			return nil, fmt.Errorf("malformed env line %q in %s", line, path)
		}
		env = append(env, line)
	}
	return env, scanner.Err()
}

// limitedWriter caps total bytes written, discarding the overflow while
// reporting full writes upstream to avoid short-write errors.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
