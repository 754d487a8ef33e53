package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mrlecko/truth-capsules-sub001/internal/logging"
)

// ContainerExecutor wraps each process in a docker or podman container.
// The engine binary is detected once at construction.
type ContainerExecutor struct {
	config     Config
	enginePath string
	engineName string
}

func NewContainerExecutor() *ContainerExecutor {
	return NewContainerExecutorWithConfig(DefaultConfig())
}

func NewContainerExecutorWithConfig(config Config) *ContainerExecutor {
	e := &ContainerExecutor{config: config}
	e.detectEngine()
	return e
}

// detectEngine locates a usable container engine, docker first.
func (e *ContainerExecutor) detectEngine() {
	for _, name := range []string{"docker", "podman"} {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = exec.CommandContext(ctx, path, "version").Run()
		cancel()
		if err != nil {
			continue
		}
		e.enginePath = path
		e.engineName = name
		logging.Sandbox("container engine: %s (%s)", name, path)
		return
	}
	logging.SandboxWarn("no container engine found; container mode unavailable")
}

// IsAvailable reports whether a container engine was found.
func (e *ContainerExecutor) IsAvailable() bool { return e.enginePath != "" }

func (e *ContainerExecutor) Name() string {
	if e.engineName != "" {
		return e.engineName
	}
	return "container"
}

func (e *ContainerExecutor) Validate(cmd Command) error {
	if !e.IsAvailable() {
		return fmt.Errorf("no container engine available")
	}
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if cmd.Policy == nil || cmd.Policy.Mode != ModeContainer {
		return fmt.Errorf("container executor requires a container-mode policy")
	}
	return nil
}

// Execute runs the command inside a fresh container. Timeout and error
// classification mirror DirectExecutor so callers treat the two modes
// identically.
func (e *ContainerExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "container execution")
	defer timer.Stop()

	if err := e.Validate(cmd); err != nil {
		return nil, err
	}
	cmd = e.config.Merge(cmd)

	result := &ExecutionResult{ExitCode: -1, SandboxUsed: ModeContainer}

	args := e.buildRunArgs(cmd)
	logging.SandboxDebug("%s %s", e.engineName, strings.Join(args, " "))

	timeout := e.config.timeoutFor(cmd)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, e.enginePath, args...)
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
	}

	classifyRunError(result, runErr, execCtx, timeout)

	logging.Sandbox("container run: %s -> exit=%d killed=%v duration=%s",
		cmd.Binary, result.ExitCode, result.Killed, result.Duration)
	return result, nil
}

// buildRunArgs assembles the engine's run invocation from the policy and
// limits. Network defaults to none; the caller must opt in.
func (e *ContainerExecutor) buildRunArgs(cmd Command) []string {
	args := []string{"run", "--rm"}

	policy := cmd.Policy
	if policy == nil {
		policy = &Policy{Mode: ModeContainer}
	}

	image := policy.Image
	if image == "" {
		image = e.config.DefaultImage
	}

	network := "none"
	if cmd.Limits != nil && cmd.Limits.NetworkAllowed {
		network = "bridge"
	}
	args = append(args, "--network", network)

	if policy.ReadOnlyRoot {
		args = append(args, "--read-only")
	}
	if policy.ReadOnlyRoot || policy.TmpfsSize != "" {
		size := policy.TmpfsSize
		if size == "" {
			size = "64m"
		}
		args = append(args, "--tmpfs", "/tmp:size="+size)
	}
	if policy.NoNewPrivileges {
		args = append(args, "--security-opt", "no-new-privileges")
	}
	for _, capability := range policy.DropCapabilities {
		args = append(args, "--cap-drop", capability)
	}
	if policy.User != "" {
		args = append(args, "--user", policy.User)
	}
	for _, path := range policy.WritablePaths {
		args = append(args, "-v", fmt.Sprintf("%s:%s:rw", path, path))
	}
	for _, path := range policy.ReadOnlyPaths {
		args = append(args, "-v", fmt.Sprintf("%s:%s:ro", path, path))
	}
	if policy.EnvFile != "" {
		args = append(args, "--env-file", policy.EnvFile)
	}

	if cmd.Workdir != "" {
		args = append(args, "-w", cmd.Workdir)
	}
	for _, kv := range cmd.Env {
		args = append(args, "-e", kv)
	}

	if cmd.Limits != nil {
		if cmd.Limits.MemoryMB > 0 {
			args = append(args, "--memory", fmt.Sprintf("%dm", cmd.Limits.MemoryMB))
		}
		if cmd.Limits.MaxProcesses > 0 {
			args = append(args, "--pids-limit", fmt.Sprintf("%d", cmd.Limits.MaxProcesses))
		}
	}

	if cmd.Stdin != "" {
		args = append(args, "-i")
	}

	args = append(args, image, cmd.Binary)
	args = append(args, cmd.Args...)
	return args
}
