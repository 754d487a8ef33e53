// Package sandbox executes short-lived witness processes under optional
// isolation. Two executors share one contract: DirectExecutor runs on the
// host, ContainerExecutor wraps the process in docker or podman with
// network, filesystem, and resource constraints. Either way the result
// distinguishes "the process ran and exited" from "the infrastructure
// broke", because callers gate CI on that difference.
package sandbox

import (
	"context"
	"time"
)

// Mode selects the isolation strategy.
type Mode string

const (
	// ModeNone runs the process directly on the host.
	ModeNone Mode = "none"

	// ModeContainer runs the process in a docker/podman container.
	ModeContainer Mode = "container"
)

// Command is one process to execute.
type Command struct {
	Binary string   `json:"binary"`
	Args   []string `json:"args,omitempty"`

	// Workdir is the working directory; empty uses the executor default.
	Workdir string `json:"workdir,omitempty"`

	// Env is the complete environment in KEY=VALUE form. The caller owns
	// precedence; executors pass it through verbatim.
	Env []string `json:"env,omitempty"`

	// Stdin is fed to the process's standard input when non-empty.
	Stdin string `json:"stdin,omitempty"`

	Limits *ResourceLimits `json:"limits,omitempty"`
	Policy *Policy         `json:"policy,omitempty"`
}

// CommandString renders the command for logs.
func (c Command) CommandString() string {
	out := c.Binary
	for _, arg := range c.Args {
		out += " " + arg
	}
	return out
}

// ResourceLimits caps what an execution may consume.
type ResourceLimits struct {
	// TimeoutMs is the hard wall-clock limit; on expiry the process is
	// force-terminated. Zero uses the executor default.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`

	// MemoryMB caps memory (container mode only).
	MemoryMB int64 `json:"memory_mb,omitempty"`

	// MaxOutputBytes caps captured stdout+stderr. Zero uses the default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`

	// MaxProcesses caps child process count (container mode only).
	MaxProcesses int `json:"max_processes,omitempty"`

	// NetworkAllowed permits network access. Default is no network.
	NetworkAllowed bool `json:"network_allowed,omitempty"`
}

// Policy is the isolation configuration for one execution.
type Policy struct {
	Mode Mode `json:"mode"`

	// Image is the container image (container mode).
	Image string `json:"image,omitempty"`

	// ReadOnlyRoot mounts the container root filesystem read-only, with a
	// writable tmpfs on /tmp.
	ReadOnlyRoot bool `json:"read_only_root,omitempty"`

	// TmpfsSize sizes the /tmp tmpfs (e.g. "64m").
	TmpfsSize string `json:"tmpfs_size,omitempty"`

	// WritablePaths and ReadOnlyPaths narrow the mount scope: each path is
	// bind-mounted at the same location inside the container.
	WritablePaths []string `json:"writable_paths,omitempty"`
	ReadOnlyPaths []string `json:"read_only_paths,omitempty"`

	// DropCapabilities lists Linux capabilities to drop; ["ALL"] drops
	// everything.
	DropCapabilities []string `json:"drop_capabilities,omitempty"`

	// NoNewPrivileges blocks privilege escalation.
	NoNewPrivileges bool `json:"no_new_privileges,omitempty"`

	// User runs the process as user[:group].
	User string `json:"user,omitempty"`

	// EnvFile is an optional KEY=VALUE file loaded into the environment
	// before Command.Env.
	EnvFile string `json:"env_file,omitempty"`
}

// ExecutionResult reports one completed (or failed) execution.
//
// Success=true means the infrastructure worked: the process started and
// either exited (any code) or was killed on timeout. Success=false is an
// infra error: the process could not run at all.
type ExecutionResult struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`

	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Killed marks forced termination; KillReason says why.
	Killed     bool   `json:"killed"`
	KillReason string `json:"kill_reason,omitempty"`

	Truncated      bool  `json:"truncated"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	// Error carries the infrastructure failure message when Success=false.
	Error string `json:"error,omitempty"`

	// SandboxUsed records which mode actually ran the process.
	SandboxUsed Mode `json:"sandbox_used"`
}

// IsInfraError reports whether the execution infrastructure failed or the
// process was killed before completing (timeouts included).
func (r *ExecutionResult) IsInfraError() bool {
	return !r.Success || r.Error != "" || r.Killed
}

// Executor runs commands under one isolation strategy.
type Executor interface {
	// Name identifies the executor implementation.
	Name() string

	// Validate reports whether this executor can run the command.
	Validate(cmd Command) error

	// Execute runs the command to completion or timeout. The error return
	// is for unusable commands; runtime failures land in the result.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)
}

// Config holds executor defaults.
type Config struct {
	DefaultWorkdir string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int64

	// PassEnvironment lists host variables forwarded when a command
	// supplies no environment of its own.
	PassEnvironment []string

	// DefaultImage is used in container mode when the policy names none.
	DefaultImage string

	DefaultLimits *ResourceLimits
	DefaultPolicy *Policy
}

// DefaultConfig returns the baseline executor configuration.
func DefaultConfig() Config {
	return Config{
		DefaultWorkdir:  ".",
		DefaultTimeout:  30 * time.Second,
		MaxTimeout:      10 * time.Minute,
		MaxOutputBytes:  10 * 1024 * 1024,
		PassEnvironment: []string{"PATH", "HOME", "USER"},
		DefaultImage:    "alpine:latest",
		DefaultLimits: &ResourceLimits{
			TimeoutMs:      30000,
			MaxOutputBytes: 10 * 1024 * 1024,
		},
	}
}

// Merge applies config defaults to a command. Command settings win.
func (c Config) Merge(cmd Command) Command {
	result := cmd

	if result.Workdir == "" {
		result.Workdir = c.DefaultWorkdir
	}

	if result.Limits == nil && c.DefaultLimits != nil {
		limits := *c.DefaultLimits
		result.Limits = &limits
	} else if result.Limits != nil && c.DefaultLimits != nil {
		if result.Limits.TimeoutMs == 0 {
			result.Limits.TimeoutMs = c.DefaultLimits.TimeoutMs
		}
		if result.Limits.MaxOutputBytes == 0 {
			result.Limits.MaxOutputBytes = c.DefaultLimits.MaxOutputBytes
		}
	}

	if result.Limits != nil && c.MaxTimeout > 0 {
		maxMs := int64(c.MaxTimeout / time.Millisecond)
		if result.Limits.TimeoutMs > maxMs {
			result.Limits.TimeoutMs = maxMs
		}
	}

	if result.Policy == nil && c.DefaultPolicy != nil {
		policy := *c.DefaultPolicy
		result.Policy = &policy
	}

	return result
}

// timeoutFor resolves the effective wall-clock limit for a merged command.
func (c Config) timeoutFor(cmd Command) time.Duration {
	if cmd.Limits != nil && cmd.Limits.TimeoutMs > 0 {
		return time.Duration(cmd.Limits.TimeoutMs) * time.Millisecond
	}
	return c.DefaultTimeout
}

// outputCapFor resolves the effective output cap for a merged command.
func (c Config) outputCapFor(cmd Command) int64 {
	if cmd.Limits != nil && cmd.Limits.MaxOutputBytes > 0 {
		return cmd.Limits.MaxOutputBytes
	}
	return c.MaxOutputBytes
}
