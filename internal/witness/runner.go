package witness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/logging"
	"github.com/mrlecko/truth-capsules-sub001/internal/sandbox"
	"github.com/mrlecko/truth-capsules-sub001/internal/store"
)

const (
	defaultTimeoutMs   = 5000
	defaultParallelism = 4
)

// Config tunes a Runner. Zero values fall back to defaults.
type Config struct {
	Registry *Registry
	Executor sandbox.Executor

	// DefaultTimeoutMs applies when a witness declares no timeout.
	DefaultTimeoutMs int64

	// Parallelism caps concurrent capsules. Witnesses within a capsule
	// always run sequentially in declaration order.
	Parallelism int

	// Policy, when set, wraps every witness in this sandbox policy. The
	// runner narrows the mount scope to the witness workdir and temp dir.
	Policy *sandbox.Policy
}

// Runner executes witness declarations and produces receipts. It never
// turns a witness failure into an error: all declared witnesses run to
// completion and the receipt shows the complete picture.
type Runner struct {
	store    *store.Store
	registry *Registry
	exec     sandbox.Executor
	config   Config
}

// New builds a Runner over a store snapshot. The store may be nil when
// every witness carries inline code.
func New(s *store.Store, cfg Config) *Runner {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Executor == nil {
		cfg.Executor = sandbox.NewDirectExecutor()
	}
	if cfg.DefaultTimeoutMs <= 0 {
		cfg.DefaultTimeoutMs = defaultTimeoutMs
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	return &Runner{store: s, registry: cfg.Registry, exec: cfg.Executor, config: cfg}
}

// Run executes the witnesses of every capsule, in parallel across capsules
// but sequentially within each one. Receipts keep the given capsule order.
func (r *Runner) Run(ctx context.Context, capsules []*capsule.Capsule) *RunReport {
	timer := logging.StartTimer(logging.CategoryWitness, "witness run")
	defer timer.Stop()

	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Capsules:  make([]CapsuleReceipt, len(capsules)),
	}

	g := new(errgroup.Group)
	g.SetLimit(r.config.Parallelism)
	for i, c := range capsules {
		i, c := i, c
		g.Go(func() error {
			report.Capsules[i] = r.RunCapsule(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	logging.Witness("run %s: %d capsules, exit %d", report.RunID, len(capsules), report.ExitCode())
	return report
}

// RunCapsule executes one capsule's witnesses in declaration order. Earlier
// failures never short-circuit later witnesses.
func (r *Runner) RunCapsule(ctx context.Context, c *capsule.Capsule) CapsuleReceipt {
	receipt := CapsuleReceipt{CapsuleID: c.ID}
	for i := range c.Witnesses {
		receipt.WitnessResults = append(receipt.WitnessResults, r.runWitness(ctx, &c.Witnesses[i]))
	}
	receipt.Status = AggregateStatus(receipt.WitnessResults)
	logging.Witness("capsule %s: %s (%d witnesses)", c.ID, receipt.Status, len(receipt.WitnessResults))
	return receipt
}

func infraReceipt(name, format string, args ...interface{}) WitnessReceipt {
	msg := fmt.Sprintf(format, args...)
	logging.WitnessWarn("%s: %s", name, msg)
	return WitnessReceipt{WitnessName: name, Status: StatusSkip, ExitCode: -1, InfraError: msg}
}

func (r *Runner) runWitness(ctx context.Context, w *capsule.WitnessSpec) WitnessReceipt {
	adapter, err := r.registry.Get(w.Language)
	if err != nil {
		return infraReceipt(w.Name, "%v", err)
	}

	code, err := r.witnessCode(w)
	if err != nil {
		return infraReceipt(w.Name, "%v", err)
	}

	// Script and temp dir live in a per-execution directory so no witness
	// can touch another's files.
	tmpdir, err := os.MkdirTemp("", "witness-")
	if err != nil {
		return infraReceipt(w.Name, "creating temp dir: %v", err)
	}
	defer os.RemoveAll(tmpdir)

	script := filepath.Join(tmpdir, "witness"+adapter.Ext)
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		return infraReceipt(w.Name, "writing script: %v", err)
	}

	entrypoint := w.Entrypoint
	if entrypoint == "" {
		entrypoint = adapter.Entrypoint
	}

	workdir := w.Workdir
	if workdir == "" {
		workdir = "."
	}
	workdir, err = filepath.Abs(workdir)
	if err != nil {
		return infraReceipt(w.Name, "resolving workdir: %v", err)
	}

	timeoutMs := w.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = r.config.DefaultTimeoutMs
	}

	cmd := sandbox.Command{
		Binary:  entrypoint,
		Args:    append([]string{script}, w.Args...),
		Workdir: workdir,
		Env:     r.environment(w, tmpdir),
		Stdin:   w.Stdin,
		Limits: &sandbox.ResourceLimits{
			TimeoutMs:      timeoutMs,
			MemoryMB:       w.MemoryMB,
			NetworkAllowed: w.Net,
		},
		Policy: r.policyFor(w, workdir, tmpdir),
	}

	result, err := r.exec.Execute(ctx, cmd)
	if err != nil {
		return infraReceipt(w.Name, "executing: %v", err)
	}

	receipt := WitnessReceipt{
		WitnessName:       w.Name,
		ExitCode:          result.ExitCode,
		Stdout:            result.Stdout,
		Stderr:            result.Stderr,
		DurationMs:        result.Duration.Milliseconds(),
		SandboxProvenance: r.provenanceFor(cmd.Policy),
	}

	if result.Killed {
		receipt.Status = StatusSkip
		receipt.InfraError = result.KillReason
		logging.WitnessWarn("%s killed: %s", w.Name, result.KillReason)
		return receipt
	}
	if !result.Success {
		receipt.Status = StatusSkip
		receipt.InfraError = result.Error
		logging.WitnessWarn("%s infra error: %s", w.Name, result.Error)
		return receipt
	}

	status, err := parseWitnessOutput(result.Stdout)
	if err != nil {
		receipt.Status = StatusSkip
		receipt.InfraError = err.Error()
		return receipt
	}

	if err := checkExitBand(status, result.ExitCode); err != nil {
		receipt.Status = StatusSkip
		receipt.InfraError = err.Error()
		return receipt
	}

	receipt.Status = status
	return receipt
}

func (r *Runner) witnessCode(w *capsule.WitnessSpec) (string, error) {
	if w.Code != "" {
		return w.Code, nil
	}
	if r.store == nil {
		return "", fmt.Errorf("witness %q uses code_ref but no store is attached", w.Name)
	}
	return r.store.WitnessCode(w)
}

// environment builds the process environment: a deterministic baseline,
// then capsule-declared variables, with OS-level variables of the same
// name winning so fixtures can be retargeted without editing capsules.
func (r *Runner) environment(w *capsule.WitnessSpec, tmpdir string) []string {
	merged := map[string]string{
		"TZ":             "UTC",
		"LANG":           "C.UTF-8",
		"LC_ALL":         "C.UTF-8",
		"PYTHONHASHSEED": "0",
		"TMPDIR":         tmpdir,
	}
	if path := os.Getenv("PATH"); path != "" {
		merged["PATH"] = path
	}
	for key, value := range w.Env {
		merged[key] = value
		if osValue, ok := os.LookupEnv(key); ok {
			merged[key] = osValue
		}
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+merged[key])
	}
	return env
}

// policyFor narrows the configured sandbox policy to this witness: the
// workdir is mounted per fs_mode, the temp dir always read-write.
func (r *Runner) policyFor(w *capsule.WitnessSpec, workdir, tmpdir string) *sandbox.Policy {
	if r.config.Policy == nil {
		return nil
	}
	policy := *r.config.Policy
	policy.WritablePaths = append([]string{tmpdir}, policy.WritablePaths...)
	if w.FSMode == capsule.FSReadWrite {
		policy.WritablePaths = append(policy.WritablePaths, workdir)
	} else {
		policy.ReadOnlyPaths = append([]string{workdir}, policy.ReadOnlyPaths...)
	}
	return &policy
}

func (r *Runner) provenanceFor(policy *sandbox.Policy) *SandboxProvenance {
	if policy == nil {
		return &SandboxProvenance{Mode: string(sandbox.ModeNone), Executor: r.exec.Name()}
	}
	return &SandboxProvenance{
		Mode:     string(policy.Mode),
		Executor: r.exec.Name(),
		Image:    policy.Image,
	}
}

// parseWitnessOutput enforces the stdout contract: exactly one JSON object
// with a status field from the closed set.
func parseWitnessOutput(stdout string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(stdout))

	var payload struct {
		Status string `json:"status"`
	}
	if err := dec.Decode(&payload); err != nil {
		return "", fmt.Errorf("stdout is not a JSON object: %v", err)
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return "", fmt.Errorf("stdout must contain exactly one JSON object")
	}

	status, ok := parseStatus(payload.Status)
	if !ok {
		return "", fmt.Errorf("status %q not in [PASS FAIL SKIP]", payload.Status)
	}
	return status, nil
}

// checkExitBand verifies the status/exit-code pairing: 0 for PASS/SKIP,
// 1 for FAIL.
func checkExitBand(status string, exitCode int) error {
	want := 0
	if status == StatusFail {
		want = 1
	}
	if exitCode != want {
		return fmt.Errorf("exit code %d inconsistent with status %s", exitCode, status)
	}
	return nil
}
