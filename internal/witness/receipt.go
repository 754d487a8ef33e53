package witness

import (
	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
)

// Witness statuses form a closed set. Infra errors are not a status; they
// travel in the separate InfraError field.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

// Run exit-code bands consumed by CI.
const (
	ExitOK         = 0 // every capsule PASS or SKIP
	ExitFailed     = 1 // at least one logical FAIL
	ExitInfraError = 2 // infra error present, no hard FAIL
)

// SandboxProvenance records how a witness was isolated.
type SandboxProvenance struct {
	Mode     string `json:"mode"`
	Executor string `json:"executor"`
	Image    string `json:"image,omitempty"`
}

// WitnessReceipt is the structured record of one witness execution.
type WitnessReceipt struct {
	WitnessName string `json:"witness_name"`
	Status      string `json:"status"`
	ExitCode    int    `json:"exit_code"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	DurationMs  int64  `json:"duration_ms"`

	// InfraError is set when the checker itself broke: timeout, missing
	// interpreter, malformed output. Status is SKIP in that case so the
	// closed status set holds, and the error travels here.
	InfraError string `json:"infra_error,omitempty"`

	SandboxProvenance *SandboxProvenance `json:"sandbox_provenance,omitempty"`
}

// CapsuleReceipt aggregates one capsule's witness results in declaration
// order.
type CapsuleReceipt struct {
	CapsuleID      string           `json:"capsule_id"`
	Status         string           `json:"status"`
	WitnessResults []WitnessReceipt `json:"witness_results"`
}

// HasInfraError reports whether any witness hit an infrastructure error.
func (r *CapsuleReceipt) HasInfraError() bool {
	for _, wr := range r.WitnessResults {
		if wr.InfraError != "" {
			return true
		}
	}
	return false
}

// AggregateStatus applies the worst-of rule: FAIL if any witness failed,
// SKIP if every witness skipped (or there were none), PASS otherwise.
func AggregateStatus(results []WitnessReceipt) string {
	if len(results) == 0 {
		return StatusSkip
	}
	allSkip := true
	for _, wr := range results {
		if wr.Status == StatusFail {
			return StatusFail
		}
		if wr.Status != StatusSkip {
			allSkip = false
		}
	}
	if allSkip {
		return StatusSkip
	}
	return StatusPass
}

// RunReport is the outcome of one batch run across capsules, in
// composition order.
type RunReport struct {
	RunID     string           `json:"run_id"`
	StartedAt string           `json:"started_at"`
	Capsules  []CapsuleReceipt `json:"capsules"`
}

// ExitCode maps the report onto the CI exit-code bands.
func (r *RunReport) ExitCode() int {
	infra := false
	for i := range r.Capsules {
		if r.Capsules[i].Status == StatusFail {
			return ExitFailed
		}
		if r.Capsules[i].HasInfraError() {
			infra = true
		}
	}
	if infra {
		return ExitInfraError
	}
	return ExitOK
}

// parseStatus validates a witness-emitted status against the closed set.
// GREEN and RED are aggregate-level synonyms only; a witness emitting them
// violates the contract.
func parseStatus(s string) (string, bool) {
	switch s {
	case StatusPass, StatusFail, StatusSkip:
		return s, true
	default:
		return "", false
	}
}

// NormalizeAggregate maps GREEN/RED aggregate synonyms onto the canonical
// statuses for consumers reading externally produced receipts.
func NormalizeAggregate(s string) string {
	return capsule.NormalizeStatus(s)
}
