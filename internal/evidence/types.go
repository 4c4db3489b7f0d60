package evidence

import (
	"errors"
	"time"
)

var (
	// ErrAlreadySealed is returned by a second Seal on the same recorder.
	ErrAlreadySealed = errors.New("evidence already sealed")

	// ErrNotSealed is returned when an attempt directory carries no seal.
	ErrNotSealed = errors.New("evidence not sealed")

	// ErrTampered is returned when sealed evidence no longer matches its digests.
	ErrTampered = errors.New("evidence digest mismatch")

	// ErrNoVerdict is returned when an attempt directory has no verdict document.
	ErrNoVerdict = errors.New("no verdict in evidence")

	// ErrNotFound is returned by design sources holding no reference for a mission.
	ErrNotFound = errors.New("not found")
)

// File names inside an attempt directory.
const (
	ManifestFile       = "manifest.json"
	AuditPassFile      = "audit_pass.json"
	AuditFailFile      = "audit_fail.json"
	FlightRecorderFile = "flight_recorder.json"
	SealFile           = "seal.json"
)

// Event names recorded by the foundry.
const (
	EventBuildStarted          = "BUILD_STARTED"
	EventManifestSaved         = "MANIFEST_SAVED"
	EventPodInit               = "POD_INIT"
	EventImageReady            = "IMAGE_READY"
	EventPodSpawned            = "POD_SPAWNED"
	EventFilesInjected         = "FILES_INJECTED"
	EventDesignImageInjected   = "DESIGN_IMAGE_INJECTED"
	EventDepsInstallStarted    = "DEPS_INSTALL_STARTED"
	EventDepsInstalled         = "DEPS_INSTALLED"
	EventDepsInstallWarning    = "DEPS_INSTALL_WARNING"
	EventAuditStarted          = "AUDIT_STARTED"
	EventAuditPassed           = "AUDIT_PASSED"
	EventAuditFailed           = "AUDIT_FAILED"
	EventStructureCheckStarted = "STRUCTURE_CHECK_STARTED"
	EventStructureCheckPassed  = "STRUCTURE_CHECK_PASSED"
	EventStructureCheckFailed  = "STRUCTURE_CHECK_FAILED"
	EventDeploySkipped         = "DEPLOY_SKIPPED"
	EventDeployStarted         = "DEPLOY_STARTED"
	EventDeployComplete        = "DEPLOY_COMPLETE"
	EventDeployFailed          = "DEPLOY_FAILED"
	EventBuildComplete         = "BUILD_COMPLETE"
	EventBuildFailed           = "BUILD_FAILED"
	EventTimeoutTriggered      = "TIMEOUT_TRIGGERED"
	EventBuildError            = "BUILD_ERROR"
)

// Event is a single flight recorder entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Details   string    `json:"details,omitempty"`
}

// Outcome is the verdict of an attempt.
type Outcome string

const (
	Pass Outcome = "PASS"
	Fail Outcome = "FAIL"
)

// Verdict is the single verdict document of an attempt.
type Verdict struct {
	Timestamp time.Time `json:"timestamp"`
	Verdict   Outcome   `json:"verdict"`
	// ExitCode is set for failures; -1 marks failures without a process
	// exit status (structure check, timeout, infrastructure error).
	ExitCode *int   `json:"exit_code,omitempty"`
	Output   string `json:"output"`
	// Reason classifies failures: audit, structure, timeout or error.
	Reason string `json:"reason,omitempty"`
}

// Passed returns a PASS verdict.
func Passed(output string) Verdict {
	return Verdict{Verdict: Pass, Output: output}
}

// Failed returns a FAIL verdict.
func Failed(reason string, exitCode int, output string) Verdict {
	return Verdict{Verdict: Fail, ExitCode: &exitCode, Output: output, Reason: reason}
}

// FileName returns the document name the verdict is stored under.
func (v Verdict) FileName() string {
	if v.Verdict == Pass {
		return AuditPassFile
	}
	return AuditFailFile
}

// Seal lists the digests of a sealed attempt.
type Seal struct {
	MissionID string            `json:"mission_id"`
	Attempt   int               `json:"attempt"`
	SealedAt  time.Time         `json:"sealed_at"`
	Algorithm string            `json:"algorithm"`
	Verdict   Outcome           `json:"verdict"`
	Digests   map[string]string `json:"digests"`
}
