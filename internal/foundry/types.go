// Package foundry executes manifests in disposable sandboxes.
//
// Executor.Build runs one attempt: it snapshots the manifest into evidence,
// spawns a memory-capped sandbox, injects the files, installs dependencies,
// runs the audit command and optionally deploys. A dead-man's switch bounds
// the attempt. Exactly one of the timeout path and the normal path concludes
// the attempt; the winner writes the verdict, seals the evidence and removes
// the sandbox.
package foundry

import (
	"context"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/deployer"
	"github.com/Jarvis2021/gantry-sub000/internal/evidence"
	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	"github.com/Jarvis2021/gantry-sub000/internal/sandbox"
)

// DefaultTimeout is the dead-man's switch deadline.
const DefaultTimeout = 180 * time.Second

// Build outcomes reported to the Observer.
const (
	OutcomePass        = "pass"
	OutcomeAuditFailed = "audit_failed"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
)

// BuildResult describes a passed attempt.
type BuildResult struct {
	SandboxID    string
	SandboxName  string
	ProjectName  string
	AuditPassed  bool
	Duration     time.Duration
	DeployURL    string
	EvidencePath string
	Image        string
	// FullFeatured is true when the universal builder image was used.
	FullFeatured bool
}

// Deployer publishes a passed sandbox.
type Deployer interface {
	IsConfigured() bool
	Deploy(ctx context.Context, sh deployer.Shell, projectName string) (string, error)
}

// EvidenceStore opens per-attempt recorders and finds design references.
type EvidenceStore interface {
	Open(ctx context.Context, missionID string, attempt int) (evidence.Recorder, error)
	DesignReference(ctx context.Context, missionID string) (string, []byte, error)
}

// Sandboxes resolves images and spawns sandboxes.
type Sandboxes interface {
	ResolveImage(ctx context.Context, stack manifest.Stack) (sandbox.Image, error)
	Spawn(ctx context.Context, name, image string, labels map[string]string) (*sandbox.Sandbox, error)
}

// Observer receives build outcomes. Metrics implement it.
type Observer interface {
	ObserveBuild(outcome string, d time.Duration)
}
