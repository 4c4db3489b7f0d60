package foundry

import (
	"fmt"
	"time"
)

// StructureFailureMessage explains a failed serverless structure check.
const StructureFailureMessage = "Project must have api/index.js (or .py) with proper exports, and vercel.json with rewrites. See Vercel serverless function format."

// BuildTimeoutError reports that the dead-man's switch fired.
type BuildTimeoutError struct {
	Timeout      time.Duration
	EvidencePath string
}

func (e *BuildTimeoutError) Error() string {
	return fmt.Sprintf("dead man's switch triggered after %s", e.Timeout)
}

// AuditFailedError reports a nonzero audit exit code or a failed structure
// check (ExitCode -1).
type AuditFailedError struct {
	ExitCode     int
	Output       string
	EvidencePath string
}

func (e *AuditFailedError) Error() string {
	if e.ExitCode == -1 {
		return "serverless structure check failed"
	}
	return fmt.Sprintf("audit failed with exit code %d", e.ExitCode)
}
