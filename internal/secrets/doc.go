// Package secrets detects and redacts credentials in text that leaves the
// process: mission status messages, error strings, and API responses.
//
// Two passes are applied. A fast regular-expression pass uses the rules in
// DefaultRules; an optional gitleaks pass catches the long tail of provider
// token formats. Findings record rule IDs and positions, never the secret.
package secrets
