package secrets

// DefaultRules returns the built-in secret detection rules. They cover the
// credentials gantry itself handles (GitHub, Vercel, Gemini, database DSNs)
// plus common formats that generated code or build output may echo back.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `gh[pousr]_[A-Za-z0-9]{36,}`,
			Severity:    "high",
		},
		{
			ID:          "github-fine-grained",
			Description: "GitHub fine-grained personal access token",
			Pattern:     `github_pat_[A-Za-z0-9_]{22,}`,
			Severity:    "high",
		},
		{
			ID:          "url-credentials",
			Description: "Credentials embedded in a URL",
			Pattern:     `(?i)[a-z][a-z0-9+.-]*://[^/\s:@]+:[^/\s@]+@`,
			Severity:    "high",
		},
		{
			ID:          "cli-token-flag",
			Description: "Token passed as a command-line flag",
			Pattern:     `(?i)--token[= ]+\S+`,
			Severity:    "high",
		},
		{
			ID:          "google-api-key",
			Description: "Google API key",
			Pattern:     `AIza[A-Za-z0-9_\-]{35}`,
			Severity:    "high",
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key ID",
			Pattern:     `(A3T[A-Z0-9]|AKIA|ASIA)[A-Z0-9]{16}`,
			Severity:    "high",
		},
		{
			ID:          "private-key",
			Description: "Private key block",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
			Severity:    "high",
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
			Severity:    "medium",
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{16,}`,
			Severity:    "medium",
		},
		{
			ID:          "generic-api-key",
			Description: "Generic API key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords:    []string{"api", "key"},
			Severity:    "high",
		},
		{
			ID:          "env-credential",
			Description: "Credential-named variable assignment",
			Pattern:     `(?i)(?:GITHUB_TOKEN|VERCEL_TOKEN|GEMINI_API_KEY|DATABASE_URL|SECRET_KEY|ACCESS_TOKEN|AUTH_TOKEN|PASSWORD|SECRET)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Severity:    "high",
		},
	}
}
