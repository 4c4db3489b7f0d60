package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	"github.com/Jarvis2021/gantry-sub000/internal/policy"
	"github.com/spf13/cobra"
)

// policyPath overrides the policy document from configuration.
var policyPath string

// policyCmd groups policy commands
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Work with the security policy",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <manifest.json>",
	Short: "Check a manifest against the security policy",
	Long: `Check a blueprint manifest against the security policy without building it.

The policy is read from --policy, else from the policy.path setting, else
the built-in default applies. The command exits non-zero on a violation.

Examples:
  # Check against the default policy
  gantry policy check manifest.json

  # Check against a custom policy
  gantry policy check manifest.json --policy policy.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyCheck,
}

func init() {
	policyCheckCmd.Flags().StringVar(&policyPath, "policy", "", "policy document (YAML)")
	policyCmd.AddCommand(policyCheckCmd)
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read manifest %s: %w", args[0], err)
	}
	m, err := manifest.Parse(string(raw))
	if err != nil {
		return fmt.Errorf("invalid manifest %s: %w", args[0], err)
	}

	path := policyPath
	if path == "" && configPath != "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Policy.Path
	}

	polCfg, custom, err := policy.Load(path)
	if err != nil {
		return err
	}
	gate, err := policy.NewGate(polCfg)
	if err != nil {
		return fmt.Errorf("policy gate: %w", err)
	}

	out := cmd.OutOrStdout()
	source := "built-in default"
	if custom {
		source = path
	}
	fmt.Fprintf(out, "Policy: %s\n", source)

	err = gate.Validate(cmd.Context(), m)
	var v *policy.Violation
	switch {
	case err == nil:
		fmt.Fprintf(out, "PASS %s (%s, %d files)\n", m.ProjectName, m.Stack, len(m.Files))
		return nil
	case errors.As(err, &v):
		fmt.Fprintf(out, "DENIED %s: %s\n", m.ProjectName, v.Error())
		return v
	default:
		return err
	}
}
