package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-support-agent/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect refund policy tables",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a policy table",
	Long: `Parse and validate a YAML policy table without starting the server.
The command exits non-zero when the table would be rejected on reload.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkPolicy(cmd, args[0])
	},
}

func init() {
	policyCmd.AddCommand(policyCheckCmd)
	rootCmd.AddCommand(policyCmd)
}

func checkPolicy(cmd *cobra.Command, path string) error {
	t, err := policy.LoadTable(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if _, err := policy.New(t); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: ok (version %d)\n", path, t.Version)
	fmt.Fprintf(out, "  default return window: %d days\n", t.DefaultCategory.ReturnWindowDays)

	cats := make([]string, 0, len(t.Categories))
	for name := range t.Categories {
		cats = append(cats, name)
	}
	sort.Strings(cats)
	for _, name := range cats {
		fmt.Fprintf(out, "  category %s: %d days\n", name, t.Categories[name].ReturnWindowDays)
	}
	for _, r := range t.ReasonNames() {
		rule, _ := t.Reason(r)
		fmt.Fprintf(out, "  reason %s: %s\n", r, policy.NewActionSet(rule.Actions...))
	}
	return nil
}
