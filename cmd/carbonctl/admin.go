package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jmerrifield20/CarbonLedger/pkg/client"
	"github.com/spf13/cobra"
)

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token <carrier-id>",
	Short: "Issue a carrier bearer token (requires --admin-secret)",
	Long: `Token mints a short-lived carrier token. Export it as CARBON_TOKEN to use
carrier-scoped commands such as "carbonctl record mine":

  export CARBON_TOKEN=$(carbonctl token carrier-7 --admin-secret $SECRET -o json | jq -r .access_token)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		tok, err := c.IssueToken(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(tok)
		}
		fmt.Println(tok.AccessToken)
		fmt.Fprintf(os.Stderr, "expires in %ds\n", tok.ExpiresIn)
		return nil
	},
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Chain-integrity sweeps across all carriers",
}

var auditStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the result of the last sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		broken, last, err := c.AuditStatus(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(map[string]any{"broken": broken, "last_sweep": last})
		}
		if last == nil {
			fmt.Println("no sweep has run yet")
			return nil
		}
		fmt.Printf("%d broken chain(s) at last check\n", broken)
		return printSweep(last)
	},
}

var auditSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a sweep now (requires --admin-secret)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rep, err := c.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(rep)
		}
		if err := printSweep(rep); err != nil {
			return err
		}
		if len(rep.Broken) > 0 {
			return errVerificationFailed
		}
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditStatusCmd, auditSweepCmd)
	rootCmd.AddCommand(tokenCmd, auditCmd)
}

func printSweep(rep *client.SweepReport) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Carriers:\t%d\n", rep.Carriers)
	fmt.Fprintf(w, "Valid:\t%d\n", rep.Valid)
	fmt.Fprintf(w, "Failed:\t%d\n", rep.Failed)
	fmt.Fprintf(w, "Duration:\t%s\n", rep.Duration)
	for _, id := range rep.Broken {
		fmt.Fprintf(w, "Broken:\t%s\n", id)
	}
	return w.Flush()
}
