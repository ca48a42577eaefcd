package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jmerrifield20/CarbonLedger/pkg/client"
	"github.com/spf13/cobra"
)

// ── key ──────────────────────────────────────────────────────────────────────

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage carrier signing keys",
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate <carrier-id>",
	Short: "Generate a new active Ed25519 key; the private key is printed once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		kp, err := c.GenerateKeyPair(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(kp)
		}
		fmt.Printf("Key ID:      %s\n", kp.KeyID)
		fmt.Printf("Public key:  %s\n", kp.PublicKey)
		fmt.Printf("Private key: %s\n", kp.PrivateKey)
		fmt.Println("\nThe private key is not stored in retrievable form. Keep it safe.")
		return nil
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list <carrier-id>",
	Short: "List a carrier's keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListKeys(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(list)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY ID\tALGORITHM\tACTIVE\tCREATED")
		for _, k := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.KeyID, k.Algorithm, yesNo(k.Active), k.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

// ── sign / verify ────────────────────────────────────────────────────────────

var signCmd = &cobra.Command{
	Use:   "sign <record-id>",
	Short: "Sign a record with its carrier's active key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.SignRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(rec)
		}
		fmt.Printf("signed %s with key %s\n", rec.ID, rec.SignerKeyID)
		return nil
	},
}

var errVerificationFailed = errors.New("verification failed")

var verifyCmd = &cobra.Command{
	Use:   "verify <record-id> [record-id] ...",
	Short: "Verify one or more records (hash, chain link and signature)",
	Long: `Verify recomputes each record's hash, checks its link to the predecessor
and validates its signature when present. More than one id is sent as a
single batch of up to 100. Exits non-zero when any record is invalid.`,
	Args: cobra.RangeArgs(1, 100),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.BatchVerify(cmd.Context(), args)
		if err != nil {
			return err
		}
		if jsonOutput() {
			if err := printJSON(res); err != nil {
				return err
			}
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RECORD\tVALID\tHASH\tCHAIN\tSIGNATURE\tERRORS")
			for _, item := range res.Results {
				if item.Result == nil {
					fmt.Fprintf(w, "%s\tno\t-\t-\t-\t%s\n", item.RecordID, item.Error)
					continue
				}
				r := item.Result
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RecordID, yesNo(r.Valid), yesNo(r.HashValid), yesNo(r.ChainValid), sigLabel(r.SignatureValid), errorCodes(r.Errors))
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		if res.Invalid > 0 {
			return fmt.Errorf("%w: %d of %d records invalid", errVerificationFailed, res.Invalid, res.Total)
		}
		return nil
	},
}

// ── chain ────────────────────────────────────────────────────────────────────

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Inspect a carrier's hash chain",
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify <carrier-id>",
	Short: "Walk a carrier's whole chain and report the first break",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.VerifyChain(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			if err := printJSON(res); err != nil {
				return err
			}
		} else {
			fmt.Printf("Carrier:            %s\n", res.CarrierID)
			fmt.Printf("Valid:              %s\n", yesNo(res.Valid))
			fmt.Printf("Verified:           %d / %d\n", res.VerifiedRecords, res.TotalRecords)
			fmt.Printf("Invalid signatures: %d\n", res.InvalidSignatures)
			if res.BrokenAt != "" {
				fmt.Printf("Broken at:          %s\n", res.BrokenAt)
			}
			for _, e := range res.Errors {
				fmt.Printf("  %s: %s\n", e.Code, e.Message)
			}
		}
		if !res.Valid {
			return errVerificationFailed
		}
		return nil
	},
}

var chainTipCmd = &cobra.Command{
	Use:   "tip <carrier-id>",
	Short: "Show the newest record of a carrier's chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		tip, err := c.ChainTip(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(tip)
		}
		fmt.Printf("#%d %s %s\n", tip.Sequence, tip.RecordID, tip.RecordHash)
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keyGenerateCmd, keyListCmd)
	chainCmd.AddCommand(chainVerifyCmd, chainTipCmd)
	rootCmd.AddCommand(keyCmd, signCmd, verifyCmd, chainCmd)
}

func sigLabel(v *bool) string {
	if v == nil {
		return "unsigned"
	}
	return yesNo(*v)
}

func errorCodes(errs []client.VerificationError) string {
	if len(errs) == 0 {
		return "-"
	}
	out := errs[0].Code
	for _, e := range errs[1:] {
		out += "," + e.Code
	}
	return out
}
