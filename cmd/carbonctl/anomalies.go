package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jmerrifield20/CarbonLedger/pkg/client"
	"github.com/spf13/cobra"
)

// ── anomalies ────────────────────────────────────────────────────────────────

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Screen records against their statistical baseline",
}

var anomaliesRecordCmd = &cobra.Command{
	Use:   "record <record-id> [record-id] ...",
	Short: "Screen one or more records",
	Args:  cobra.RangeArgs(1, 100),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			rep, err := c.DetectAnomalies(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(rep)
			}
			printAnomalyReport(rep)
			return nil
		}
		res, err := c.BatchAnomalyCheck(cmd.Context(), args)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(res)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RECORD\tANOMALOUS\tSCORE\tALERTS")
		for _, item := range res.Results {
			if item.Report == nil {
				fmt.Fprintf(w, "%s\t-\t-\t%s\n", item.RecordID, item.Error)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\n", item.RecordID, yesNo(item.Report.IsAnomalous), item.Report.AnomalyScore, len(item.Report.Alerts))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d anomalous, %d normal, %d errors (avg score %.2f)\n", res.Anomalous, res.Normal, res.Errors, res.AvgAnomalyScore)
		return nil
	},
}

var (
	anomalyLastDays int
	anomalyLimit    int
)

var anomaliesCarrierCmd = &cobra.Command{
	Use:   "carrier <carrier-id>",
	Short: "Screen a carrier's recent records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rep, err := c.CarrierAnomalies(cmd.Context(), args[0], anomalyLastDays, anomalyLimit)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(rep)
		}
		fmt.Printf("Carrier %s: %d of %d records anomalous (rate %.1f%%, avg score %.2f)\n",
			rep.CarrierID, rep.AnomalousRecords, rep.TotalRecords, rep.AnomalyRate*100, rep.AvgAnomalyScore)
		for i := range rep.Reports {
			if rep.Reports[i].IsAnomalous {
				fmt.Println()
				printAnomalyReport(&rep.Reports[i])
			}
		}
		return nil
	},
}

func init() {
	anomaliesCarrierCmd.Flags().IntVar(&anomalyLastDays, "last-days", 0, "window in days (server default 30)")
	anomaliesCarrierCmd.Flags().IntVar(&anomalyLimit, "limit", 0, "newest records to screen (server default 100)")
	anomaliesCmd.AddCommand(anomaliesRecordCmd, anomaliesCarrierCmd)
	rootCmd.AddCommand(anomaliesCmd)
}

func printAnomalyReport(rep *client.AnomalyReport) {
	fmt.Printf("%s  score %.2f  anomalous %s  baseline %s (%d)\n",
		rep.RecordID, rep.AnomalyScore, yesNo(rep.IsAnomalous), rep.BaselineScope, rep.BaselineSize)
	if len(rep.Alerts) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SEVERITY\tTYPE\tFIELD\tACTUAL\tEXPECTED")
	for _, a := range rep.Alerts {
		expected := "-"
		if a.ExpectedRange != nil {
			expected = fmt.Sprintf("%.3f..%.3f", a.ExpectedRange.Min, a.ExpectedRange.Max)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%.3f\t%s\n", a.Severity, a.Type, a.Field, a.ActualValue, expected)
	}
	_ = w.Flush()
}
