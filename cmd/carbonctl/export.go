package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/CarbonLedger/pkg/client"
	"github.com/spf13/cobra"
)

// ── export ───────────────────────────────────────────────────────────────────

var (
	exportCarrier   string
	exportOrder     string
	exportFleet     string
	exportFrom      string
	exportTo        string
	exportMinGrade  int
	exportOut       string
	exportIntegrity bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Pull audit exports (json, csv, summary)",
}

var exportJSONCmd = &cobra.Command{
	Use:   "json",
	Short: "Export matching records as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := exportFilter()
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		out, err := c.ExportJSON(cmd.Context(), f)
		if err != nil {
			return err
		}
		if exportOut == "" {
			return printJSON(out)
		}
		return writeJSONFile(exportOut, out)
	},
}

var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Export matching records as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := exportFilter()
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		data, err := c.ExportCSV(cmd.Context(), f, exportIntegrity)
		if err != nil {
			return err
		}
		if exportOut == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}
		fmt.Fprintf(os.Stderr, "wrote %d bytes to %s\n", len(data), exportOut)
		return nil
	},
}

var exportSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the emissions rollup for matching records",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := exportFilter()
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		sum, err := c.ExportSummary(cmd.Context(), f)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(sum)
		}
		printSummary(sum)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{exportJSONCmd, exportCSVCmd, exportSummaryCmd} {
		cmd.Flags().StringVar(&exportCarrier, "carrier-id", "", "only this carrier")
		cmd.Flags().StringVar(&exportOrder, "order-id", "", "only this order")
		cmd.Flags().StringVar(&exportFleet, "fleet-id", "", "only this fleet")
		cmd.Flags().StringVar(&exportFrom, "from", "", "created at or after (RFC 3339 or YYYY-MM-DD)")
		cmd.Flags().StringVar(&exportTo, "to", "", "created at or before (RFC 3339 or YYYY-MM-DD)")
		cmd.Flags().IntVar(&exportMinGrade, "min-grade", 0, "only records with grade >= this value")
	}
	exportJSONCmd.Flags().StringVar(&exportOut, "out", "", "write to file instead of stdout")
	exportCSVCmd.Flags().StringVar(&exportOut, "out", "", "write to file instead of stdout")
	exportCSVCmd.Flags().BoolVar(&exportIntegrity, "integrity", false, "include hash and signature columns")

	exportCmd.AddCommand(exportJSONCmd, exportCSVCmd, exportSummaryCmd)
	rootCmd.AddCommand(exportCmd)
}

func exportFilter() (client.ExportFilter, error) {
	f := client.ExportFilter{
		CarrierID: exportCarrier,
		OrderID:   exportOrder,
		FleetID:   exportFleet,
		MinGrade:  exportMinGrade,
	}
	var err error
	if f.From, err = parseTimeFlag("from", exportFrom); err != nil {
		return f, err
	}
	if f.To, err = parseTimeFlag("to", exportTo); err != nil {
		return f, err
	}
	return f, nil
}

func parseTimeFlag(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("--%s: %q is neither RFC 3339 nor YYYY-MM-DD", name, raw)
}

func writeJSONFile(path string, v any) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer fh.Close()
	return writeJSON(fh, v)
}

func printSummary(sum *client.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Records:\t%d\n", sum.RecordCount)
	fmt.Fprintf(w, "Distance:\t%.1f km\n", sum.TotalDistanceKm)
	fmt.Fprintf(w, "Transport work:\t%.1f tkm\n", sum.TotalCargoTonneKm)
	fmt.Fprintf(w, "Emissions:\t%.0f g (TTW %.0f, WTT %.0f)\n", sum.TotalEmissionsGrams, sum.TTWEmissionsGrams, sum.WTTEmissionsGrams)
	fmt.Fprintf(w, "Weighted intensity:\t%.3f g/tkm\n", sum.WeightedAverageEI)
	fmt.Fprintf(w, "Data quality:\t%.2f / 100\n", sum.DataQualityScore)
	fmt.Fprintf(w, "Integrity:\t%d signed, %d unsigned, %d hash invalid\n",
		sum.Integrity["signed"], sum.Integrity["unsigned"], sum.Integrity["hash_invalid"])
	_ = w.Flush()

	for _, group := range []struct {
		title string
		m     map[string]client.Breakdown
	}{{"GRADE", sum.ByGrade}, {"FUEL TYPE", sum.ByFuelType}} {
		if len(group.m) == 0 {
			continue
		}
		keys := make([]string, 0, len(group.m))
		for k := range group.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, strings.Join([]string{group.title, "RECORDS", "KM", "TKM", "EMISSIONS g"}, "\t"))
		for _, k := range keys {
			b := group.m[k]
			fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.0f\n", k, b.Records, b.DistanceKm, b.CargoTonneKm, b.TotalEmissionsGrams)
		}
		_ = w.Flush()
	}
}
