package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/jmerrifield20/CarbonLedger/pkg/client"
	"github.com/spf13/cobra"
)

// ── record ───────────────────────────────────────────────────────────────────

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Create, inspect and annotate carbon records",
}

var recordFile string

var recordCreateCmd = &cobra.Command{
	Use:   "create --file record.json",
	Short: "Append a record (or a batch, when the file holds a JSON array)",
	Long: `Create reads a record payload from --file ("-" for stdin).

A JSON object creates one record. A JSON array of up to 100 objects is sent
as a batch and the per-item outcome is printed.`,
	RunE: runRecordCreate,
}

var recordGetCmd = &cobra.Command{
	Use:   "get <record-id>",
	Short: "Show a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.GetRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(rec)
		}
		printRecord(rec)
		return nil
	},
}

var recordOrderCmd = &cobra.Command{
	Use:   "order <order-id>",
	Short: "List every record of an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		recs, err := c.GetRecordsByOrder(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(recs)
		}
		printRecordTable(recs)
		return nil
	},
}

var (
	mineLimit  int
	mineOffset int
)

var recordMineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Page through the authenticated carrier's records",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		page, err := c.MyRecords(cmd.Context(), mineLimit, mineOffset)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(page)
		}
		printRecordTable(page.Records)
		fmt.Printf("\n%d of %d (offset %d)\n", len(page.Records), page.Total, page.Offset)
		return nil
	},
}

var (
	custodyActor  string
	custodyAction string
	custodySystem string
)

var recordCustodyCmd = &cobra.Command{
	Use:   "custody <record-id> --actor <actor> --action <action>",
	Short: "Append a chain-of-custody entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.AppendCustody(cmd.Context(), args[0], custodyActor, custodyAction, custodySystem)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(rec.ChainOfCustody)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tACTOR\tACTION\tSYSTEM")
		for _, e := range rec.ChainOfCustody {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Actor, e.Action, e.System)
		}
		return w.Flush()
	},
}

func init() {
	recordCreateCmd.Flags().StringVarP(&recordFile, "file", "f", "", "record JSON file, - for stdin")
	_ = recordCreateCmd.MarkFlagRequired("file")
	recordMineCmd.Flags().IntVar(&mineLimit, "limit", 50, "page size (max 200)")
	recordMineCmd.Flags().IntVar(&mineOffset, "offset", 0, "page offset")
	recordCustodyCmd.Flags().StringVar(&custodyActor, "actor", "", "who handled the record")
	recordCustodyCmd.Flags().StringVar(&custodyAction, "action", "", "what they did")
	recordCustodyCmd.Flags().StringVar(&custodySystem, "system", "carbonctl", "originating system")
	_ = recordCustodyCmd.MarkFlagRequired("actor")
	_ = recordCustodyCmd.MarkFlagRequired("action")

	recordCmd.AddCommand(recordCreateCmd, recordGetCmd, recordOrderCmd, recordMineCmd, recordCustodyCmd)
	rootCmd.AddCommand(recordCmd)
}

func runRecordCreate(cmd *cobra.Command, args []string) error {
	raw, err := readInput(recordFile)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	var batch []client.RecordInput
	if err := json.Unmarshal(raw, &batch); err == nil {
		res, err := c.BatchCreate(cmd.Context(), batch)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(res)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tOK\tRECORD ID / ERROR")
		for _, r := range res.Results {
			detail := r.RecordID
			if !r.Success {
				detail = r.Error
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", r.Index, yesNo(r.Success), detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d created, %d failed\n", res.Success, res.Errors)
		return nil
	}

	var in client.RecordInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("parse %s: %w", recordFile, err)
	}
	rec, err := c.CreateRecord(cmd.Context(), in)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(rec)
	}
	printRecord(rec)
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

func printRecord(rec *client.Record) {
	prev := "(genesis)"
	if rec.PrevRecordHash != nil {
		prev = *rec.PrevRecordHash
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", rec.ID)
	fmt.Fprintf(w, "Carrier:\t%s (#%d)\n", rec.CarrierID, rec.Sequence)
	fmt.Fprintf(w, "Order / Fleet:\t%s / %s\n", rec.OrderID, rec.FleetID)
	fmt.Fprintf(w, "Distance:\t%.1f km, %.2f t cargo\n", rec.DistanceKm, rec.CargoWeightTonnes)
	fmt.Fprintf(w, "Emissions:\t%.0f g (TTW %.0f, WTT %.0f)\n", rec.TotalEmissionsGrams, rec.TTWEmissionsGrams, rec.WTTEmissionsGrams)
	fmt.Fprintf(w, "Intensity:\t%.3f g/tkm, grade %d, %s\n", rec.EmissionIntensity, rec.Grade, rec.Source)
	fmt.Fprintf(w, "Hash:\t%s\n", rec.RecordHash)
	fmt.Fprintf(w, "Prev:\t%s\n", prev)
	fmt.Fprintf(w, "State:\t%s\n", rec.State)
	if rec.SignerKeyID != "" {
		fmt.Fprintf(w, "Signer:\t%s\n", rec.SignerKeyID)
	}
	_ = w.Flush()
}

func printRecordTable(recs []client.Record) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCARRIER\tSEQ\tORDER\tTOTAL g\tGRADE\tSTATE")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.0f\t%d\t%s\n", r.ID, r.CarrierID, r.Sequence, r.OrderID, r.TotalEmissionsGrams, r.Grade, r.State)
	}
	_ = w.Flush()
}
