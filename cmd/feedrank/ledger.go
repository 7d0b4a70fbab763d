package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/feedrank/internal/provenance"
)

// --- requeue command ---

var requeueCmd = &cobra.Command{
	Use:   "requeue ID",
	Short: "Flag an item for re-scoring on the next ranking pass",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := storageContext()
		defer cancel()

		out, err := newFeedbackService(db, clockwork.NewRealClock(), nil).Requeue(ctx, args[0])
		if err != nil {
			return err
		}
		if !out.Requeued {
			return fmt.Errorf("item %s not found", out.ID)
		}
		fmt.Printf("Requeued %s\n", out.ID)
		return nil
	},
}

// --- verify command ---

var verifyFile string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the ledger hash chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			report provenance.Report
			source string
		)
		if verifyFile != "" {
			f, err := os.Open(verifyFile)
			if err != nil {
				return fmt.Errorf("opening %s: %w", verifyFile, err)
			}
			defer f.Close()
			report, err = provenance.VerifyJSONL(f)
			if err != nil {
				return err
			}
			source = verifyFile
		} else {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.LedgerRecords(context.Background())
			if err != nil {
				return err
			}
			report = provenance.Verify(records)
			source = db.Path()
		}

		fmt.Printf("Ledger: %s\n", source)
		fmt.Printf("  Records: %d\n", report.Records)
		if report.Valid {
			fmt.Printf("  Head: %s\n", report.Head)
			fmt.Println("  Chain intact.")
			return nil
		}
		fmt.Printf("  Broken records: %v\n", report.Broken)
		return fmt.Errorf("ledger chain broken at record %d", report.FirstBroken)
	},
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyFile, "file", "f", "", "Verify an exported JSON lines file instead of the database")
}

// --- ledger command ---

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the provenance ledger",
}

var ledgerOut string

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the ledger as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.LedgerRecords(context.Background())
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if ledgerOut != "" {
			f, err := os.Create(ledgerOut)
			if err != nil {
				return fmt.Errorf("creating %s: %w", ledgerOut, err)
			}
			defer f.Close()
			w = f
		}
		if err := provenance.WriteJSONL(w, records); err != nil {
			return err
		}
		if ledgerOut != "" {
			fmt.Printf("Exported %d records to %s\n", len(records), ledgerOut)
		}
		return nil
	},
}

func init() {
	ledgerExportCmd.Flags().StringVarP(&ledgerOut, "out", "o", "", "Output file (default stdout)")
	ledgerCmd.AddCommand(ledgerExportCmd)
}
