package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/feedrank/internal/config"
	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/ingest"
	"github.com/TobiSchelling/feedrank/internal/logging"
	"github.com/TobiSchelling/feedrank/internal/pipeline"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "feedrank",
	Short:   "Ranked content feed with a feedback control loop",
	Long:    "feedrank ranks content items by trend, sentiment, confidence, and recency, and adapts to feedback with a tamper-evident ledger.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		zap.ReplaceGlobals(logger)

		for _, issue := range cfg.Sanitize() {
			logger.Warn("config value ignored", zap.String("field", issue.Field), zap.String("problem", issue.Problem))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(ledgerCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("feedrank", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/feedrank/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set thresholds, reward weights, and the API secret variable.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and ledger status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := storageContext()
		defer cancel()

		stats, err := db.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n\n", database.GetToday())
		fmt.Println("Items:")
		fmt.Printf("  Total: %d\n", stats.TotalItems)
		fmt.Printf("  Partitions: %d\n", stats.Partitions)
		fmt.Printf("  Queued: %d\n", stats.Queued)
		fmt.Printf("  Skipped: %d\n", stats.Skipped)
		fmt.Printf("  Demoted: %d\n", stats.Demoted)
		fmt.Printf("  Escalated: %d\n", stats.Escalated)
		fmt.Printf("  Awaiting re-score: %d\n", stats.RequeueRequested)
		fmt.Println("\nLedger:")
		fmt.Printf("  Records: %d\n", stats.LedgerRecords)
		fmt.Printf("  Head: %s\n", stats.LedgerHead)
		fmt.Println("\nFeed:")
		if stats.LastSnapshot != nil {
			fmt.Printf("  Last ranked: %s\n", stats.LastSnapshot.Local().Format(time.DateTime))
		} else {
			fmt.Println("  Not ranked yet. Run 'feedrank rank'.")
		}
		return nil
	},
}

// --- import command ---

var importPartition string

var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Import item records (JSON object, array, or JSON lines)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if importPartition != "" && !database.ValidPartition(importPartition) {
			return fmt.Errorf("invalid partition %q, want YYYY-MM-DD", importPartition)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		dec := &ingest.Decoder{Partition: importPartition}
		total, inserted := 0, 0
		for _, path := range args {
			items, err := decodeFile(dec, path)
			if err != nil {
				return err
			}

			ctx, cancel := storageContext()
			n, err := db.UpsertItems(ctx, items)
			cancel()
			if err != nil {
				return fmt.Errorf("storing %s: %w", path, err)
			}
			logger.Debug("imported file", zap.String("path", path), zap.Int("items", len(items)), zap.Int("new", n))
			total += len(items)
			inserted += n
		}

		fmt.Printf("Imported %d items (%d new, %d updated)\n", total, inserted, total-inserted)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&importPartition, "partition", "p", "", "Partition date (YYYY-MM-DD, default today)")
}

func decodeFile(dec *ingest.Decoder, path string) ([]database.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	items, err := dec.DecodeAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return items, nil
}

// --- rank command ---

var (
	rankPartition string
	rankExport    bool
	dryRun        bool
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Run a ranking pass: load -> rank -> persist -> snapshot -> export",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db, pipeline.WithLogger(logger))
		ctx := context.Background()

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(ctx, rankPartition)
		} else {
			result = pipe.Run(ctx, rankPartition, pipeline.Options{Export: rankExport})
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		if err := result.Err(); err != nil {
			return err
		}

		if len(result.Top) > 0 {
			fmt.Println("\nTop items per category:")
			for _, top := range result.Top {
				fmt.Printf("  %s (trend %.2f): %d\n", top.Category, result.Trends[top.Category], len(top.Items))
			}
		}

		if !dryRun {
			fmt.Println("\nRanking complete! Run 'feedrank serve' to publish the feed.")
		}
		return nil
	},
}

func init() {
	rankCmd.Flags().StringVarP(&rankPartition, "partition", "p", "", "Partition to rank (default newest)")
	rankCmd.Flags().BoolVar(&rankExport, "export", false, "Write weekly_report.csv and weekly_report.json")
	rankCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath())
}

func storageContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cfg.Storage.Timeout)
}
