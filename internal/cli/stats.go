package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/parley/internal/journal"
	"github.com/spf13/cobra"
)

var statsPrune time.Duration

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the translation journal",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().DurationVar(&statsPrune, "prune", 0, "first delete journal events older than this (e.g. 720h)")
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := st.Get()
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	db, err := journal.Open(journal.DefaultPath(dataDir))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	if statsPrune > 0 {
		n, err := db.Prune(ctx, time.Now().Add(-statsPrune))
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		fmt.Fprintf(out, "pruned %d events\n\n", n)
	}

	sum, err := db.Summary(ctx)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	if sum.Total == 0 {
		fmt.Fprintln(out, "Journal is empty. Translate something first.")
		return nil
	}

	fmt.Fprintln(out, "## Translation Journal")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  translations: %d across %d servers\n", sum.Total, sum.Servers)
	fmt.Fprintf(out, "  timed out:    %d\n", sum.TimedOut)
	fmt.Fprintf(out, "  model avg:    %.0f ms\n", sum.AvgModelMillis)
	fmt.Fprintln(out)
	for _, sc := range sum.BySource {
		fmt.Fprintf(out, "  %-12s %d\n", sc.Source, sc.Count)
	}
	return nil
}
