package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lazypower/parley/internal/rag"
	"github.com/lazypower/parley/internal/scope"
	"github.com/spf13/cobra"
)

var (
	ragServer string
	ragLimit  int
)

var ragCmd = &cobra.Command{
	Use:   "rag",
	Short: "Inspect a server's translation memory",
}

var ragSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Rank stored translations against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRAGSearch,
}

var ragStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show size and most used entries",
	RunE:  runRAGStats,
}

func init() {
	ragCmd.PersistentFlags().StringVar(&ragServer, "server", "", "server address (default singleplayer)")
	ragCmd.PersistentFlags().IntVarP(&ragLimit, "limit", "n", 5, "maximum number of entries")
	ragCmd.AddCommand(ragSearchCmd)
	ragCmd.AddCommand(ragStatsCmd)
}

// openStore loads the retrieval store for --server straight from disk.
func openStore() (*rag.Store, string, error) {
	st, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	cfg := st.Get()
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, "", fmt.Errorf("resolve data dir: %w", err)
	}
	id := scope.CanonicalID(ragServer)
	return rag.Open(scope.StorePath(dataDir, id), cfg.RAGMaxEntries), id, nil
}

func runRAGSearch(cmd *cobra.Command, args []string) error {
	store, id, err := openStore()
	if err != nil {
		return err
	}
	query := strings.Join(args, " ")

	// Search bumps use counts; read-only inspection shouldn't persist them.
	matches := store.Search(query, ragLimit)
	out := cmd.OutOrStdout()
	if len(matches) == 0 {
		fmt.Fprintf(out, "No matches in %s.\n", id)
		return nil
	}
	for i, m := range matches {
		fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, m.Score, m.Key)
		fmt.Fprintf(out, "   → %s (used %d)\n", m.Entry.Translated, m.Entry.UseCount)
	}
	return nil
}

func runRAGStats(cmd *cobra.Command, args []string) error {
	store, id, err := openStore()
	if err != nil {
		return err
	}

	entries := store.Entries()
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := entries[keys[i]], entries[keys[j]]
		if a.UseCount != b.UseCount {
			return a.UseCount > b.UseCount
		}
		return keys[i] < keys[j]
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "## %s\n\n", id)
	fmt.Fprintf(out, "  file:    %s\n", store.Path())
	fmt.Fprintf(out, "  entries: %d / %d\n", store.Size(), store.MaxEntries())
	if len(keys) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\n  most used:")
	for _, k := range keys[:min(ragLimit, len(keys))] {
		fmt.Fprintf(out, "  %5d  %s → %s\n", entries[k].UseCount, k, entries[k].Translated)
	}
	return nil
}
