package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/lazypower/parley/internal/config"
	"github.com/lazypower/parley/internal/history"
	"github.com/spf13/cobra"
)

var (
	translateOutgoing bool
	translateServer   string
	translateSpeaker  string
	translateJSON     bool
)

var translateCmd = &cobra.Command{
	Use:   "translate [text]",
	Short: "Translate one line without a running server",
	Long: "Runs a single line through the cache, the server's retrieval store, and the model,\n" +
		"then saves the store. Use --outgoing to translate your own line for sending.",
	Args: cobra.MinimumNArgs(1),
	RunE: runTranslate,
}

func init() {
	translateCmd.Flags().BoolVar(&translateOutgoing, "outgoing", false, "translate into outgoingTargetLanguage")
	translateCmd.Flags().StringVar(&translateServer, "server", "", "server address whose retrieval store to use (default singleplayer)")
	translateCmd.Flags().StringVar(&translateSpeaker, "speaker", "cli", "speaker name recorded in history")
	translateCmd.Flags().BoolVar(&translateJSON, "json", false, "print the full result as JSON")
}

func runTranslate(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	dir := history.Incoming
	if translateOutgoing {
		dir = history.Outgoing
	}
	// A one-shot run has nothing to send early, so it waits for the model
	// in both directions.
	rt.cfg.Update(func(c *config.Config) {
		c.AutoTranslateIncoming = true
		c.AutoTranslateOutgoing = true
		c.OutgoingTranslationTimeout = c.RequestTimeout
	})

	sc := rt.pipe.OnJoin(translateServer)
	res := rt.pipe.Translate(context.Background(), dir, translateSpeaker, text)
	if err := sc.Save(); err != nil {
		return fmt.Errorf("save %s: %w", sc.ID, err)
	}

	out := cmd.OutOrStdout()
	if translateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(out, res.Text)
	if res.Err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.Source, res.Err)
	}
	return nil
}
