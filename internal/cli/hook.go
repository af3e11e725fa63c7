package cli

import (
	"os"

	"github.com/lazypower/parley/internal/hooks"
	"github.com/spf13/cobra"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Handle chat events from a game integration",
	Long: "Reads one JSON event from stdin, forwards it to a running `parley serve`,\n" +
		"and writes the result to stdout. Always exits 0; chat lines are echoed\n" +
		"untranslated when the server is unavailable.",
}

func hookRun(event string) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		hooks.Handle(event, os.Stdin)
	}
}

func init() {
	hookCmd.AddCommand(&cobra.Command{
		Use:   "join",
		Short: "Switch to the scope for {\"address\": ...}",
		Run:   hookRun("join"),
	})
	hookCmd.AddCommand(&cobra.Command{
		Use:   "leave",
		Short: "Save and leave the current server scope",
		Run:   hookRun("leave"),
	})
	hookCmd.AddCommand(&cobra.Command{
		Use:   "incoming",
		Short: "Translate a received chat line {\"speaker\": ..., \"text\": ...}",
		Run:   hookRun("incoming"),
	})
	hookCmd.AddCommand(&cobra.Command{
		Use:   "outgoing",
		Short: "Translate a chat line before it is sent",
		Run:   hookRun("outgoing"),
	})
}
