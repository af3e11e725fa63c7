package cli

import (
	"fmt"
	"os"

	"github.com/lazypower/parley/internal/config"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Real-time chat translation for multiplayer games",
	Long: "Parley translates game chat through a local llama-server or an OpenAI-compatible API,\n" +
		"remembering past translations per server so repeated phrases come back instantly.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(debugFlag)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <user config dir>/parley/config.json, or $PARLEY_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(ragCmd)
	rootCmd.AddCommand(llamaCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statsCmd)
}

// setupLogging points the global zerolog logger at stderr, pretty-printed
// when stderr is a terminal.
func setupLogging(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

// loadConfig opens the config store and applies debugMode to the logger.
func loadConfig() (*config.Store, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	st, err := config.Load(path)
	if err != nil {
		// defaults are still usable
		log.Warn().Err(err).Str("path", path).Msg("config")
	}
	if st.Get().DebugMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return st, nil
}
