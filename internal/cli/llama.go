package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lazypower/parley/internal/supervisor"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var llamaCmd = &cobra.Command{
	Use:   "llama",
	Short: "Manage the local llama-server",
}

var llamaStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run llama-server in the foreground until interrupted",
	RunE:  runLlamaStart,
}

var llamaCommandCmd = &cobra.Command{
	Use:   "command",
	Short: "Print the llama-server command line parley would run",
	RunE:  runLlamaCommand,
}

func init() {
	llamaCmd.AddCommand(llamaStartCmd)
	llamaCmd.AddCommand(llamaCommandCmd)
}

func llamaSettings() (supervisor.Settings, error) {
	st, err := loadConfig()
	if err != nil {
		return supervisor.Settings{}, err
	}
	cfg := st.Get()
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return supervisor.Settings{}, fmt.Errorf("resolve data dir: %w", err)
	}
	return supervisor.SettingsFrom(cfg, dataDir), nil
}

func runLlamaStart(cmd *cobra.Command, args []string) error {
	settings, err := llamaSettings()
	if err != nil {
		return err
	}
	// an explicit start overrides autoStartLlamaServer
	settings.AutoStart = true
	sup := supervisor.New(settings)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start llama-server: %w", err)
	}
	log.Info().Int("pid", sup.PID()).Msg("llama-server up, ctrl-c to stop")

	<-ctx.Done()
	sup.Stop()
	return nil
}

func runLlamaCommand(cmd *cobra.Command, args []string) error {
	settings, err := llamaSettings()
	if err != nil {
		return err
	}
	line := append([]string{settings.Executable}, settings.Args()...)
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(line, " "))
	return nil
}
