package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazypower/parley/internal/config"
	"github.com/lazypower/parley/internal/server"
	"github.com/lazypower/parley/internal/supervisor"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the translation service and its control API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.cfg.Get()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The supervisor only matters for the local backend; online mode leaves it nil.
	var sup *supervisor.Supervisor
	opts := server.Options{Pipeline: rt.pipe, Journal: rt.journal, Version: VersionString()}
	if !cfg.UseOnlineAPI {
		sup = supervisor.New(supervisor.SettingsFrom(cfg, rt.dataDir))
		opts.Supervisor = sup
		if cfg.AutoStartLlamaServer {
			sup.StartAsync(context.Background())
		}
	}
	log.Info().Str("backend", backendName(cfg)).Msg("inference")

	rt.journal.StartRetention(ctx, cfg.JournalRetention())

	if err := rt.cfg.Watch(ctx, func(c config.Config) {
		if err := rt.pipe.ApplyConfig(c); err != nil {
			log.Warn().Err(err).Msg("apply reloaded config")
		}
		if sup != nil {
			// picked up on the next start
			sup.Configure(supervisor.SettingsFrom(c, rt.dataDir))
		}
	}); err != nil {
		log.Warn().Err(err).Msg("config watcher disabled")
	}

	srv := server.New(opts)
	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("data_dir", rt.dataDir).Str("journal", rt.journal.Path).Msg("parley serving")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-done:
		log.Info().Msg("shutting down")
	case err := <-errc:
		log.Error().Err(err).Msg("server error")
		shutdown(rt, sup)
		return fmt.Errorf("serve %s: %w", addr, err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	err = httpServer.Shutdown(shutdownCtx)
	shutdown(rt, sup)
	return err
}

func shutdown(rt *runtime, sup *supervisor.Supervisor) {
	if err := rt.pipe.SaveAll(); err != nil {
		log.Warn().Err(err).Msg("save scopes")
	}
	if sup != nil {
		sup.Stop()
	}
}

func backendName(cfg config.Config) string {
	if cfg.UseOnlineAPI {
		return "online " + cfg.OnlineAPIURL
	}
	return "llama-server " + cfg.LLMServerURL
}
