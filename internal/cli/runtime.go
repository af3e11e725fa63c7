package cli

import (
	"fmt"

	"github.com/lazypower/parley/internal/config"
	"github.com/lazypower/parley/internal/journal"
	"github.com/lazypower/parley/internal/llm"
	"github.com/lazypower/parley/internal/scope"
	"github.com/lazypower/parley/internal/translate"
)

// runtime bundles what serve and the one-shot commands share.
type runtime struct {
	cfg     *config.Store
	dataDir string
	router  *scope.Router
	pipe    *translate.Pipeline
	journal *journal.DB // nil when the journal could not be opened
}

// openRuntime loads config and assembles the router and pipeline. withJournal
// opens <data_dir>/journal.db and records every translation there.
func openRuntime(withJournal bool) (*runtime, error) {
	st, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := st.Get()

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	rt := &runtime{
		cfg:     st,
		dataDir: dataDir,
		router: scope.NewRouter(scope.Options{
			DataDir:     dataDir,
			MaxEntries:  cfg.RAGMaxEntries,
			HistorySize: cfg.ChatHistorySize,
		}),
	}

	var recorder translate.Recorder
	if withJournal {
		db, err := journal.Open(journal.DefaultPath(dataDir))
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.journal = db
		recorder = db
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	rt.pipe, err = translate.New(translate.Options{
		Config:   st,
		Router:   rt.router,
		Client:   client,
		Recorder: recorder,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) Close() error {
	if rt.journal != nil {
		return rt.journal.Close()
	}
	return nil
}
