package translate

import (
	"context"
	"fmt"

	"github.com/lazypower/parley/internal/config"
	"github.com/lazypower/parley/internal/llm"
	"github.com/lazypower/parley/internal/scope"
	"github.com/rs/zerolog/log"
)

// ClearCache empties the in-memory cache.
func (p *Pipeline) ClearCache() {
	p.cache.Purge()
}

// ClearHistory empties the current server's chat history.
func (p *Pipeline) ClearHistory() {
	if sc := p.router.CurrentScope(); sc != nil {
		sc.History.Clear()
	}
}

// ClearRetrieval empties and saves the current server's retrieval store.
func (p *Pipeline) ClearRetrieval() error {
	sc := p.router.CurrentScope()
	if sc == nil {
		return nil
	}
	return sc.Retrieval.Clear()
}

// ClearAll clears the cache and the current server's history and store.
func (p *Pipeline) ClearAll() error {
	p.ClearCache()
	p.ClearHistory()
	return p.ClearRetrieval()
}

// Stats reports container sizes for the current scope.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		CacheSize: p.cache.Len(),
		Servers:   p.router.Scopes(),
	}
	if sc := p.router.CurrentScope(); sc != nil {
		st.Connected = true
		st.ServerID = sc.ID
		st.HistorySize = sc.History.Len()
		st.RetrievalSize = sc.Retrieval.Size()
	}
	return st
}

// Health reports whether the inference endpoint answers.
func (p *Pipeline) Health(ctx context.Context) bool {
	return p.currentClient().Health(ctx)
}

// OnJoin selects the scope for a server address.
func (p *Pipeline) OnJoin(address string) *scope.Scope {
	return p.router.Resolve(p.router.OnJoin(address))
}

// OnLeave saves and deselects the current scope.
func (p *Pipeline) OnLeave() {
	p.router.OnLeave()
}

// SaveAll persists every scope.
func (p *Pipeline) SaveAll() error {
	return p.router.SaveAll()
}

// ApplyConfig picks up settings that can change at runtime: the inference
// endpoint and sampling options, and the retrieval capacity.
func (p *Pipeline) ApplyConfig(cfg config.Config) error {
	client, err := llm.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("rebuild llm client: %w", err)
	}
	p.SetClient(client)
	p.router.SetMaxEntries(cfg.RAGMaxEntries)
	log.Info().Bool("online", cfg.UseOnlineAPI).Int("rag_max", cfg.RAGMaxEntries).Msg("translation settings reloaded")
	return nil
}
