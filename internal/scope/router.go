// Package scope maps the connected remote server to its retrieval store and
// chat history. The Router owns every scope it creates; callers hold cheap
// Handles and resolve them through the Router.
package scope

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/lazypower/parley/internal/history"
	"github.com/lazypower/parley/internal/rag"
	"github.com/rs/zerolog/log"
)

// Singleplayer is the server id used when no remote server is connected.
const Singleplayer = "singleplayer"

// Scope is the per-server state pair.
type Scope struct {
	ID        string
	Retrieval *rag.Store
	History   *history.Buffer
}

// Save persists the scope's retrieval store.
func (s *Scope) Save() error {
	return s.Retrieval.Save()
}

// Handle identifies a scope within its Router.
type Handle int

// Options configures new scopes.
type Options struct {
	DataDir     string // scopes persist under <DataDir>/servers/<id>/rag.json; empty keeps them in memory
	MaxEntries  int
	HistorySize int
}

// Router is the arena of scopes plus the current selection.
type Router struct {
	opts Options

	mu      sync.Mutex
	scopes  []*Scope
	byID    map[string]Handle
	current Handle
	active  bool
}

// NewRouter returns a router with no scopes and nothing current.
func NewRouter(opts Options) *Router {
	return &Router{
		opts: opts,
		byID: make(map[string]Handle),
	}
}

// CanonicalID lowercases address and replaces every run of characters
// outside [a-z0-9] with a single underscore. An empty address
// maps to Singleplayer.
func CanonicalID(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return Singleplayer
	}
	var b strings.Builder
	b.Grow(len(address))
	underscore := false
	for _, r := range strings.ToLower(address) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	return b.String()
}

// StorePath returns where the retrieval store for id lives.
func StorePath(dataDir, id string) string {
	return filepath.Join(dataDir, "servers", id, "rag.json")
}

// OnJoin saves the current scope, then selects (creating if needed) the
// scope for address.
func (r *Router) OnJoin(address string) Handle {
	id := CanonicalID(address)

	if cur := r.CurrentScope(); cur != nil {
		r.save(cur)
	}

	r.mu.Lock()
	h, ok := r.byID[id]
	if ok {
		r.current, r.active = h, true
		r.mu.Unlock()
		log.Info().Str("server", id).Msg("resumed server scope")
		return h
	}
	opts := r.opts
	r.mu.Unlock()

	// load outside the router lock; disk I/O
	sc := newScope(id, opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byID[id]; ok {
		r.current, r.active = h, true
		return h
	}
	h = Handle(len(r.scopes))
	r.scopes = append(r.scopes, sc)
	r.byID[id] = h
	r.current, r.active = h, true
	log.Info().Str("server", id).Int("entries", sc.Retrieval.Size()).Msg("created server scope")
	return h
}

func newScope(id string, opts Options) *Scope {
	var store *rag.Store
	if opts.DataDir == "" {
		store = rag.New("", opts.MaxEntries)
	} else {
		store = rag.Open(StorePath(opts.DataDir, id), opts.MaxEntries)
	}
	return &Scope{
		ID:        id,
		Retrieval: store,
		History:   history.New(opts.HistorySize),
	}
}

// OnLeave saves the current scope and clears the selection. Scopes are kept.
func (r *Router) OnLeave() {
	cur := r.CurrentScope()
	if cur == nil {
		return
	}
	r.save(cur)

	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
	log.Info().Str("server", cur.ID).Msg("left server scope")
}

// SaveAll saves every scope ever created.
func (r *Router) SaveAll() error {
	r.mu.Lock()
	scopes := make([]*Scope, len(r.scopes))
	copy(scopes, r.scopes)
	r.mu.Unlock()

	var firstErr error
	for _, sc := range scopes {
		if err := r.save(sc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) save(sc *Scope) error {
	sc.Retrieval.Flush()
	if err := sc.Save(); err != nil {
		log.Warn().Err(err).Str("server", sc.ID).Msg("save server scope")
		return err
	}
	return nil
}

// Current returns the handle of the current scope, if any.
func (r *Router) Current() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.active
}

// Resolve returns the scope for h, or nil for an unknown handle.
func (r *Router) Resolve(h Handle) *Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h < 0 || int(h) >= len(r.scopes) {
		return nil
	}
	return r.scopes[h]
}

// CurrentScope returns the current scope or nil.
func (r *Router) CurrentScope() *Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	return r.scopes[r.current]
}

// Lookup returns the scope for a server address without selecting it.
func (r *Router) Lookup(address string) *Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[CanonicalID(address)]
	if !ok {
		return nil
	}
	return r.scopes[h]
}

// Scopes lists the ids of every scope, in creation order.
func (r *Router) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.scopes))
	for i, sc := range r.scopes {
		ids[i] = sc.ID
	}
	return ids
}

// SetMaxEntries applies a new retrieval capacity to every scope and to
// scopes created later.
func (r *Router) SetMaxEntries(n int) {
	r.mu.Lock()
	r.opts.MaxEntries = n
	scopes := make([]*Scope, len(r.scopes))
	copy(scopes, r.scopes)
	r.mu.Unlock()
	for _, sc := range scopes {
		sc.Retrieval.SetMaxEntries(n)
	}
}
