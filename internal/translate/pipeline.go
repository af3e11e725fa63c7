// Package translate is the translation pipeline: in-memory cache, then the
// current server's retrieval store, then the model. Failures never reach
// the caller; the original text comes back instead.
package translate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lazypower/parley/internal/config"
	"github.com/lazypower/parley/internal/history"
	"github.com/lazypower/parley/internal/journal"
	"github.com/lazypower/parley/internal/llm"
	"github.com/lazypower/parley/internal/scope"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Source names the tier that produced a Result.
type Source string

const (
	SourcePassthrough Source = "passthrough" // translation off, no scope, or blank input
	SourceCache       Source = "cache"
	SourceRetrieval   Source = "retrieval"
	SourceModel       Source = "model"
	SourceFallback    Source = "fallback" // inference failed; original returned
	SourceTimeout     Source = "timeout"  // outgoing budget exceeded; original returned
)

// Result is the outcome of one translation. Text is never empty for
// non-empty input: it is either the translation or the original.
type Result struct {
	Text     string        `json:"text"`
	Source   Source        `json:"source"`
	TimedOut bool          `json:"timed_out"`
	ServerID string        `json:"server_id,omitempty"`
	Latency  time.Duration `json:"-"`
	Err      error         `json:"-"`
}

// Recorder receives every translation outcome.
type Recorder interface {
	Record(ctx context.Context, ev journal.Event) error
}

// Stats is a point-in-time view of the pipeline's containers.
type Stats struct {
	ServerID      string   `json:"server_id"`
	Connected     bool     `json:"connected"`
	CacheSize     int      `json:"cache_size"`
	HistorySize   int      `json:"history_size"`
	RetrievalSize int      `json:"retrieval_size"`
	Servers       []string `json:"servers"`
}

// Options wires a Pipeline.
type Options struct {
	Config   *config.Store
	Router   *scope.Router
	Client   llm.Client
	Recorder Recorder // optional
}

// Pipeline translates chat lines. It is safe for concurrent use.
type Pipeline struct {
	cfg      *config.Store
	router   *scope.Router
	recorder Recorder
	cache    *lru.Cache[string, string]
	group    singleflight.Group

	clientMu sync.RWMutex
	client   llm.Client
}

// New creates a pipeline. The cache capacity is read from the config once.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil || opts.Router == nil || opts.Client == nil {
		return nil, fmt.Errorf("translate: config, router, and client are required")
	}
	size := opts.Config.Get().TranslationCacheSize
	if size <= 0 {
		size = config.Default().TranslationCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Pipeline{
		cfg:      opts.Config,
		router:   opts.Router,
		recorder: opts.Recorder,
		cache:    cache,
		client:   opts.Client,
	}, nil
}

// Router returns the storage router the pipeline reads scopes from.
func (p *Pipeline) Router() *scope.Router {
	return p.router
}

// SetClient swaps the inference client. In-flight requests keep the old one.
func (p *Pipeline) SetClient(c llm.Client) {
	p.clientMu.Lock()
	defer p.clientMu.Unlock()
	p.client = c
}

func (p *Pipeline) currentClient() llm.Client {
	p.clientMu.RLock()
	defer p.clientMu.RUnlock()
	return p.client
}

// TranslateIncoming translates a received chat line into targetLanguage,
// giving the model recent conversation as context.
func (p *Pipeline) TranslateIncoming(ctx context.Context, speaker, text string) Result {
	return p.translate(ctx, history.Incoming, speaker, text)
}

// TranslateOutgoing translates the user's own line into
// outgoingTargetLanguage. It never waits longer than
// outgoingTranslationTimeout; on timeout the original is returned and the
// inference continues in the background.
func (p *Pipeline) TranslateOutgoing(ctx context.Context, speaker, text string) Result {
	return p.translate(ctx, history.Outgoing, speaker, text)
}

// TranslateIncomingAsync is TranslateIncoming without blocking the caller.
func (p *Pipeline) TranslateIncomingAsync(ctx context.Context, speaker, text string) <-chan Result {
	return p.async(ctx, history.Incoming, speaker, text)
}

// TranslateOutgoingAsync is TranslateOutgoing without blocking the caller.
func (p *Pipeline) TranslateOutgoingAsync(ctx context.Context, speaker, text string) <-chan Result {
	return p.async(ctx, history.Outgoing, speaker, text)
}

// Translate dispatches on dir.
func (p *Pipeline) Translate(ctx context.Context, dir history.Direction, speaker, text string) Result {
	return p.translate(ctx, dir, speaker, text)
}

func (p *Pipeline) async(ctx context.Context, dir history.Direction, speaker, text string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- p.translate(ctx, dir, speaker, text)
	}()
	return out
}

func cacheKey(target, text string) string {
	return target + "\x00" + text
}

// flightKey scopes in-flight deduplication to one server and direction so a
// shared request never writes into another scope or carries the wrong context.
func flightKey(serverID string, dir history.Direction, target, text string) string {
	return serverID + "\x00" + dir.String() + "\x00" + cacheKey(target, text)
}

// flight is the value shared by every waiter on one in-flight key.
type flight struct {
	text   string
	cached bool
}

func (p *Pipeline) translate(ctx context.Context, dir history.Direction, speaker, text string) Result {
	start := time.Now()
	cfg := p.cfg.Get()

	enabled := cfg.AutoTranslateIncoming
	target := cfg.TargetLanguage
	if dir == history.Outgoing {
		enabled = cfg.AutoTranslateOutgoing
		target = cfg.OutgoingTargetLanguage
	}
	if !cfg.TranslationEnabled || !enabled || strings.TrimSpace(text) == "" {
		return Result{Text: text, Source: SourcePassthrough}
	}

	h, ok := p.router.Current()
	if !ok {
		return Result{Text: text, Source: SourcePassthrough}
	}
	sc := p.router.Resolve(h)
	if sc == nil {
		return Result{Text: text, Source: SourcePassthrough}
	}

	key := cacheKey(target, text)
	line := history.ChatLine{Speaker: speaker, Original: text, Direction: dir}

	if translated, ok := p.cache.Get(key); ok {
		line.Translated = translated
		sc.History.Append(line)
		return p.finish(sc.ID, dir, speaker, text, Result{Text: translated, Source: SourceCache}, start)
	}

	if cfg.RAGEnabled {
		if e, ok := sc.Retrieval.Exact(text); ok && e.Translated != "" {
			p.cache.Add(key, e.Translated)
			line.Translated = e.Translated
			sc.History.Append(line)
			return p.finish(sc.ID, dir, speaker, text, Result{Text: e.Translated, Source: SourceRetrieval}, start)
		}
	}

	ch := p.group.DoChan(flightKey(sc.ID, dir, target, text), func() (any, error) {
		return p.infer(sc, cfg, dir, speaker, text, target, key)
	})

	var timeout <-chan time.Time
	if dir == history.Outgoing {
		timer := time.NewTimer(cfg.OutgoingTimeoutDuration())
		defer timer.Stop()
		timeout = timer.C
	}

	var res Result
	select {
	case r := <-ch:
		if r.Err != nil {
			log.Debug().Err(r.Err).Str("server", sc.ID).Str("direction", dir.String()).Msg("translation failed, returning original")
			res = Result{Text: text, Source: SourceFallback, Err: r.Err}
		} else if f := r.Val.(flight); f.cached {
			res = Result{Text: f.text, Source: SourceCache}
		} else {
			res = Result{Text: f.text, Source: SourceModel}
		}
	case <-timeout:
		log.Debug().Str("server", sc.ID).Dur("budget", cfg.OutgoingTimeoutDuration()).Msg("outgoing translation timed out, sending original")
		res = Result{Text: text, Source: SourceTimeout, TimedOut: true, Err: context.DeadlineExceeded}
	case <-ctx.Done():
		res = Result{Text: text, Source: SourceFallback, Err: ctx.Err()}
	}
	return p.finish(sc.ID, dir, speaker, text, res, start)
}

// infer calls the model and, on success, populates every tier. It runs
// once per in-flight key under its own timeout so that a caller giving up
// does not cancel it.
func (p *Pipeline) infer(sc *scope.Scope, cfg config.Config, dir history.Direction, speaker, text, target, key string) (flight, error) {
	// an identical request may have finished between the cache miss and here
	if translated, ok := p.cache.Get(key); ok {
		sc.History.Append(history.ChatLine{Speaker: speaker, Original: text, Translated: translated, Direction: dir})
		return flight{text: translated, cached: true}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeoutDuration())
	defer cancel()

	req := &llm.Request{Text: text, TargetLanguage: target}
	if dir == history.Incoming {
		req.Context = sc.History.RecentContext(cfg.ContextMessages)
	}

	resp, err := p.currentClient().Complete(ctx, req)
	if err != nil {
		return flight{}, err
	}
	translated := resp.Content

	p.cache.Add(key, translated)
	sc.History.Append(history.ChatLine{Speaker: speaker, Original: text, Translated: translated, Direction: dir})
	if cfg.RAGEnabled {
		sc.Retrieval.Upsert(text, translated, speaker)
	}
	return flight{text: translated}, nil
}

func (p *Pipeline) finish(serverID string, dir history.Direction, speaker, text string, res Result, start time.Time) Result {
	res.ServerID = serverID
	res.Latency = time.Since(start)
	if res.Text == "" {
		res.Text = text
	}
	if p.recorder != nil {
		ev := journal.Event{
			ServerID:   serverID,
			Direction:  dir.String(),
			Speaker:    speaker,
			Original:   text,
			Translated: res.Text,
			Source:     string(res.Source),
			LatencyMS:  res.Latency.Milliseconds(),
			TimedOut:   res.TimedOut,
			CreatedAt:  time.Now(),
		}
		if res.Err != nil {
			ev.Error = res.Err.Error()
		}
		go func() {
			if err := p.recorder.Record(context.Background(), ev); err != nil {
				log.Debug().Err(err).Msg("journal record")
			}
		}()
	}
	return res
}
