package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/lazypower/mnemos/internal/classify"
	"github.com/lazypower/mnemos/internal/config"
	"github.com/lazypower/mnemos/internal/directory"
	"github.com/lazypower/mnemos/internal/embed"
	"github.com/lazypower/mnemos/internal/engine"
	"github.com/lazypower/mnemos/internal/llm"
	"github.com/lazypower/mnemos/internal/store"
	"github.com/lazypower/mnemos/internal/tenant"
	"github.com/lazypower/mnemos/internal/vector"
)

// app is the wired engine stack shared by serve and the local commands.
type app struct {
	cfg    config.Config
	dbPath string
	db     *store.DB
	eng    *engine.Engine
	teams  *tenant.Teams
	claims *tenant.Coordinator

	closers []func()
}

func (a *app) Close() {
	if a.eng != nil {
		a.eng.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openApp opens the database, rebuilds the dense index and wires the engine.
// Status lines go to stderr when verbose is set.
func openApp(ctx context.Context, verbose bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}
	logf := func(format string, args ...any) {
		if verbose {
			fmt.Fprintf(os.Stderr, format, args...)
		}
	}

	a.dbPath = cfg.Database.Path
	if a.dbPath == "" {
		if a.dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	a.db, err = store.Open(a.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, func() { a.db.Close() })

	emb, err := newEmbedder(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	logf("  embedder: %s (%d dims)\n", emb.Model(), emb.Dimensions())

	ix, err := vector.New()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	adapter := store.NewAdapter(a.db, ix, emb)
	n, err := adapter.Reindex(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("rebuild dense index: %w", err)
	}
	logf("  indexed %d memories\n", n)

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), running on heuristics\n", err)
		client = nil
	} else if client != nil {
		logf("  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	var backend tenant.Backend
	if cfg.Directory.DSN != "" {
		pg, closePG, err := directory.Open(ctx, cfg.Directory.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, closePG)
		backend = pg
		logf("  directory: postgres\n")
	} else {
		backend = store.NewDirectory(a.db)
	}

	a.teams = tenant.NewTeams(backend)
	a.claims, err = tenant.NewCoordinator(backend, adapter, backend)
	if err != nil {
		a.Close()
		return nil, err
	}

	classifier := classify.New(client, cfg.ClassifierTimeout(), cfg.Classifier.FallbackConfidenceCap)
	a.eng = engine.New(adapter, classifier, client, a.teams, engine.OptionsFromConfig(cfg))
	return a, nil
}

// newEmbedder picks the configured embedder. "auto" uses Ollama when it
// answers and the offline hashed embedder otherwise.
func newEmbedder(cfg config.Config) (embed.Embedder, error) {
	ollamaURL := cfg.LLM.OllamaURL
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	dims := cfg.LLM.EmbeddingDims

	var inner embed.Embedder
	switch cfg.LLM.EmbeddingProvider {
	case "hashed":
		inner = embed.NewHashed(dims)
	case "ollama":
		inner = embed.NewOllama(ollamaURL, cfg.LLM.EmbeddingModel, dims)
	case "openai":
		if cfg.LLM.OpenAIKey == "" && cfg.LLM.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("openai embeddings require OPENAI_API_KEY or a base url")
		}
		inner = embed.NewOpenAI(cfg.LLM.OpenAIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.EmbeddingModel, dims)
	case "", "auto":
		if embed.OllamaAvailable(ollamaURL, cfg.LLM.EmbeddingModel) {
			inner = embed.NewOllama(ollamaURL, cfg.LLM.EmbeddingModel, dims)
		} else {
			inner = embed.NewHashed(dims)
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.LLM.EmbeddingProvider)
	}
	return embed.NewCached(inner, cfg.Retrieval.CacheItems)
}
