package svc

import (
	"context"
	"fmt"

	"github.com/costory/costory/internal/agent/ai"
	"github.com/costory/costory/internal/agent/prompt"
	"github.com/costory/costory/internal/agent/runner"
	"github.com/costory/costory/internal/agent/summarizer"
	"github.com/costory/costory/internal/agent/tools"
	"github.com/costory/costory/internal/balance"
	"github.com/costory/costory/internal/config"
	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/middleware"
	"github.com/costory/costory/internal/provider"
	"github.com/costory/costory/internal/quota"
	"github.com/costory/costory/internal/registry"
)

// ServiceContext holds the long-lived components shared by handlers and the CLI.
type ServiceContext struct {
	Config config.Config

	DB         *db.Store
	Sessions   *db.SessionManager
	Registry   *registry.Registry
	Engine     *balance.Engine
	Ledger     *quota.Ledger
	Provider   ai.Provider
	Prompts    *prompt.Builder
	Tools      *tools.Registry
	Summarizer *summarizer.Summarizer
	Runner     *runner.Runner
	Limiter    *middleware.RateLimiter

	watcher *provider.Watcher
}

// Options overrides components, mainly for tests.
type Options struct {
	// DB reuses an open store instead of opening Config.Database.SQLitePath.
	DB *db.Store
	// Provider replaces the OpenRouter/Anthropic router.
	Provider ai.Provider
	// Seed fixes the routing engine's random source when non-zero.
	Seed uint64
}

// NewServiceContext opens storage and wires the arbitration core.
func NewServiceContext(c config.Config, opts ...Options) (*ServiceContext, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	svc := &ServiceContext{Config: c}

	if o.DB != nil {
		svc.DB = o.DB
		logging.Info("Using shared database connection")
	} else {
		store, err := db.NewSQLite(c.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		svc.DB = store
	}
	svc.Sessions = db.NewSessionManager(svc.DB)

	catalog, err := loadCatalog(c)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Registry = registry.New(catalog, registry.Options{
		CatalogURL:      c.OpenRouter.CatalogURL,
		RefreshInterval: c.Registry.RefreshInterval,
		RateLimitTTL:    c.Registry.RateLimitTTL,
	})
	logging.Infof("Model registry initialized (%d models, default %s)", len(catalog.Models), catalog.Default)

	if c.ModelsFile != "" {
		w, err := provider.WatchFile(c.ModelsFile, func(cfg *provider.ModelsConfig) {
			applyDefaultModel(cfg, c.Registry.DefaultModel)
			svc.Registry.Reload(cfg)
		})
		if err != nil {
			logging.Warnf("Model catalog hot reload disabled: %v", err)
		} else {
			svc.watcher = w
		}
	}

	if o.Seed != 0 {
		svc.Engine = balance.NewSeeded(svc.Registry, o.Seed)
	} else {
		svc.Engine = balance.New(svc.Registry, nil)
	}
	svc.Ledger = quota.NewLedger(svc.DB, svc.Registry, quota.WithMarkup(c.Billing.Markup))

	svc.Provider = o.Provider
	if svc.Provider == nil {
		svc.Provider = newProvider(c)
	}

	svc.Prompts = prompt.NewBuilder(svc.Sessions, svc.DB)
	svc.Tools = tools.NewStoryRegistry(svc.DB)
	svc.Summarizer = summarizer.New(svc.Sessions, svc.Registry, svc.Provider, summarizer.Options{
		KeepRecent:    c.Summarizer.KeepRecent,
		MinCandidates: c.Summarizer.MinCandidates,
		Timeout:       c.Summarizer.Timeout,
	})

	rc := c.Runner
	svc.Runner = runner.New(runner.Config{
		MaxTurns:           rc.MaxTurns,
		CandidatesPerTurn:  rc.CandidatesPerTurn,
		AttemptsPerModel:   rc.AttemptsPerModel,
		BackoffBase:        rc.BackoffBase,
		ModelSwitchDelay:   rc.ModelSwitchDelay,
		CodexLookupDelay:   rc.CodexLookupDelay,
		MaxTokens:          rc.MaxTokens,
		MaxTokensFree:      rc.MaxTokensFree,
		RequestTimeout:     rc.RequestTimeout,
		PostProcessTimeout: rc.PostProcessTimeout,
	}, runner.Deps{
		Provider:   svc.Provider,
		Ledger:     svc.Ledger,
		Router:     svc.Engine,
		Models:     svc.Registry,
		Prompts:    svc.Prompts,
		History:    svc.Sessions,
		Tools:      svc.Tools,
		Summarizer: svc.Summarizer,
	})

	if c.IsRateLimitEnabled() {
		svc.Limiter = middleware.NewRateLimiter(c.RateLimit.RequestsPerMinute, c.RateLimit.Burst)
	}
	return svc, nil
}

func loadCatalog(c config.Config) (*provider.ModelsConfig, error) {
	catalog := provider.Default()
	if c.ModelsFile != "" {
		var err error
		catalog, err = provider.Load(c.ModelsFile)
		if err != nil {
			return nil, fmt.Errorf("load models catalog: %w", err)
		}
	}
	applyDefaultModel(catalog, c.Registry.DefaultModel)
	return catalog, nil
}

// applyDefaultModel overrides the catalog default when id is described there.
func applyDefaultModel(cfg *provider.ModelsConfig, id string) {
	if id == "" || id == cfg.Default {
		return
	}
	for _, m := range cfg.Models {
		if m.ID == id {
			cfg.Default = id
			return
		}
	}
	logging.Warnf("Configured default model %s is not in the catalog, keeping %s", id, cfg.Default)
}

// newProvider routes everything through OpenRouter, and anthropic/* models to
// Anthropic directly when a key is configured.
func newProvider(c config.Config) ai.Provider {
	router := ai.NewRouter(ai.NewOpenAIProvider(ai.OpenAIConfig{
		APIKey:  c.OpenRouter.APIKey,
		BaseURL: c.OpenRouter.BaseURL,
		Referer: c.OpenRouter.Referer,
		Title:   c.OpenRouter.Title,
	}))
	if c.OpenRouter.APIKey == "" {
		logging.Warn("OpenRouter API key not configured - model calls will fail")
	}
	if c.Anthropic.APIKey != "" {
		router.Route(ai.AnthropicPrefix, ai.NewAnthropicProvider(c.Anthropic.APIKey))
		logging.Info("Anthropic models routed directly")
	}
	return router
}

// Start launches background jobs: the pricing refresh.
func (svc *ServiceContext) Start(ctx context.Context) {
	if err := svc.Registry.Start(ctx); err != nil {
		logging.Warnf("Pricing refresh not scheduled: %v", err)
	}
}

// Close drains post-processing and releases resources.
func (svc *ServiceContext) Close() {
	if svc.Runner != nil {
		svc.Runner.Wait()
	}
	if svc.Registry != nil {
		svc.Registry.Stop()
	}
	if svc.watcher != nil {
		svc.watcher.Close()
	}
	if svc.DB != nil {
		svc.DB.Close()
		logging.Info("SQLite database connection closed")
	}
	logging.Info("Service context closed")
}
