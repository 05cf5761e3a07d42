package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/config"
	"github.com/verifin/recon-cli/internal/discrepancy"
	"github.com/verifin/recon-cli/internal/extract"
	"github.com/verifin/recon-cli/internal/fetcher"
	"github.com/verifin/recon-cli/internal/ingest"
	"github.com/verifin/recon-cli/internal/llm"
	"github.com/verifin/recon-cli/internal/ocr"
	"github.com/verifin/recon-cli/internal/reconcile"
	"github.com/verifin/recon-cli/internal/resilience"
	"github.com/verifin/recon-cli/internal/store"
	"github.com/verifin/recon-cli/internal/summarize"
	anthropicpkg "github.com/verifin/recon-cli/pkg/anthropic"
)

// appEnv holds everything the commands share. Model-backed members are nil
// when no Anthropic key is configured.
type appEnv struct {
	Store      store.Store
	Breakers   *resilience.Breakers
	Engine     *discrepancy.Engine
	Summarizer summarize.Summarizer
	Reconcile  *reconcile.Service
	Ingestor   *ingest.Ingestor
	Auditor    *reconcile.Auditor
	Sources    fetcher.Sources
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode and builds the environment. withStore opens
// and migrates the configured database.
func initEnv(ctx context.Context, mode string, withStore bool) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	engine, err := newEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}

	env := &appEnv{
		Breakers:   resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig()),
		Engine:     engine,
		Summarizer: summarize.TemplateSummarizer{},
	}
	retry := resilience.FromConfig(cfg.Retry)

	env.Sources = fetcher.Sources{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Policy: resilience.NewPolicy("fetcher", retry, env.Breakers)}),
		FTP:  fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
	}

	var caller *llm.Caller
	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key,
			anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL),
			anthropicpkg.WithMaxRetries(0),
		)
		caller = llm.NewCaller(client, cfg.Anthropic.RequestsPerSecond, resilience.NewPolicy("anthropic", retry, env.Breakers))
		env.Summarizer = summarize.NewLLMSummarizer(caller, cfg.Anthropic.SummaryModel)
	} else {
		zap.L().Debug("no anthropic key configured, using template summaries")
	}

	if !withStore {
		return env, nil
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	env.Store = st
	env.Reconcile = reconcile.NewService(st, engine, env.Summarizer)

	if caller != nil {
		text, err := ocr.NewExtractor(cfg.OCR, resilience.NewPolicy("ocr", retry, env.Breakers))
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		fields := extract.NewLLMExtractor(caller, cfg.Anthropic.ExtractModel, cfg.Anthropic.MaxTokens)
		env.Ingestor = ingest.New(text, fields, st)
		env.Auditor = reconcile.NewAuditor(caller, st, cfg.Anthropic.SQLModel, cfg.Anthropic.SummaryModel)
	}

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "verifin.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// newEngine builds the discrepancy engine from the engine config section.
// An alias file extends the default aliases rather than replacing them.
func newEngine(c config.EngineConfig) (*discrepancy.Engine, error) {
	tol, err := c.Tolerance()
	if err != nil {
		return nil, err
	}

	aliases := discrepancy.DefaultAliases()
	if c.AliasFile != "" {
		over, err := discrepancy.LoadAliases(c.AliasFile)
		if err != nil {
			return nil, err
		}
		aliases = aliases.Merge(over)
	}

	opts := []discrepancy.Option{
		discrepancy.WithAliases(aliases),
		discrepancy.WithAmountTolerance(tol),
		discrepancy.WithDateWindow(c.DateWindowDays),
	}
	if len(c.DateLayouts) > 0 {
		opts = append(opts, discrepancy.WithDateLayouts(c.DateLayouts...))
	}
	return discrepancy.New(opts...), nil
}
