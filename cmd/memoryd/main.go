package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"memoryd/internal/agent"
	"memoryd/internal/agent/provider"
	"memoryd/internal/config"
	"memoryd/internal/embedding"
	"memoryd/internal/httpapi"
	"memoryd/internal/llm"
	"memoryd/internal/llm/anthropic"
	"memoryd/internal/mode"
	"memoryd/internal/observability"
	"memoryd/internal/persistence"
	"memoryd/internal/persistence/databases"
	"memoryd/internal/query"
	"memoryd/internal/scheduler"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(filepath.Join(cfg.DataDir, "logs", logFileName()), "info")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	release, err := acquireWorkerLock(cfg.DataDir, cfg.Port)
	if err != nil {
		log.Fatal().Err(err).Msg("worker singleton check failed")
	}
	defer release()

	dbManager, err := databases.NewManager(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init search/vector backends")
	}
	defer dbManager.Close()

	store := persistence.NewMemoryStoreWithSearch(
		databases.NewKindScoped(dbManager.Search, "observation"),
		databases.NewKindScoped(dbManager.Search, "summary"),
		databases.NewKindScoped(dbManager.Search, "prompt"),
	)
	defer store.Close()

	m, err := mode.Load(filepath.Join(cfg.DataDir, "mode.yaml"))
	if err != nil {
		log.Warn().Err(err).Msg("could not load mode bundle; using default")
		m = mode.Default()
	}

	httpClient := observability.NewHTTPClient(nil)
	chatProvider := buildProvider(cfg, httpClient)

	embedder := agent.NewVectorEmbedder(cfg.Embedding, dbManager.Vector)
	broadcaster := httpapi.NewBroadcaster()

	runnerFor := func(sess *agent.Session) *agent.Runner {
		return &agent.Runner{
			Store:       store,
			Provider:    chatProvider,
			Model:       resolveModel(cfg),
			Embedder:    embedder,
			Broadcaster: broadcaster,
		}
	}
	loader := newCachedSessionLoader(store, m, runnerFor)
	sched := scheduler.New(store, loader, cfg.Scheduler.MaxConcurrentSessions)

	queryEngine := &query.Engine{
		Store:  store,
		Vector: dbManager.Vector,
		Embed: func(ctx context.Context, text string) ([]float32, error) {
			vecs, err := embedding.EmbedText(ctx, cfg.Embedding, []string{text})
			if err != nil || len(vecs) == 0 {
				return nil, err
			}
			return vecs[0], nil
		},
	}

	server := httpapi.NewServer(store, sched, queryEngine, cfg)
	server.SSE = broadcaster

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: server}

	go func() {
		log.Info().Str("addr", addr).Msg("memoryd listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sched.AbortAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func logFileName() string {
	return "memoryd-" + time.Now().UTC().Format("2006-01-02") + ".log"
}

// buildProvider wires the three Agent (C5) provider variants behind a
// fallback Chain, per spec.md §4.3's auto/off/codex/sdk policy.
func buildProvider(cfg config.Config, httpClient *http.Client) llm.Provider {
	limiter := agent.NewRateLimiter(cfg.RateLimits, 50*time.Millisecond)

	anthropicClient := anthropic.New(cfg.Anthropic, httpClient)
	hosted := provider.NewHosted(anthropicClient, cfg.Anthropic.Model, "", limiter)

	cliProvider := provider.NewCLI(cfg.CLI)

	localHTTP, err := provider.NewLocalHTTP(cfg.LocalHTTP, httpClient)
	if err != nil {
		log.Warn().Err(err).Msg("local-http provider misconfigured; disabling")
		localHTTP = nil
	}

	var primary interface {
		llm.Provider
		Name() string
	}
	switch cfg.Provider {
	case "local-http":
		if localHTTP != nil {
			primary = localHTTP
		} else {
			primary = hosted
		}
	case "cli":
		primary = cliProvider
	default:
		primary = hosted
	}

	return agent.BuildChain(agent.FallbackPolicy(cfg.FallbackPolicy), primary, cliProvider, hosted)
}

func resolveModel(cfg config.Config) string {
	switch cfg.Provider {
	case "local-http":
		return cfg.LocalHTTP.Model
	default:
		return cfg.Anthropic.Model
	}
}
