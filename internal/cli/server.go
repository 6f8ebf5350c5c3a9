package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"github.com/ahmetmnr/dogalast-sub000/internal/app"
	"github.com/ahmetmnr/dogalast-sub000/internal/config"
	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
	"github.com/ahmetmnr/dogalast-sub000/internal/infra/memory"
	infrapg "github.com/ahmetmnr/dogalast-sub000/internal/infra/postgres"
	infraredis "github.com/ahmetmnr/dogalast-sub000/internal/infra/redis"
	"github.com/ahmetmnr/dogalast-sub000/internal/recovery"
	"github.com/ahmetmnr/dogalast-sub000/internal/timing"
	transport "github.com/ahmetmnr/dogalast-sub000/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var (
		sessionStore  app.SessionStore
		questionStore app.SessionQuestionStore
		eventStore    timing.EventStore
		auditStore    app.AuditStore
		loader        app.CatalogLoader = app.NewStaticCatalogLoader(sampleCatalog())
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()

		store := infrapg.NewStore(db)
		sessionStore = store.Sessions()
		questionStore = store.Questions()
		eventStore = store.Events()
		auditStore = store.Audit()
		loader = infrapg.NewCatalogLoader(pool)
	} else {
		store := memory.NewStore()
		sessionStore = store.Sessions()
		questionStore = store.Questions()
		eventStore = store.Events()
		auditStore = store.Audit()
	}

	catalog := app.NewCachedCatalog(loader, config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute))
	timingSvc := timing.NewService(eventStore, config.TTLDuration(cfg.Session.DedupWindow, timing.DefaultDedupWindow))

	engineCfg := app.DefaultConfig()
	engineCfg.IdempotencyTTL = config.TTLDuration(cfg.Session.IdempotencyTTL, engineCfg.IdempotencyTTL)
	engineCfg.SignalMinInterval = config.TTLDuration(cfg.Session.SignalMinInterval, engineCfg.SignalMinInterval)
	engine := app.NewEngine(sessionStore, questionStore, auditStore, catalog, timingSvc, engineCfg, logger)

	var presence recovery.Presence = recovery.NopPresence{}
	if redisClient != nil {
		presence = infraredis.NewPresence(redisClient, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	}

	policy := recovery.DefaultPolicy()
	policy.SessionTimeout = config.TTLDuration(cfg.Session.Timeout, policy.SessionTimeout)
	policy.MaxAttempts = config.PositiveInt(cfg.Session.MaxRecoveryAttempts, policy.MaxAttempts)
	policy.MaxMinorIssues = config.PositiveInt(cfg.Session.MaxMinorIssues, policy.MaxMinorIssues)
	recoverySvc := recovery.NewService(sessionStore, questionStore, eventStore, engine, presence, policy, logger)

	wsHandler := transport.NewWSHandler(engine, recoverySvc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting session engine", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleCatalog provides a minimal question set for running without
// Postgres; production loads the catalog from the questions table.
func sampleCatalog() []domain.Question {
	return []domain.Question{
		{
			ID:          "q-recycle-bin",
			Prompt:      "Kullanılmış kağıt, cam ve plastik hangi kutuya atılır?",
			Answer:      "geri dönüşüm",
			BasePoints:  10,
			TimeLimitMs: 10_000,
			Difficulty:  1,
		},
		{
			ID:          "q-compost",
			Prompt:      "Organik atıklardan elde edilen doğal gübreye ne denir?",
			Answer:      "kompost",
			BasePoints:  10,
			TimeLimitMs: 10_000,
			Difficulty:  2,
		},
		{
			ID:          "q-glass-decay",
			Prompt:      "Cam bir şişenin doğada çözünmesi yaklaşık kaç yıl sürer?",
			Answer:      "dört bin yıl",
			BasePoints:  15,
			TimeLimitMs: 12_000,
			Difficulty:  4,
		},
	}
}
