package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ticketx/ledger-engine/internal/catalog"
	"github.com/ticketx/ledger-engine/internal/config"
	"github.com/ticketx/ledger-engine/internal/events"
	"github.com/ticketx/ledger-engine/internal/exchange"
	"github.com/ticketx/ledger-engine/internal/history"
	"github.com/ticketx/ledger-engine/internal/ledger"
	"github.com/ticketx/ledger-engine/internal/limits"
	"github.com/ticketx/ledger-engine/internal/logging"
	"github.com/ticketx/ledger-engine/internal/metrics"
	"github.com/ticketx/ledger-engine/internal/negotiation"
	"github.com/ticketx/ledger-engine/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config) error {
	logger := logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Catalog ---
	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	// --- Initialize store ---
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeStore)

	// Wrap with Redis read-through cache if configured.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis.url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
		logger.Info("redis cache enabled")
	}

	// --- Event publishing ---
	var pub events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewSyncProducer(cfg.Kafka.Brokers, logger)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		cleanup = append(cleanup, func() { producer.Close() })
		pub = producer
		logger.Info("kafka publishing enabled", "brokers", cfg.Kafka.Brokers)
	}

	// --- WebSocket hub ---
	hub := exchange.NewWSHub(logger)
	go hub.Run(ctx)

	// --- Domain services ---
	rec := history.NewRecorder(st, history.Config{
		Publisher:      pub,
		Notifier:       hub,
		Catalog:        cat,
		Logger:         logger,
		Currency:       cfg.Currency,
		TradesTopic:    cfg.Kafka.TopicTrades,
		ProposalsTopic: cfg.Kafka.TopicProposals,
	})
	led := ledger.New(st, ledger.Config{
		Catalog:  cat,
		Recorder: rec,
		Limiter:  limits.NewPositionLimiter(cfg.Limits.MaxPerEvent, cfg.Limits.MaxPerOrder),
		Policy:   cfg.SellPolicy(),
		Logger:   logger,
	})
	eng := negotiation.NewEngine(st, led, negotiation.Config{
		Catalog:  cat,
		Recorder: rec,
		Logger:   logger,
	})
	go negotiation.NewSweeper(eng, cfg.Negotiation.ProposalTTL, cfg.Negotiation.SweepInterval, logger).Run(ctx)

	svc := exchange.NewService(exchange.Config{
		Ledger:         led,
		Engine:         eng,
		History:        rec,
		Catalog:        cat,
		Hub:            hub,
		Logger:         logger,
		DefaultBalance: cfg.DefaultBalance(),
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+exchange.UserHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":%q}`, cfg.ServiceName)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("ledger-engine listening", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down ledger-engine")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	return nil
}

// openStore builds the primary store selected by store.driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("connected to PostgreSQL")
		return pg, pool.Close, nil

	case "sqlite":
		sq, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened SQLite store", "path", cfg.Store.SQLitePath)
		return sq, func() { sq.Close() }, nil

	default:
		logger.Warn("using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}
}
