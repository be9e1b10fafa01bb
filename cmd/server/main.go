package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hicpool/pool-engine/internal/api"
	"github.com/hicpool/pool-engine/internal/config"
	"github.com/hicpool/pool-engine/internal/messaging"
	"github.com/hicpool/pool-engine/internal/metrics"
	"github.com/hicpool/pool-engine/internal/pool"
	"github.com/hicpool/pool-engine/internal/store"
	"github.com/hicpool/pool-engine/internal/timer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	params := config.DefaultParams()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pgPool.Close)
		pg := store.NewPostgresStore(pgPool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Event sinks ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)
	sinks := []pool.EventSink{wsHub}

	if cfg.NatsURL != "" {
		pub, err := messaging.NewPublisher(messaging.DefaultConfig(cfg.NatsURL))
		if err != nil {
			slog.Error("NATS connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { pub.Close() })
		sinks = append(sinks, pub)
		slog.Info("publishing events to NATS", "subject_prefix", messaging.SubjectPrefix)
	}

	// --- Ecosystem ---
	eco, err := pool.Recover(ctx, params, cfg.Deployer, st, pool.WithSinks(sinks...))
	if err != nil {
		slog.Error("restore failed", "err", err)
		os.Exit(1)
	}

	// --- Timer ---
	runner := timer.NewRunner(eco, cfg.TimerTick)
	go runner.Run(ctx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+api.CallerHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"pool-engine","initialised":%t}`, eco.Pool().Initialised)
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The WebSocket feed must not run under a request timeout.
		r.Get("/ws", wsHub.HandleWS)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			api.NewHandler(eco, nil).WithInitDefaults(api.InitDefaults{
				TimerAddress: cfg.TimerAddress,
				IsWinterTime: cfg.IsWinterTime,
			}).Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("pool-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down pool-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := st.SaveSnapshot(shutdownCtx, eco.Snapshot()); err != nil {
		slog.Error("final snapshot failed", "err", err)
	}
	fmt.Println("pool-engine stopped")
}
