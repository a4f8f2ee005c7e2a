package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vaultlab/portfolio-engine/internal/chain"
	"github.com/vaultlab/portfolio-engine/internal/config"
	"github.com/vaultlab/portfolio-engine/internal/metrics"
	"github.com/vaultlab/portfolio-engine/internal/pipeline"
	"github.com/vaultlab/portfolio-engine/internal/reconcile"
	"github.com/vaultlab/portfolio-engine/internal/registry"
	"github.com/vaultlab/portfolio-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, pool.Close)
	st = store.NewPostgresStore(pool)
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

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Vault registry, seeded from the vaults table ---
	vaults, err := st.ListActiveVaults(ctx)
	if err != nil {
		slog.Error("loading vaults failed", "err", err)
		os.Exit(1)
	}
	reg, err := registry.FromVaults(vaults)
	if err != nil {
		slog.Error("vault registry invalid", "err", err)
		os.Exit(1)
	}
	slog.Info("vault registry loaded", "vaults", len(vaults))

	// --- On-chain read client ---
	reader, err := chain.NewReader(ctx, cfg.RPCURLs())
	if err != nil {
		slog.Error("rpc client init failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, reader.Close)

	engine := reconcile.NewEngine(st, reader)

	// --- One listener per chain ---
	var wg sync.WaitGroup
	for _, ch := range cfg.Chains {
		addrs := reg.AddressesFor(ch.Name)
		if len(addrs) == 0 {
			slog.Warn("no active vaults on chain, skipping", "chain", ch.Name)
			continue
		}

		sub := chain.NewSubscriber(ch.Name, ch.WSURL, addrs, cfg.ReconnectDelay)
		lst := pipeline.NewListener(ch.Name, reg, engine)

		wg.Add(2)
		go func() {
			defer wg.Done()
			sub.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			lst.Run(ctx, sub.Logs())
		}()
		slog.Info("chain listener started", "chain", ch.Name, "addresses", len(addrs))
	}

	// --- Ops endpoint ---
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-listener"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ops endpoint listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server error", "err", err)
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	slog.Info("shutting down portfolio-listener...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	wg.Wait()
	fmt.Println("portfolio-listener stopped")
}
