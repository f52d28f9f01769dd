package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/fd-attendance/internal/api"
	"github.com/your-org/fd-attendance/internal/api/ws"
	"github.com/your-org/fd-attendance/internal/attendance"
	"github.com/your-org/fd-attendance/internal/config"
	"github.com/your-org/fd-attendance/internal/engine"
	"github.com/your-org/fd-attendance/internal/enroll"
	"github.com/your-org/fd-attendance/internal/index"
	"github.com/your-org/fd-attendance/internal/observability"
	"github.com/your-org/fd-attendance/internal/photostore"
	"github.com/your-org/fd-attendance/internal/preview"
	"github.com/your-org/fd-attendance/internal/queue"
	"github.com/your-org/fd-attendance/internal/reconcile"
	"github.com/your-org/fd-attendance/internal/roster"
	"github.com/your-org/fd-attendance/internal/stream"

	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting attendance service", "port", cfg.Server.Port, "org", cfg.Server.Org)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// C3: durable roster repository, wrapped with spec §9's retry decorator.
	pg, err := roster.NewPostgres(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()
	repo := roster.WithRetry(pg)

	// C4: photo object store.
	photos, err := photostore.New(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := photos.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// C1: face model engine (detect + embed), mutex-gated.
	eng, err := engine.New(cfg.Vision)
	if err != nil {
		slog.Error("init face model engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	// C2: identity index, with an optional Redis mirror.
	var mirror index.Mirror
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis mirror unavailable, continuing without it", "error", err)
		} else {
			mirror = index.NewRedisMirror(rdb)
		}
	}
	idx := index.New(cfg.Vision.MinCosineAccept, mirror)

	identities, err := repo.ListIdentities(ctx, cfg.Server.Org)
	if err != nil {
		slog.Error("load identities", "error", err)
		os.Exit(1)
	}
	pairs := make(map[string][]float32, len(identities))
	for _, id := range identities {
		pairs[id.Label] = id.Embedding
	}
	idx.LoadFromPairs(pairs)
	slog.Info("identity index loaded", "count", len(pairs))

	// Write-through publish side: C5 fires into an ordered per-org NATS
	// subject; a single-goroutine durable consumer persists to C3 in order.
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	if err := producer.EnsureStream(ctx); err != nil {
		slog.Error("ensure nats stream", "error", err)
		os.Exit(1)
	}

	// C5/C6/C7: write-through cache, schedule resolver, admission gate.
	groupCache := attendance.NewGroupCache(repo, cfg.Server.Org, cfg.Attendance.GroupCacheTTL)
	personCache := attendance.NewPersonCache(repo, cfg.Server.Org, cfg.Attendance.PersonCacheTTL)
	resolver := attendance.NewResolver(groupCache, personCache)
	store := attendance.NewStore(repo, producer, personCache, cfg.Server.Org, cfg.Attendance.CooldownSec, cfg.Attendance.MaxEvents)
	if _, err := store.Load(ctx, true); err != nil {
		slog.Error("load attendance cache", "error", err)
		os.Exit(1)
	}
	gate := attendance.NewGate(store)

	// C8/C11: enrollment and preview.
	previews := preview.New(cfg.Attendance.PreviewTTL, cfg.Attendance.PreviewCap)
	enroller := enroll.NewService(repo, photos, idx, eng, previews, personCache, cfg.Vision.DupThreshold)

	// C9: per-session realtime recognizer.
	recognizer := stream.NewRecognizer(eng, idx, gate, store, personCache, cfg.Attendance.WSMinInterval)
	hub := ws.NewHub(recognizer, cfg.Vision.DetectionThreshold, true, cfg.Attendance.LoginMessageDelay)
	go hub.Run()

	// Durable write-through consumer: drains the per-org subject C5
	// published to and persists each event to C3 in admit order, then
	// hints connected sessions to re-fetch the log.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create attendance consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()
	if err := consumer.ConsumeOrg(ctx, cfg.Server.Org, repo, hub); err != nil {
		slog.Error("start attendance consumer", "error", err)
		os.Exit(1)
	}

	// C10: optional directory reconciler.
	var reconciler *reconcile.Reconciler
	reconcilerDone := make(chan struct{})
	if cfg.Reconciler.Enabled {
		reconciler = reconcile.New(cfg.Server.Org, cfg.Reconciler.WatchDir, cfg.Reconciler.WatchDir+"/.watch_index.json",
			cfg.Reconciler.DebounceWindow, cfg.Reconciler.ShutdownGrace, repo, enroller, hub)
		go func() {
			reconciler.Run(ctx)
			close(reconcilerDone)
		}()
		slog.Info("directory reconciler enabled", "watch_dir", cfg.Reconciler.WatchDir)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey: cfg.Server.APIKey, Org: cfg.Server.Org,
		Repo: repo, Photos: photos, Index: idx, Enroller: enroller, Previews: previews,
		Store: store, Resolver: resolver, Producer: producer, Hub: hub, DB: pg,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	cancel()

	if reconciler != nil {
		reconciler.Stop(reconcilerDone)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
