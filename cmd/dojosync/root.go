package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dojoverse/dojosync/internal/api"
	"github.com/dojoverse/dojosync/internal/backend"
	"github.com/dojoverse/dojosync/internal/cache"
	"github.com/dojoverse/dojosync/internal/config"
	"github.com/dojoverse/dojosync/internal/conflict"
	"github.com/dojoverse/dojosync/internal/db"
	"github.com/dojoverse/dojosync/internal/interaction"
	"github.com/dojoverse/dojosync/internal/logging"
	"github.com/dojoverse/dojosync/internal/media"
	"github.com/dojoverse/dojosync/internal/netstatus"
	"github.com/dojoverse/dojosync/internal/policy"
	"github.com/dojoverse/dojosync/internal/queue"
	"github.com/dojoverse/dojosync/internal/storage"
	syncpkg "github.com/dojoverse/dojosync/internal/sync"
	"github.com/dojoverse/dojosync/internal/sync/scheduler"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "dojosync",
	Short: "DojoSync - offline-first sync engine for the dojo community app",
	RunE:  run,
}

// engine bundles everything a command needs to run sync passes.
type engine struct {
	cfg      *config.Config
	database *db.DB
	queue    *queue.Queue
	store    *cache.Store
	detector *conflict.Detector
	orch     *syncpkg.Orchestrator
	network  netstatus.Checker
	policy   policy.DataPolicy
}

func (e *engine) close() {
	if err := e.database.Close(); err != nil {
		logging.Error("Database close failed", err, nil)
	}
}

// buildEngine wires the full component graph from configuration.
func buildEngine() (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.Log.Level))

	database, err := db.Open(cfg.Database.Dir)
	if err != nil {
		return nil, err
	}

	var client backend.Client
	if cfg.Backend.URL != "" {
		client = backend.NewHTTPClient(backend.HTTPConfig{
			BaseURL:        cfg.Backend.URL,
			APIKey:         cfg.Backend.APIKey,
			DefaultTimeout: time.Duration(cfg.Backend.Timeout),
		})
	} else {
		// Dev mode without a backend: operations land in memory only.
		logging.Warn("No backend configured, using in-memory client", nil)
		client = backend.NewMemoryClient()
	}

	q := queue.New(database)
	store := cache.NewStore(database)
	detector := conflict.NewDetector(database)
	interactions := interaction.NewClient(client, detector, interaction.NewBackendRoles(client))

	// Attachment signing is optional: without storage credentials or a
	// public base URL, read paths hand out raw storage paths.
	if cfg.Storage.AccessKeyID != "" || cfg.Storage.Endpoint != "" || cfg.Storage.PublicBaseURL != "" {
		resolver, err := storage.NewResolver(context.Background(), storage.Config{
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UsePathStyle:    cfg.Storage.UsePathStyle,
			Buckets:         cfg.Storage.Buckets,
			PublicBaseURL:   cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			database.Close()
			return nil, err
		}
		interactions = interactions.WithAttachments(resolver)
	}

	var mediaCache media.Cache
	if cfg.Media.CacheDir != "" {
		disk, err := media.NewDiskCache(cfg.Media.CacheDir)
		if err != nil {
			database.Close()
			return nil, err
		}
		mediaCache = disk
	}

	orch := syncpkg.NewOrchestrator(q, store, client, interactions, mediaCache)
	if user := os.Getenv("DOJOSYNC_USER_ID"); user != "" {
		orch.SetUser(user)
	}

	var network netstatus.Checker
	if cfg.Sync.ProbeURL != "" {
		network = netstatus.NewProbe(cfg.Sync.ProbeURL, 30*time.Second)
	} else if cfg.Backend.URL != "" {
		network = netstatus.NewProbe(cfg.Backend.URL, 30*time.Second)
	} else {
		static := netstatus.NewStatic()
		static.Set(true, netstatus.ConnectionWifi)
		network = static
	}

	return &engine{
		cfg:      cfg,
		database: database,
		queue:    q,
		store:    store,
		detector: detector,
		orch:     orch,
		network:  network,
		policy:   policy.NewSettingsPolicy(store, network),
	}, nil
}

// run starts the daemon: background scheduler plus the status API, shut
// down together on SIGTERM/SIGINT.
func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	logging.Info("Engine initialized", map[string]interface{}{
		"version": Version,
		"db_dir":  eng.cfg.Database.Dir,
	})

	sched := scheduler.New(eng.orch, eng.network, eng.policy, &scheduler.Config{
		SyncInterval: time.Duration(eng.cfg.Sync.Interval),
		PassTimeout:  time.Duration(eng.cfg.Sync.PassTimeout),
	})
	sched.Start(ctx)
	defer sched.Stop()

	router := api.NewRouter(api.NewHandler(eng.orch, eng.queue, eng.detector))
	addr := fmt.Sprintf(":%d", eng.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(eng.cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(eng.cfg.Server.WriteTimeout),
	}

	go func() {
		logging.Info("Status API listening", map[string]interface{}{"address": addr})
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("Server error", err, nil)
			cancel()
		}
	}()

	<-ctx.Done()
	logging.Info("Shutdown initiated", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), time.Duration(eng.cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown error", err, nil)
	}

	logging.Info("Shutdown complete", nil)
	return nil
}
