// Command syncd is the long-running daemon: it loads configuration, opens
// the store, wires the OAuth2 manager and remote client, starts the
// scheduler, and serves Prometheus metrics, following the teacher's
// cmd/server graceful-shutdown shape.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obsidian-gcal/syncengine/internal/config"
	"github.com/obsidian-gcal/syncengine/internal/model"
	"github.com/obsidian-gcal/syncengine/internal/oauth2mgr"
	"github.com/obsidian-gcal/syncengine/internal/remote"
	"github.com/obsidian-gcal/syncengine/internal/scheduler"
	"github.com/obsidian-gcal/syncengine/internal/store"
	"github.com/obsidian-gcal/syncengine/internal/syncrun"
	"github.com/obsidian-gcal/syncengine/internal/tokenstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	st, err := store.Open(cfg.DBPath, cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()
	log.Printf("store opened at %s", cfg.DBPath)

	if persistedPort, err := st.LoadRedirectPort(); err != nil {
		log.Printf("warning: failed to read persisted redirect port: %v", err)
	} else if persistedPort != 0 {
		cfg.Settings.RedirectPort = persistedPort
	}

	tokens := tokenstore.New(st, cfg.Settings.RememberPassphrase)

	oauth := oauth2mgr.New(oauth2mgr.Endpoints{
		AuthorizationURL: cfg.AuthorizationURL,
		TokenURL:         cfg.TokenURL,
		RevocationURL:    cfg.RevocationURL,
		Scope:            cfg.Scope,
	}, cfg.Settings.ClientID, cfg.Settings.ClientSecret, tokens)

	remoteClient := remote.New(oauth.EnsureAccessToken)

	settings := cfg.Settings
	engine := syncrun.New(st, oauth, remoteClient, func() model.Settings {
		return settings
	})

	sched := scheduler.New(settings.SyncIntervalMinutes, settings.CronExpression,
		func(ctx context.Context) error {
			result, err := engine.Sync(ctx)
			if err != nil {
				return err
			}
			log.Printf("sync run complete: created=%d updated=%d deleted=%d skipped=%d errors=%d in %s",
				result.Counters.Created, result.Counters.Updated, result.Counters.Deleted,
				result.Counters.Skipped, result.Counters.Errors, result.Duration)
			return nil
		},
		engine.CredentialsReady,
	)

	if settings.AutoSync {
		sched.Start()
		log.Println("scheduler started")
	} else {
		log.Println("auto-sync disabled; use synccli sync-now to trigger a run")
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down gracefully...")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	log.Println("shutdown complete")
}
