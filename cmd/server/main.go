package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"idlink/internal/audit"
	contacthandler "idlink/internal/contact/handler"
	contactmetrics "idlink/internal/contact/metrics"
	contactservice "idlink/internal/contact/service"
	contactstore "idlink/internal/contact/store"
	"idlink/internal/platform/config"
	"idlink/internal/platform/httpserver"
	"idlink/internal/platform/logger"
	platformmetrics "idlink/internal/platform/metrics"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics := platformmetrics.New()
	reconcileMetrics := contactmetrics.New()

	var tx contactservice.StoreTx
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetConnMaxIdleTime(5 * time.Minute)

		if err := contactstore.EnsureSchema(ctx, db); err != nil {
			log.Error("apply schema", "error", err)
			os.Exit(1)
		}
		tx = newContactPostgresTx(db, cfg.TxTimeout, log)
		log.Info("using postgres contact store")
	} else {
		tx = contactservice.NewInMemoryStoreTx(contactstore.NewMemory())
		log.Warn("DATABASE_URL not set, using in-memory contact store")
	}

	var publisher audit.Publisher = audit.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			log.Error("connect audit publisher", "error", err)
			os.Exit(1)
		}
		defer func() { _ = kafka.Close() }()
		publisher = kafka
		log.Info("audit events enabled", "topic", cfg.AuditTopic)
	}

	contacts := contactservice.New(tx,
		contactservice.WithLogger(log),
		contactservice.WithMetrics(reconcileMetrics),
		contactservice.WithAudit(publisher),
	)

	router := chi.NewRouter()
	contacthandler.New(contacts, log, appMetrics).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting contact service", "addr", cfg.Addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
