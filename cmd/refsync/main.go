package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/agrimesh/refsync/internal/acquire"
	"github.com/agrimesh/refsync/internal/blob"
	"github.com/agrimesh/refsync/internal/catalogue"
	"github.com/agrimesh/refsync/internal/config"
	"github.com/agrimesh/refsync/internal/dataset"
	"github.com/agrimesh/refsync/internal/docstore"
	"github.com/agrimesh/refsync/internal/httpserver"
	"github.com/agrimesh/refsync/internal/ingest"
	"github.com/agrimesh/refsync/internal/lineage"
	"github.com/agrimesh/refsync/internal/orchestrate"
	"github.com/agrimesh/refsync/internal/querysvc"
	"github.com/agrimesh/refsync/internal/report"
)

func main() {
	serve := flag.Bool("serve", false, "start the HTTP API instead of running one import")
	lookback := flag.Int("lookback", 0, "override LOOKBACK_DAYS for this run")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.LUTC)
	cfg := config.LoadFromEnv()
	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL required")
	}
	if *lookback > 0 {
		cfg.LookbackDays = *lookback
	}

	registry, err := dataset.NewRegistry(dataset.Defaults())
	if err != nil {
		log.Fatalf("dataset registry: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	ctx := context.Background()

	externalStore, err := blob.NewS3Store(ctx, cfg.ExternalBucket, cfg.ExternalFolder)
	if err != nil {
		log.Fatalf("external store: %v", err)
	}
	internalStore, err := blob.NewS3Store(ctx, cfg.InternalBucket, cfg.InternalFolder)
	if err != nil {
		log.Fatalf("internal store: %v", err)
	}

	// Resolving through the factory keeps the encrypted drop folder read-only.
	stores := &blob.StaticFactory{External: externalStore, Internal: internalStore}
	external, err := stores.Reader(ctx, blob.SourceExternal)
	if err != nil {
		log.Fatalf("external store: %v", err)
	}
	internal, err := stores.Store(ctx, blob.SourceInternal)
	if err != nil {
		log.Fatalf("internal store: %v", err)
	}

	docs := docstore.NewPGStore(db)

	reportStore := report.NewPGStore(db)
	if err := reportStore.EnsureSchema(ctx); err != nil {
		log.Fatalf("report schema: %v", err)
	}
	reports := report.NewService(reportStore)

	lineageStore := lineage.NewPGStore(db)

	var publisher lineage.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := lineage.NewKafkaPublisher(lineage.KafkaPublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka publisher: %v", err)
		}
		defer kp.Close()
		publisher = kp
	}
	recorder := lineage.NewRecorder(lineageStore, publisher)

	creds := acquire.StaticCredentials{
		Password: cfg.DecryptPassword,
		Salt:     cfg.DecryptSalt,
	}
	acq := acquire.New(external, internal, catalogue.New(external, registry), creds, reports, cfg.LookbackDays)
	ing := ingest.New(internal, catalogue.New(internal, registry), docs, recorder, reports, cfg.LookbackDays)
	runner := orchestrate.New(acq, ing, lineageStore, reports, "s3")

	if !*serve {
		r, err := runner.Run(ctx, "")
		if err != nil {
			log.Fatalf("import failed: %v", err)
		}
		log.Printf("import %s completed", r.ImportID)
		return
	}

	queries := querysvc.New(registry, docs)
	server := httpserver.New(docs, queries, reports, lineageStore, runner)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("refsync service listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	shutdown(httpServer)
}

func shutdown(s *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
