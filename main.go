package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pricewatch/api"
	"pricewatch/config"
	"pricewatch/extractor"
	"pricewatch/history"
	"pricewatch/httputil"
	"pricewatch/logging"
	"pricewatch/models"
	"pricewatch/monitor"
	"pricewatch/scheduler"
	"pricewatch/services"
	"pricewatch/storage"
)

var (
	checkNow  = flag.Bool("check", false, "Run one price check sweep and exit")
	productID = flag.String("product", "", "Product id for -check or -enqueue check_product")
	enqueue   = flag.String("enqueue", "", "Queue a command (check_all, check_product, pause, resume) for the running daemon and exit")
	listen    = flag.String("listen", "", "HTTP listen address (overrides LISTEN_ADDR)")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		logging.Warnf("could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting pricewatch...")

	// SQLite always holds the operational tables (runs, logs, commands).
	opsStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer opsStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	if *enqueue != "" {
		id, err := opsStore.EnqueueCommand(models.CommandType(*enqueue), models.CommandParams{ProductID: *productID})
		if err != nil {
			log.Fatalf("Failed to enqueue command: %v", err)
		}
		log.Printf("Queued command %s (#%d)", *enqueue, id)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var registry storage.Registry = opsStore
	if cfg.DatabaseURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		registry = pgStore
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
	}

	ext := extractor.Default()
	if len(cfg.Sources) > 0 {
		ext = extractor.FromConfig(cfg.Sources)
	}
	for _, source := range models.Sources {
		log.Printf("  - source %s: %d extraction rules", source, ext.RuleCount(source))
	}

	opts := monitor.Options{
		AlertThreshold: cfg.Monitor.AlertThreshold,
		Concurrency:    cfg.Monitor.Concurrency,
		Log: func(level models.LogLevel, productID, message string) {
			if err := opsStore.Log(nil, level, message, productID); err != nil {
				logging.Debugf("[monitor] persist log: %v", err)
			}
		},
	}
	if cfg.Snapshot.Enabled() {
		archiver, err := storage.NewS3Archiver(ctx, storage.S3Config{
			Bucket:          cfg.Snapshot.Bucket,
			Region:          cfg.Snapshot.Region,
			Endpoint:        cfg.Snapshot.Endpoint,
			AccessKeyID:     cfg.Snapshot.AccessKeyID,
			SecretAccessKey: cfg.Snapshot.SecretAccessKey,
		})
		if err != nil {
			logging.Warnf("snapshot archive disabled: %v", err)
		} else {
			opts.Archiver = archiver
			log.Printf("Archiving unparsable pages to s3://%s", cfg.Snapshot.Bucket)
		}
	}

	ledger := history.NewLedger(registry, cfg.Monitor.HistoryMergeWindow)
	mon := monitor.New(registry, httputil.NewFetcher(cfg.Fetch), ext, ledger, opts)
	sched := scheduler.New(cfg.Scheduler, mon, opsStore)

	// One-shot mode
	if *checkNow {
		if *productID != "" {
			res, err := sched.TriggerProduct(ctx, *productID)
			if err != nil {
				log.Fatalf("Check failed: %v", err)
			}
			log.Printf("Check complete: %d alerts", len(res.Alerts))
			return
		}
		res, err := sched.TriggerAll(ctx)
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		log.Printf("Sweep complete: %d checked, %d failed, %d alerts", res.Checked, res.Failed, len(res.Alerts))
		return
	}

	// Daemon mode
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	handler := api.NewHandler(
		services.NewProductService(registry, ledger),
		services.NewAlertService(registry),
		sched,
	)
	handler.SetRuns(opsStore)
	addr := cfg.ListenAddr
	if *listen != "" {
		addr = *listen
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("API shutdown: %v", err)
	}
	sched.Stop()
	log.Println("Goodbye!")
}

// maskConnectionString hides the password of a database URL for logging.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.Scheme == "" {
		return connStr
	}
	return u.Redacted()
}
