package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bnema/dither/config"
	minioStore "github.com/bnema/dither/internal/adapter/objectstore/minio"
	sqlitestore "github.com/bnema/dither/internal/adapter/storage/sqlite"
	ffmpegTransform "github.com/bnema/dither/internal/adapter/transform/ffmpeg"
	imagingTransform "github.com/bnema/dither/internal/adapter/transform/imaging"
	"github.com/bnema/dither/internal/infrastructure/logger"
	"github.com/bnema/dither/internal/infrastructure/metrics"
	"github.com/bnema/dither/internal/port"
	"github.com/bnema/dither/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("error").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("starting dither", "worker_id", cfg.WorkerID, "data_dir", cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}

	store, err := sqlitestore.NewStore(cfg.DataDir)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	jobStore := sqlitestore.NewJobStore(store)
	assetRepo := sqlitestore.NewAssetRepo(store)

	objects, err := minioStore.NewClient(&minioStore.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		log.Error("failed to create object storage client", "error", err)
		os.Exit(1)
	}

	images := imagingTransform.NewTransformer()
	frames := ffmpegTransform.NewExtractor()

	router := service.NewRouter(log)
	router.Register(service.NewThumbnailHandler(assetRepo, objects, images, frames,
		port.ThumbnailOptions{Size: cfg.ThumbnailSize, Quality: cfg.ThumbnailQuality}, log))
	router.Register(service.NewPreviewHandler(assetRepo, objects, images, frames,
		port.PreviewOptions{MaxSize: cfg.PreviewMaxSize, Quality: cfg.PreviewQuality}, log))

	admin := service.NewAdminService(jobStore, log)

	// Recover jobs a previous run of this worker left claimed.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := admin.ResetStuck(startupCtx, cfg.StuckJobAge); err != nil {
		log.Error("failed to reset stuck jobs", "error", err)
	}
	startupCancel()

	pollers := make([]*service.QueuePoller, 0, len(cfg.Queues))
	for _, qc := range cfg.Queues {
		poller := service.NewQueuePoller(service.PollerConfig{
			Queue:        qc.Queue,
			Concurrency:  qc.Concurrency,
			PollInterval: qc.PollInterval,
			JobTimeout:   qc.JobTimeout,
		}, jobStore, router, cfg.WorkerID, log)
		poller.Start()
		pollers = append(pollers, poller)
	}

	// Periodic recovery of jobs orphaned by other crashed workers.
	recoveryCtx, recoveryCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.StuckJobAge / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := admin.ResetStuck(recoveryCtx, cfg.StuckJobAge); err != nil {
					log.Error("stuck job recovery failed", "error", err)
				}
			case <-recoveryCtx.Done():
				return
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received signal, shutting down", "signal", sig.String())

	// Shutdown order: stop acquiring, drain in-flight work up to the bounded
	// timeout, then release anything still running so no job stays claimed by
	// a dead worker.
	recoveryCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	for _, p := range pollers {
		p.Stop()
	}

	var wg sync.WaitGroup
	for _, p := range pollers {
		wg.Add(1)
		go func(p *service.QueuePoller) {
			defer wg.Done()
			if !p.WaitForCompletion(cfg.ShutdownTimeout) {
				p.AbortActiveJobs(shutdownCtx)
				p.WaitForCompletion(5 * time.Second)
			}
		}(p)
	}
	wg.Wait()

	log.Info("shutdown complete")
}
