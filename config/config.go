package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/dither/internal/domain"
)

type QueueConfig struct {
	Queue        domain.Queue
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type Config struct {
	DataDir         string
	LogLevel        string
	MetricsAddr     string
	WorkerID        string
	ShutdownTimeout time.Duration
	StuckJobAge     time.Duration

	ThumbnailSize    int
	ThumbnailQuality int
	PreviewMaxSize   int
	PreviewQuality   int

	Minio  MinioConfig
	Queues []QueueConfig
}

// queueDefaults is concurrency / job timeout per logical queue. Large files
// and AI inference get more headroom, fewer slots.
var queueDefaults = map[domain.Queue]struct {
	concurrency int
	timeout     time.Duration
}{
	domain.QueueDefault:    {concurrency: 2, timeout: 10 * time.Minute},
	domain.QueueLargeFiles: {concurrency: 1, timeout: 30 * time.Minute},
	domain.QueuePriority:   {concurrency: 4, timeout: 5 * time.Minute},
	domain.QueueAI:         {concurrency: 1, timeout: 20 * time.Minute},
}

func Load() (*Config, error) {
	pollIntervalMS, err := getEnvInt("POLL_INTERVAL_MS", 1000)
	if err != nil {
		return nil, err
	}

	shutdownSeconds, err := getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}

	stuckMinutes, err := getEnvInt("STUCK_JOB_MINUTES", 30)
	if err != nil {
		return nil, err
	}

	thumbSize, err := getEnvInt("THUMBNAIL_SIZE", 256)
	if err != nil {
		return nil, err
	}
	thumbQuality, err := getEnvInt("THUMBNAIL_QUALITY", 80)
	if err != nil {
		return nil, err
	}
	previewMaxSize, err := getEnvInt("PREVIEW_MAX_SIZE", 1440)
	if err != nil {
		return nil, err
	}
	previewQuality, err := getEnvInt("PREVIEW_QUALITY", 85)
	if err != nil {
		return nil, err
	}

	minioEndpoint := os.Getenv("MINIO_ENDPOINT")
	if minioEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is required")
	}
	minioAccessKey := os.Getenv("MINIO_ACCESS_KEY")
	minioSecretKey := os.Getenv("MINIO_SECRET_KEY")
	if minioAccessKey == "" || minioSecretKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}

	queues, err := loadQueues(time.Duration(pollIntervalMS) * time.Millisecond)
	if err != nil {
		return nil, err
	}

	return &Config{
		DataDir:          getEnv("DATA_DIR", "/data"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9090"),
		WorkerID:         getEnv("WORKER_ID", defaultWorkerID()),
		ShutdownTimeout:  time.Duration(shutdownSeconds) * time.Second,
		StuckJobAge:      time.Duration(stuckMinutes) * time.Minute,
		ThumbnailSize:    thumbSize,
		ThumbnailQuality: thumbQuality,
		PreviewMaxSize:   previewMaxSize,
		PreviewQuality:   previewQuality,
		Minio: MinioConfig{
			Endpoint:  minioEndpoint,
			AccessKey: minioAccessKey,
			SecretKey: minioSecretKey,
			UseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		},
		Queues: queues,
	}, nil
}

func loadQueues(pollInterval time.Duration) ([]QueueConfig, error) {
	order := []domain.Queue{
		domain.QueueDefault,
		domain.QueueLargeFiles,
		domain.QueuePriority,
		domain.QueueAI,
	}

	queues := make([]QueueConfig, 0, len(order))
	for _, q := range order {
		defaults := queueDefaults[q]
		prefix := "QUEUE_" + envName(q)

		concurrency, err := getEnvInt(prefix+"_CONCURRENCY", defaults.concurrency)
		if err != nil {
			return nil, err
		}
		timeoutSeconds, err := getEnvInt(prefix+"_TIMEOUT_SECONDS", int(defaults.timeout/time.Second))
		if err != nil {
			return nil, err
		}

		queues = append(queues, QueueConfig{
			Queue:        q,
			Concurrency:  concurrency,
			PollInterval: pollInterval,
			JobTimeout:   time.Duration(timeoutSeconds) * time.Second,
		})
	}
	return queues, nil
}

func envName(q domain.Queue) string {
	return strings.ToUpper(strings.ReplaceAll(string(q), "-", "_"))
}

func defaultWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}
	return hostname + "-" + uuid.NewString()[:8]
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
