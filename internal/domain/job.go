package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeThumbnail       JobType = "thumbnail-generation"
	JobTypePreview         JobType = "preview-generation"
	JobTypeMetadata        JobType = "metadata-extraction"
	JobTypeGeocoding       JobType = "geocoding"
	JobTypeFaceDetection   JobType = "face-detection"
	JobTypeObjectDetection JobType = "object-detection"
	JobTypeSearchIndexing  JobType = "search-indexing"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

type Queue string

const (
	QueueDefault    Queue = "default"
	QueueLargeFiles Queue = "large-files"
	QueuePriority   Queue = "priority"
	QueueAI         Queue = "ai"
)

const DefaultMaxAttempts = 3

type Job struct {
	ID          string
	AssetID     string
	Type        JobType
	Queue       Queue
	Priority    int
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	WorkerID    string
	LastError   string
	Result      string // JSON-encoded JobResult
	Payload     string // JSON bag of job-specific parameters
	TraceID     string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	NextRetryAt time.Time
}

func NewJob(assetID string, jobType JobType, queue Queue, priority int, traceID string) *Job {
	return &Job{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		Type:        jobType,
		Queue:       queue,
		Priority:    priority,
		Status:      JobStatusPending,
		MaxAttempts: DefaultMaxAttempts,
		TraceID:     traceID,
		CreatedAt:   time.Now(),
	}
}

// JobResult is the structured output a handler records on completion.
type JobResult struct {
	OutputKey  string `json:"output_key,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

const maxRetryBackoff = time.Hour

// RetryBackoff returns the delay before the next attempt after the given
// number of attempts: 2^attempts seconds, capped at one hour.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 11 {
		// 2^12s already exceeds the cap
		return maxRetryBackoff
	}
	backoff := time.Duration(1<<uint(attempts)) * time.Second
	if backoff > maxRetryBackoff {
		return maxRetryBackoff
	}
	return backoff
}
