package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobState is the closed set of job lifecycle states tracked in Redis.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// JobStatus is one job's current lifecycle record.
type JobStatus struct {
	State        JobState `json:"state"`
	Confidence   float64  `json:"confidence,omitempty"`
	Engine       string   `json:"engine,omitempty"`
	VectorHits   int      `json:"vectorHits,omitempty"`
	ErrorKind    string   `json:"errorKind,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	DurationMs   int64    `json:"durationMs,omitempty"`
}

// JobStatusStore publishes job lifecycle events and keeps a queryable
// status record per job, independent of asynq's own dequeue/retry
// bookkeeping.
//
// Grounded on the original internal/queue/redis_consumer.go's
// updateJobStatus: SAdd/SRem set-membership per state, HSet for the
// per-job status/result hash, and a Publish to a dedicated events channel
// for downstream streaming consumers. The BRPop-based dequeue loop that
// surrounded it is not carried forward — asynq's server already owns
// dequeue for this queue, and running both would double-process jobs.
type JobStatusStore struct {
	client    *redis.Client
	queueName string
}

// NewJobStatusStore constructs a status store bound to one queue's
// Redis key namespace.
func NewJobStatusStore(client *redis.Client, queueName string) *JobStatusStore {
	return &JobStatusStore{client: client, queueName: queueName}
}

// SetStatus records the job's current status and publishes a lifecycle
// event for streaming consumers.
func (s *JobStatusStore) SetStatus(ctx context.Context, jobID string, status JobStatus) error {
	processingSet := s.queueName + ":processing"
	completedSet := s.queueName + ":completed"
	failedSet := s.queueName + ":failed"
	statusHash := s.queueName + ":status"
	eventsChannel := s.queueName + ":events"

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal job status: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, statusHash, jobID, payload)

	switch status.State {
	case JobStateProcessing:
		pipe.SAdd(ctx, processingSet, jobID)
	case JobStateCompleted:
		pipe.SRem(ctx, processingSet, jobID)
		pipe.SAdd(ctx, completedSet, jobID)
	case JobStateFailed:
		pipe.SRem(ctx, processingSet, jobID)
		pipe.SAdd(ctx, failedSet, jobID)
	}

	event, _ := json.Marshal(map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status.State),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	pipe.Publish(ctx, eventsChannel, event)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record job status: %w", err)
	}
	return nil
}

// GetStatus retrieves a job's current status record.
func (s *JobStatusStore) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	raw, err := s.client.HGet(ctx, s.queueName+":status", jobID).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("no status recorded for job %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job status: %w", err)
	}

	var status JobStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job status: %w", err)
	}
	return &status, nil
}

// QueueCounts reports the size of each lifecycle set for /stats-style
// dashboards.
func (s *JobStatusStore) QueueCounts(ctx context.Context) (map[string]int64, error) {
	processing, err := s.client.SCard(ctx, s.queueName+":processing").Result()
	if err != nil {
		return nil, err
	}
	completed, err := s.client.SCard(ctx, s.queueName+":completed").Result()
	if err != nil {
		return nil, err
	}
	failed, err := s.client.SCard(ctx, s.queueName+":failed").Result()
	if err != nil {
		return nil, err
	}

	return map[string]int64{
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}
