package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowra/backend/internal/config"
	"github.com/flowra/backend/pkg/logger"
	"github.com/hibiken/asynq"
)

// Delivery job types. Each carries only the notification id; the processor reloads the row.
const (
	JobNotificationEmail   = "notification:email"
	JobNotificationPush    = "notification:push"
	JobNotificationDiscord = "notification:discord"
)

const deliveryMaxRetry = 3

// DeliveryJob is one side effect of a created notification.
type DeliveryJob struct {
	Type           string `json:"type"`
	NotificationID string `json:"notification_id"`
}

// DeliveryProcessor runs a job. Returning an error lets the async queue retry it.
type DeliveryProcessor func(ctx context.Context, job *DeliveryJob) error

// DeliveryQueue accepts notification side effects.
type DeliveryQueue interface {
	Enqueue(job *DeliveryJob) error
	// IsAsync returns true if jobs are handed to Redis and retried
	IsAsync() bool
	Close() error
}

// NewDeliveryQueue returns an asynq-backed queue when Redis is enabled and reachable,
// otherwise an in-process queue.
func NewDeliveryQueue(cfg *config.RedisConfig) DeliveryQueue {
	if cfg.Enabled {
		queue, err := NewAsyncQueue(cfg)
		if err != nil {
			logger.Warnf("[DeliveryQueue] Redis unavailable, falling back to sync mode: %v", err)
			return NewSyncQueue()
		}
		logger.Infof("[DeliveryQueue] Async queue initialized with Redis at %s", cfg.Addr)
		return queue
	}
	logger.Infof("[DeliveryQueue] Sync queue initialized (Redis disabled)")
	return NewSyncQueue()
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements DeliveryQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(job *DeliveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	info, err := q.client.Enqueue(asynq.NewTask(job.Type, payload),
		asynq.Queue("notifications"),
		asynq.MaxRetry(deliveryMaxRetry),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Type, err)
	}

	logger.Debug().Str("job_id", info.ID).Str("type", job.Type).Str("notification_id", job.NotificationID).Msg("[AsyncQueue] job enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue runs each job once on its own goroutine. Failures are logged and dropped.
type SyncQueue struct {
	mu        sync.RWMutex
	processor DeliveryProcessor
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor DeliveryProcessor) {
	q.mu.Lock()
	q.processor = processor
	q.mu.Unlock()
}

func (q *SyncQueue) Enqueue(job *DeliveryJob) error {
	q.mu.RLock()
	processor := q.processor
	q.mu.RUnlock()

	if processor == nil {
		logger.Warnf("[SyncQueue] no processor set, %s job for %s dropped", job.Type, job.NotificationID)
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := processor(ctx, job); err != nil {
			logger.Warn().Err(err).Str("type", job.Type).Str("notification_id", job.NotificationID).Msg("[SyncQueue] delivery failed")
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

// Wait blocks until in-flight jobs finish.
func (q *SyncQueue) Wait() {
	q.wg.Wait()
}

// Close waits for in-flight jobs.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
