package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flowra/backend/internal/config"
	"github.com/flowra/backend/pkg/logger"
	"github.com/hibiken/asynq"
)

// Worker processes delivery jobs from Redis.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor DeliveryProcessor
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig) *Worker {
	if !cfg.Enabled {
		return nil
	}

	server := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"notifications": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				logger.Warn().Err(err).Str("type", task.Type()).Int("retried", retried).Msg("[Worker] job failed")
			}),
		},
	)

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

func (w *Worker) SetProcessor(processor DeliveryProcessor) {
	w.processor = processor
}

// Start begins processing jobs
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	for _, jobType := range []string{JobNotificationEmail, JobNotificationPush, JobNotificationDiscord} {
		w.mux.HandleFunc(jobType, w.handleDeliveryJob)
	}

	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Infof("[Worker] Starting delivery worker...")
		if err := w.server.Run(w.mux); err != nil {
			logger.Errorf("[Worker] Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[Worker] Shutting down...")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	logger.Infof("[Worker] Shutdown complete")
}

func (w *Worker) handleDeliveryJob(ctx context.Context, t *asynq.Task) error {
	var job DeliveryJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		// malformed payloads will never succeed
		return fmt.Errorf("unmarshal %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	job.Type = t.Type()

	if w.processor == nil {
		logger.Warnf("[Worker] no processor set, dropping %s", job.Type)
		return nil
	}

	return w.processor(ctx, &job)
}
