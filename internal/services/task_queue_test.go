package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/flowra/backend/internal/config"
)

func TestNewDeliveryQueue_RedisDisabled(t *testing.T) {
	queue := NewDeliveryQueue(&config.RedisConfig{Enabled: false})
	if queue.IsAsync() {
		t.Error("queue without Redis should be sync")
	}
	if err := queue.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestSyncQueue_EnqueueWithoutProcessor(t *testing.T) {
	queue := NewSyncQueue()
	if err := queue.Enqueue(&DeliveryJob{Type: JobNotificationEmail, NotificationID: "n1"}); err != nil {
		t.Errorf("Enqueue without processor should not fail, got %v", err)
	}
}

func TestSyncQueue_RunsEveryJob(t *testing.T) {
	queue := NewSyncQueue()
	var seen atomic.Int32
	queue.SetProcessor(func(ctx context.Context, job *DeliveryJob) error {
		if job.NotificationID == "" {
			t.Error("job should carry a notification id")
		}
		seen.Add(1)
		return nil
	})

	for _, jobType := range []string{JobNotificationEmail, JobNotificationPush, JobNotificationDiscord} {
		if err := queue.Enqueue(&DeliveryJob{Type: jobType, NotificationID: "n1"}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", jobType, err)
		}
	}
	queue.Wait()

	if seen.Load() != 3 {
		t.Errorf("expected 3 jobs processed, got %d", seen.Load())
	}
}

func TestSyncQueue_FailureIsSwallowed(t *testing.T) {
	queue := NewSyncQueue()
	queue.SetProcessor(func(ctx context.Context, job *DeliveryJob) error {
		return errors.New("smtp: connection refused")
	})

	if err := queue.Enqueue(&DeliveryJob{Type: JobNotificationEmail, NotificationID: "n1"}); err != nil {
		t.Errorf("delivery failure must not reach the caller, got %v", err)
	}
	queue.Wait()
}

func TestNewWorker_RedisDisabled(t *testing.T) {
	if w := NewWorker(&config.RedisConfig{Enabled: false}); w != nil {
		t.Error("NewWorker should return nil when Redis is disabled")
	}
}
