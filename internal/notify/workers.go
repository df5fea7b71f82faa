// internal/notify/workers.go
package notify

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/arcadehall/arena/internal/models"
)

// Redis list names for the delivery job queues.
const (
	PushQueueName  = "arena_jobs_push"
	EmailQueueName = "arena_jobs_email"
)

const (
	pushBatchSize  = 10
	pushInterval   = 5 * time.Second
	emailBatchSize = 5
	emailInterval  = 10 * time.Second
	maxAttempts    = 3
)

// deliveryJob is one push or email fan-out unit, serialized onto a Redis
// list the way the source system queued historian actions.
type deliveryJob struct {
	NotificationID uuid.UUID              `json:"notification_id"`
	UserID         uuid.UUID              `json:"user_id"`
	Channel        models.DeliveryChannel `json:"channel"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Attempt        int                    `json:"attempt"`
	NotBefore      time.Time              `json:"not_before"`
}

// workerPool drains the push and email queues on their own batch cadences.
type workerPool struct {
	rdb   *redis.Client
	store Store
	log   *logrus.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newWorkerPool(rdb *redis.Client, store Store, log *logrus.Logger) *workerPool {
	return &workerPool{rdb: rdb, store: store, log: log, stopCh: make(chan struct{})}
}

// enqueue pushes a job onto its channel's queue. Enqueue must eventually
// succeed: transient Redis failures are retried in the background rather
// than dropped or surfaced to the caller.
func (w *workerPool) enqueue(ctx context.Context, job deliveryJob) {
	data, err := json.Marshal(job)
	if err != nil {
		w.log.WithError(err).Error("failed to marshal delivery job")
		return
	}
	queueName := PushQueueName
	if job.Channel == models.ChannelEmail {
		queueName = EmailQueueName
	}

	if err := w.rdb.RPush(ctx, queueName, data).Err(); err == nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for delay := time.Second; ; delay *= 2 {
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			select {
			case <-w.stopCh:
				w.log.WithField("notification", job.NotificationID).Warn("dropping delivery job at shutdown")
				return
			case <-time.After(delay):
			}
			if err := w.rdb.RPush(context.Background(), queueName, data).Err(); err == nil {
				return
			}
		}
	}()
}

// run drives both queue drains until stop.
func (w *workerPool) run(ctx context.Context) {
	w.wg.Add(2)
	go w.drainLoop(ctx, PushQueueName, pushBatchSize, pushInterval)
	go w.drainLoop(ctx, EmailQueueName, emailBatchSize, emailInterval)
	w.wg.Wait()
}

func (w *workerPool) stop() { close(w.stopCh) }

func (w *workerPool) drainLoop(ctx context.Context, queueName string, batchSize int, interval time.Duration) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.drainBatch(ctx, queueName, batchSize)
		}
	}
}

// drainBatch pops up to batchSize jobs and attempts delivery. Failed jobs
// under the attempt cap are re-queued; email retries back off 2^n seconds
// via the NotBefore stamp.
func (w *workerPool) drainBatch(ctx context.Context, queueName string, batchSize int) {
	raw, err := w.rdb.LPopCount(ctx, queueName, batchSize).Result()
	if err == redis.Nil || len(raw) == 0 {
		return
	}
	if err != nil {
		w.log.WithError(err).WithField("queue", queueName).Warn("failed to pop delivery jobs")
		return
	}

	now := time.Now()
	for _, item := range raw {
		var job deliveryJob
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			w.log.WithError(err).WithField("queue", queueName).Warn("discarding malformed delivery job")
			continue
		}
		if now.Before(job.NotBefore) {
			w.requeue(ctx, queueName, job)
			continue
		}

		job.Attempt++
		if err := w.deliver(job); err != nil {
			if job.Attempt >= maxAttempts {
				w.log.WithFields(logrus.Fields{
					"notification": job.NotificationID, "channel": job.Channel, "attempts": job.Attempt,
				}).Error("delivery job exhausted retries")
				if dbErr := w.store.SetDeliveryState(ctx, job.NotificationID, job.Channel, models.DeliveryFailed); dbErr != nil {
					w.log.WithError(dbErr).Warn("failed to record delivery failure")
				}
				continue
			}
			if job.Channel == models.ChannelEmail {
				backoff := time.Duration(math.Pow(2, float64(job.Attempt))) * time.Second
				job.NotBefore = now.Add(backoff)
			}
			w.requeue(ctx, queueName, job)
			continue
		}

		if err := w.store.SetDeliveryState(ctx, job.NotificationID, job.Channel, models.DeliveryDelivered); err != nil {
			w.log.WithError(err).WithField("notification", job.NotificationID).Warn("failed to record delivery")
		}
	}
}

func (w *workerPool) requeue(ctx context.Context, queueName string, job deliveryJob) {
	data, err := json.Marshal(job)
	if err != nil {
		w.log.WithError(err).Error("failed to re-marshal delivery job")
		return
	}
	if err := w.rdb.RPush(ctx, queueName, data).Err(); err != nil {
		w.log.WithError(err).WithField("queue", queueName).Warn("failed to requeue delivery job")
	}
}

// deliver hands the job to the channel transport. Actual push/email
// transports are external adapters; the core records the intent.
func (w *workerPool) deliver(job deliveryJob) error {
	w.log.WithFields(logrus.Fields{
		"notification": job.NotificationID,
		"user":         job.UserID,
		"channel":      job.Channel,
		"title":        job.Title,
	}).Info("delivery intent emitted")
	return nil
}
