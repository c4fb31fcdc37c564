// Package queue moves batch processing and settlement reconciliation off the
// request path. Tasks travel through Redis via asynq; when Redis is not
// configured, Inline runs batches in-process instead.
//
// A batch is enqueued with its id as the task id and no automatic retries:
// a second enqueue of the same batch is a no-op, and a failed batch stays
// failed until an operator retries it explicitly.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-lead-exchange/internal/config"
)

// Task types.
const (
	TypeProcessBatch = "batch:process"
	TypeReconcile    = "settlement:reconcile"
)

// BatchPayload is the body of a TypeProcessBatch task.
type BatchPayload struct {
	BatchID string `json:"batch_id"`
}

// Enqueuer schedules a batch for processing.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, batchID string) error
}

// BatchRunner processes one batch to completion.
type BatchRunner interface {
	RunBatch(ctx context.Context, batchID string) error
}

// ReconcileRunner runs one reconciliation pass.
type ReconcileRunner interface {
	RunReconcile(ctx context.Context) error
}

// RedisOpt parses a redis:// URL into asynq connection options.
func RedisOpt(url string) (asynq.RedisConnOpt, error) {
	if url == "" {
		return nil, errors.New("REDIS_URL must not be empty")
	}
	return asynq.ParseRedisURI(url)
}

// Client enqueues tasks on a named queue.
type Client struct {
	client *asynq.Client
	queue  string
}

// NewClient returns a client bound to queueName.
func NewClient(opt asynq.RedisConnOpt, queueName string) *Client {
	return &Client{client: asynq.NewClient(opt), queue: queueName}
}

// EnqueueBatch schedules batchID. Enqueuing a batch that is already queued
// or running is not an error.
func (c *Client) EnqueueBatch(ctx context.Context, batchID string) error {
	payload, err := json.Marshal(BatchPayload{BatchID: batchID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeProcessBatch, payload)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.TaskID(batchID),
		asynq.Queue(c.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(2*time.Hour),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// Close releases the Redis connection.
func (c *Client) Close() error { return c.client.Close() }

// NewServer returns a worker server consuming cfg.Name.
func NewServer(opt asynq.RedisConnOpt, cfg config.QueueConfig) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Name: 1},
		Logger:      asynqLogger{},
	})
}

// NewScheduler registers the periodic reconcile task.
func NewScheduler(opt asynq.RedisConnOpt, cfg config.QueueConfig) (*asynq.Scheduler, error) {
	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Logger: asynqLogger{}})
	spec := fmt.Sprintf("@every %s", cfg.ReconcileInterval)
	if _, err := s.Register(spec, asynq.NewTask(TypeReconcile, nil),
		asynq.Queue(cfg.Name),
		asynq.MaxRetry(0),
		asynq.Unique(cfg.ReconcileInterval),
	); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMux routes task types to their runners.
func NewMux(batches BatchRunner, rec ReconcileRunner) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeProcessBatch, func(ctx context.Context, t *asynq.Task) error {
		var p BatchPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil || p.BatchID == "" {
			return fmt.Errorf("bad batch payload: %w", asynq.SkipRetry)
		}
		if err := batches.RunBatch(ctx, p.BatchID); err != nil {
			log.Error().Err(err).Str("component", "worker").Str("batch_id", p.BatchID).Msg("batch failed")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return nil
	})
	mux.HandleFunc(TypeReconcile, func(ctx context.Context, _ *asynq.Task) error {
		return rec.RunReconcile(ctx)
	})
	return mux
}

// asynqLogger forwards asynq's internal logging to zerolog.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...any) { log.Debug().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...any)  { log.Info().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...any)  { log.Warn().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...any) { log.Error().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (asynqLogger) Fatal(args ...any) { log.Fatal().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
