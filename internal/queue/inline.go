package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Inline runs batches on local goroutines. A batch id that is already
// running is ignored, matching the task-id uniqueness of the Redis queue.
type Inline struct {
	runner  BatchRunner
	base    context.Context
	wg      sync.WaitGroup
	running sync.Map
}

// NewInline returns an enqueuer that calls runner directly. Work is bound to
// base, not to the enqueuing request.
func NewInline(base context.Context, runner BatchRunner) *Inline {
	return &Inline{runner: runner, base: base}
}

// SetRunner wires the runner after construction, for services that depend
// on the enqueuer themselves.
func (q *Inline) SetRunner(r BatchRunner) { q.runner = r }

// EnqueueBatch starts batchID in the background.
func (q *Inline) EnqueueBatch(_ context.Context, batchID string) error {
	if _, loaded := q.running.LoadOrStore(batchID, struct{}{}); loaded {
		return nil
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.running.Delete(batchID)
		if err := q.runner.RunBatch(q.base, batchID); err != nil {
			log.Error().Err(err).Str("component", "inline-queue").Str("batch_id", batchID).Msg("batch failed")
		}
	}()
	return nil
}

// Wait blocks until every started batch has returned.
func (q *Inline) Wait() { q.wg.Wait() }
