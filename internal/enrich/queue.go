// Package enrich implements the background enrichment queue: a mutex-guarded
// FIFO drained by a single worker goroutine that fans a fetched field out to
// related entities.
package enrich

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civiclens/civiclens/internal/entity"
	"github.com/civiclens/civiclens/internal/metrics"
)

const (
	defaultPollInterval = time.Second
	defaultEntityDelay  = 200 * time.Millisecond
)

// Queue holds pending enrichment tasks in memory. Tasks are consumed
// exactly once and discarded after processing; there are no retries and
// nothing survives a process restart.
type Queue struct {
	mu      sync.Mutex
	tasks   []entity.Task
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	store    entity.Store
	registry entity.Registry
	clock    entity.Clock
	logger   *zap.Logger

	pollInterval time.Duration
	entityDelay  time.Duration
}

// New constructs a stopped Queue.
func New(
	store entity.Store,
	registry entity.Registry,
	clock entity.Clock,
	pollInterval, entityDelay time.Duration,
	logger *zap.Logger,
) *Queue {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if entityDelay <= 0 {
		entityDelay = defaultEntityDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		store:        store,
		registry:     registry,
		clock:        clock,
		logger:       logger,
		pollInterval: pollInterval,
		entityDelay:  entityDelay,
	}
}

// Enqueue appends a task. It never blocks and never fails; a queue that is
// not running simply accumulates tasks until Start.
func (q *Queue) Enqueue(task entity.Task) {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.clock.Now()
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	depth := len(q.tasks)
	q.mu.Unlock()
	metrics.SetQueueDepth(depth)
}

// Len reports the number of waiting tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Start spawns the consumer goroutine. Calling Start while the worker is
// already running is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	q.running = true
	go q.run(ctx, q.done)
	q.logger.Info("enrichment worker started")
}

// Stop signals cancellation and waits up to timeout for the worker to
// finish its current task and exit. The worker is never killed: if it does
// not exit in time, Stop returns false and the worker winds down on its own.
func (q *Queue) Stop(timeout time.Duration) bool {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return true
	}
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	cancel()
	select {
	case <-done:
		q.logger.Info("enrichment worker stopped")
		return true
	case <-time.After(timeout):
		q.logger.Warn("enrichment worker did not stop in time",
			zap.Duration("timeout", timeout))
		return false
	}
}

func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
		close(done)
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		task, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.pollInterval):
			}
			continue
		}
		q.process(ctx, task)
	}
}

func (q *Queue) pop() (entity.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return entity.Task{}, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	metrics.SetQueueDepth(len(q.tasks))
	return task, true
}

// process fans one task out to the reference entity's related entities.
// One entity's failure never aborts the remaining entities; the task is
// considered processed once every entity was attempted. Cancellation only
// suppresses starting the next entity, not the in-flight call.
func (q *Queue) process(ctx context.Context, task entity.Task) {
	related, err := q.store.Related(ctx, task.EntityType, task.ReferenceID)
	if err != nil {
		q.logger.Warn("resolve related entities failed",
			zap.String("entity_type", string(task.EntityType)),
			zap.String("reference_id", task.ReferenceID),
			zap.Error(err))
		metrics.ObserveEnrichmentTask("failed")
		return
	}
	fn, ok := q.registry.Lookup(task.EntityType, task.Field)
	if !ok {
		q.logger.Warn("no fetch function for enrichment task",
			zap.String("entity_type", string(task.EntityType)),
			zap.String("field", task.Field))
		metrics.ObserveEnrichmentTask("skipped")
		return
	}

	for i, rel := range related {
		if ctx.Err() != nil {
			return
		}
		q.enrichOne(ctx, task, fn, rel)
		if i < len(related)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.entityDelay):
			}
		}
	}
	metrics.ObserveEnrichmentTask("processed")
}

func (q *Queue) enrichOne(ctx context.Context, task entity.Task, fn entity.SourceFunc, rel entity.Entity) {
	fctx := map[string]any{"reference_id": task.ReferenceID}
	if rel.TwitterHandle != "" {
		fctx[entity.FieldTwitterHandle] = rel.TwitterHandle
	}
	res := fn(rel.ID, fctx)
	if !res.Success {
		q.logger.Warn("enrichment fetch failed",
			zap.String("entity_id", rel.ID),
			zap.String("field", task.Field),
			zap.String("error", res.Error))
		metrics.ObserveEnrichmentEntity("failure")
		return
	}
	ok, err := q.store.SetField(ctx, task.EntityType, rel.ID, task.Field, res.Data)
	if err != nil || !ok {
		q.logger.Warn("persist enrichment value failed",
			zap.String("entity_id", rel.ID),
			zap.String("field", task.Field),
			zap.Error(err))
		metrics.ObserveEnrichmentEntity("persist_failed")
		return
	}
	metrics.ObserveEnrichmentEntity("success")
}
