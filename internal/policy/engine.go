// Package policy implements the fetch decision engine: serve local, refuse
// background-only fields, fetch live, or force a refresh.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civiclens/civiclens/internal/entity"
	"github.com/civiclens/civiclens/internal/metrics"
)

// Config carries the policy knobs the engine decides with.
type Config struct {
	// BackgroundOnly fields are never fetched synchronously.
	BackgroundOnly map[string]struct{}

	// FieldTTLs maps fields to staleness windows; a field with no TTL
	// treats any present value as fresh.
	FieldTTLs map[string]time.Duration

	// NotifyTopic names the entity-updated topic; empty disables
	// notifications.
	NotifyTopic string

	// ArchivePrefix prefixes raw payload object paths.
	ArchivePrefix string
}

// Engine orchestrates the store, the source registry and the background
// queue for one field request at a time. Concurrent requests for the same
// key are not deduplicated: both may fetch and both may write, with the
// later write winning.
type Engine struct {
	store     entity.Store
	registry  entity.Registry
	queue     entity.TaskQueue
	refresh   entity.RefreshTool
	archiver  entity.Archiver
	publisher entity.Publisher
	clock     entity.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Engine. refresh, archiver and publisher may be nil.
func New(
	store entity.Store,
	registry entity.Registry,
	queue entity.TaskQueue,
	refresh entity.RefreshTool,
	archiver entity.Archiver,
	publisher entity.Publisher,
	clock entity.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		registry:  registry,
		queue:     queue,
		refresh:   refresh,
		archiver:  archiver,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Fetch runs the live path: local lookup, background-only refusal, then an
// external fetch that persists, enqueues an enrichment task and responds,
// strictly in that order.
func (e *Engine) Fetch(ctx context.Context, et entity.EntityType, entityID, field string, fctx map[string]any) entity.Response {
	return e.fetchField(ctx, et, entityID, field, fctx, true)
}

// FetchNoEnqueue runs the live path without the background fan-out. Used
// by the evaluate pipeline, which is deliberately synchronous and one-shot.
func (e *Engine) FetchNoEnqueue(ctx context.Context, et entity.EntityType, entityID, field string, fctx map[string]any) entity.Response {
	return e.fetchField(ctx, et, entityID, field, fctx, false)
}

func (e *Engine) fetchField(ctx context.Context, et entity.EntityType, entityID, field string, fctx map[string]any, enqueue bool) entity.Response {
	value, found, err := e.store.GetField(ctx, et, entityID, field)
	if err != nil {
		return e.fail(err)
	}
	if found && !e.isStale(ctx, et, entityID, field) {
		metrics.ObserveFetchDecision(entity.SourceLocal)
		return e.ok(value, entity.SourceLocal)
	}

	if _, bg := e.cfg.BackgroundOnly[field]; bg {
		// Hard invariant: these fields are only ever populated by the
		// background worker, never synchronously.
		metrics.ObserveFetchDecision(entity.SourceLocalEmpty)
		return e.ok([]any{}, entity.SourceLocalEmpty)
	}

	fn, ok := e.registry.Lookup(et, field)
	if !ok {
		return e.fail(fmt.Errorf("%w for %s/%s", entity.ErrNoFetchFunction, et, field))
	}

	fctx, err = e.assembleContext(ctx, et, entityID, field, fctx)
	if err != nil {
		return e.fail(err)
	}

	res := fn(entityID, fctx)
	if !res.Success {
		metrics.ObserveExternalFetch(string(et), field, "failure")
		// Source error text passes through verbatim.
		return entity.Response{Success: false, Error: res.Error, Timestamp: e.timestamp()}
	}
	metrics.ObserveExternalFetch(string(et), field, "success")

	e.persist(ctx, et, entityID, field, res.Data)

	if enqueue {
		e.queue.Enqueue(entity.Task{
			Type:        entity.TaskTypeEnrich,
			EntityType:  et,
			Field:       field,
			ReferenceID: entityID,
			EnqueuedAt:  e.clock.Now(),
		})
	}

	e.archive(ctx, et, entityID, field, res.Data)
	e.notify(ctx, et, entityID, field)

	metrics.ObserveFetchDecision(entity.SourceExternal)
	return e.ok(res.Data, entity.SourceExternal)
}

// ForceFetch bypasses the local lookup and the background-only refusal.
// A forced voting_record fetch first runs the external refresh tool and
// aborts if it fails.
func (e *Engine) ForceFetch(ctx context.Context, et entity.EntityType, entityID, field string, fctx map[string]any) entity.Response {
	if field == entity.FieldVotingRecord {
		if e.refresh == nil || !e.refresh.Run(ctx, true) {
			return e.fail(fmt.Errorf("voting record force update failed: %w", entity.ErrRefreshTool))
		}
	}

	fn, ok := e.registry.Lookup(et, field)
	if !ok {
		return e.fail(fmt.Errorf("%w for %s/%s", entity.ErrNoFetchFunction, et, field))
	}

	fctx, err := e.assembleContext(ctx, et, entityID, field, fctx)
	if err != nil {
		return e.fail(err)
	}

	res := fn(entityID, fctx)
	if !res.Success {
		metrics.ObserveExternalFetch(string(et), field, "failure")
		return entity.Response{Success: false, Error: res.Error, Timestamp: e.timestamp()}
	}
	metrics.ObserveExternalFetch(string(et), field, "success")

	e.persist(ctx, et, entityID, field, res.Data)
	e.archive(ctx, et, entityID, field, res.Data)
	e.notify(ctx, et, entityID, field)

	metrics.ObserveFetchDecision(entity.SourceExternalForced)
	return e.ok(res.Data, entity.SourceExternalForced)
}

// assembleContext fills field-specific source arguments. latest_tweet needs
// a twitter handle resolved from the caller's context or the store; the
// source is never called when the handle cannot be found.
func (e *Engine) assembleContext(ctx context.Context, et entity.EntityType, entityID, field string, fctx map[string]any) (map[string]any, error) {
	if field != entity.FieldLatestTweet {
		return fctx, nil
	}
	out := make(map[string]any, len(fctx)+1)
	for k, v := range fctx {
		out[k] = v
	}
	if handle, ok := out[entity.FieldTwitterHandle].(string); ok && handle != "" {
		return out, nil
	}
	stored, found, err := e.store.GetField(ctx, et, entityID, entity.FieldTwitterHandle)
	if err != nil {
		return nil, err
	}
	if handle, ok := stored.(string); found && ok && handle != "" {
		out[entity.FieldTwitterHandle] = handle
		return out, nil
	}
	return nil, fmt.Errorf("missing twitter_handle for %s/%s: %w", et, entityID, entity.ErrMissingContext)
}

// isStale applies the per-field TTL against the entity's last update.
// Fields with no TTL preserve the presence-only behavior.
func (e *Engine) isStale(ctx context.Context, et entity.EntityType, entityID, field string) bool {
	ttl, ok := e.cfg.FieldTTLs[field]
	if !ok || ttl <= 0 {
		return false
	}
	ent, err := e.store.GetEntity(ctx, et, entityID)
	if err != nil {
		return false
	}
	return e.clock.Now().Sub(ent.LastUpdated) > ttl
}

// persist caches the fetched value. Read-through semantics win over cache
// consistency: a failed write is logged and the fresh data still returned.
func (e *Engine) persist(ctx context.Context, et entity.EntityType, entityID, field string, data any) {
	ok, err := e.store.SetField(ctx, et, entityID, field, data)
	if err != nil {
		e.logger.Warn("persist fetched value failed",
			zap.String("entity_type", string(et)),
			zap.String("entity_id", entityID),
			zap.String("field", field),
			zap.Error(err))
		return
	}
	if !ok {
		e.logger.Warn("fetched value not persisted",
			zap.String("entity_type", string(et)),
			zap.String("entity_id", entityID),
			zap.String("field", field))
	}
}

func (e *Engine) archive(ctx context.Context, et entity.EntityType, entityID, field string, data any) {
	if e.archiver == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		e.logger.Warn("marshal payload for archive failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s/%s/%s/%d.json",
		e.cfg.ArchivePrefix, et, entityID, field, e.clock.Now().UnixNano())
	if _, err := e.archiver.PutObject(ctx, path, "application/json", payload); err != nil {
		e.logger.Warn("archive payload failed", zap.String("path", path), zap.Error(err))
	}
}

func (e *Engine) notify(ctx context.Context, et entity.EntityType, entityID, field string) {
	if e.publisher == nil || e.cfg.NotifyTopic == "" {
		return
	}
	payload := map[string]any{
		"entity_type": string(et),
		"entity_id":   entityID,
		"field":       field,
		"timestamp":   e.timestamp(),
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.NotifyTopic, payload); err != nil {
		e.logger.Warn("publish entity update failed", zap.Error(err))
	}
}

func (e *Engine) ok(data any, source string) entity.Response {
	return entity.Response{Success: true, Data: data, Source: source, Timestamp: e.timestamp()}
}

func (e *Engine) fail(err error) entity.Response {
	return entity.Response{Success: false, Error: err.Error(), Timestamp: e.timestamp()}
}

func (e *Engine) timestamp() string {
	return e.clock.Now().UTC().Format(time.RFC3339)
}
