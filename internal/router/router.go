// Package router maps inbound request envelopes to their handlers and
// guarantees every path terminates in a uniform response envelope.
package router

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civiclens/civiclens/internal/entity"
	"github.com/civiclens/civiclens/internal/policy"
)

// Router dispatches request envelopes. The dispatch table is exhaustive:
// an unmatched type is an error, not silently ignored.
type Router struct {
	engine    *policy.Engine
	store     entity.Store
	evaluator entity.PostEvaluator
	clock     entity.Clock
	logger    *zap.Logger
}

// New constructs a Router. evaluator may be nil; evaluate requests then fail.
func New(engine *policy.Engine, store entity.Store, evaluator entity.PostEvaluator, clock entity.Clock, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		engine:    engine,
		store:     store,
		evaluator: evaluator,
		clock:     clock,
		logger:    logger,
	}
}

// Route handles one envelope. It never panics outward.
func (r *Router) Route(ctx context.Context, req entity.Request) (resp entity.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic recovered",
				zap.String("request_type", req.Type),
				zap.Any("panic", rec))
			resp = r.fail(fmt.Errorf("internal error handling %q request", req.Type))
		}
	}()

	switch req.Type {
	case entity.RequestFetch:
		et, id, field, err := r.fieldRequest(req)
		if err != nil {
			return r.fail(err)
		}
		return r.engine.Fetch(ctx, et, id, field, req.Context)
	case entity.RequestForceFetch:
		et, id, field, err := r.fieldRequest(req)
		if err != nil {
			return r.fail(err)
		}
		return r.engine.ForceFetch(ctx, et, id, field, req.Context)
	case entity.RequestEvaluatePost:
		return r.evaluateLatestPost(ctx, req)
	case entity.RequestSearch:
		return r.search(ctx, req)
	default:
		return r.fail(fmt.Errorf("%w: %s", entity.ErrUnknownRequestType, req.Type))
	}
}

func (r *Router) fieldRequest(req entity.Request) (entity.EntityType, string, string, error) {
	et, ok := entity.ParseEntityType(req.EntityType)
	if !ok {
		return "", "", "", fmt.Errorf("invalid entity type %q", req.EntityType)
	}
	if req.EntityID == "" {
		return "", "", "", fmt.Errorf("entity_id is required")
	}
	if req.Field == "" {
		return "", "", "", fmt.Errorf("field is required")
	}
	return et, req.EntityID, req.Field, nil
}

// evaluateLatestPost fetches the entity's latest post and runs the
// evaluator over it. Deliberately synchronous and one-shot: no background
// enrichment is enqueued.
func (r *Router) evaluateLatestPost(ctx context.Context, req entity.Request) entity.Response {
	et, ok := entity.ParseEntityType(req.EntityType)
	if !ok {
		return r.fail(fmt.Errorf("invalid entity type %q", req.EntityType))
	}
	if req.EntityID == "" {
		return r.fail(fmt.Errorf("entity_id is required"))
	}
	if r.evaluator == nil {
		return r.fail(fmt.Errorf("post evaluator is not configured"))
	}

	fetched := r.engine.FetchNoEnqueue(ctx, et, req.EntityID, entity.FieldLatestTweet, req.Context)
	if !fetched.Success {
		return fetched
	}
	text := postText(fetched.Data)
	if text == "" {
		return r.fail(fmt.Errorf("latest post for %s has no text", req.EntityID))
	}

	evaluation, err := r.evaluator.Evaluate(ctx, text)
	if err != nil {
		return r.fail(fmt.Errorf("evaluate post: %w", err))
	}
	return entity.Response{
		Success:   true,
		Data:      map[string]any{"post": fetched.Data, "evaluation": evaluation},
		Source:    fetched.Source,
		Timestamp: r.timestamp(),
	}
}

// postText pulls the display text out of a stored or freshly fetched post.
func postText(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case map[string]any:
		for _, k := range []string{"text", "content", "body"} {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func (r *Router) search(ctx context.Context, req entity.Request) entity.Response {
	if req.Query == "" {
		return r.fail(fmt.Errorf("query is required"))
	}
	var et entity.EntityType
	if req.EntityType != "" {
		parsed, ok := entity.ParseEntityType(req.EntityType)
		if !ok {
			return r.fail(fmt.Errorf("invalid entity type %q", req.EntityType))
		}
		et = parsed
	}
	results, err := r.store.Search(ctx, req.Query, et, 20)
	if err != nil {
		return r.fail(err)
	}
	return entity.Response{
		Success:   true,
		Data:      formatResults(results, req.Format),
		Source:    entity.SourceLocal,
		Timestamp: r.timestamp(),
	}
}

func formatResults(results []entity.Entity, format string) any {
	if format != "brief" {
		if results == nil {
			return []entity.Entity{}
		}
		return results
	}
	brief := make([]map[string]any, 0, len(results))
	for _, e := range results {
		brief = append(brief, map[string]any{
			"id":          e.ID,
			"name":        e.Name,
			"entity_type": string(e.Type),
		})
	}
	return brief
}

func (r *Router) fail(err error) entity.Response {
	return entity.Response{Success: false, Error: err.Error(), Timestamp: r.timestamp()}
}

func (r *Router) timestamp() string {
	return r.clock.Now().UTC().Format(time.RFC3339)
}
