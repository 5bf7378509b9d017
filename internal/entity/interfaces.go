package entity

import (
	"context"
	"time"
)

// Store is the persistence boundary for the polymorphic entity model.
type Store interface {
	// CreateEntity inserts the base row and, for typed entities, the
	// empty extension row in the same transaction.
	CreateEntity(ctx context.Context, e Entity) (Entity, error)

	// GetEntity loads a base row, failing closed when the stored type
	// does not match et.
	GetEntity(ctx context.Context, et EntityType, entityID string) (Entity, error)

	// GetField resolves a field value. found=false means the field is
	// unknown, unset, or the entity's type mismatches; it is not an error.
	GetField(ctx context.Context, et EntityType, entityID, field string) (any, bool, error)

	// SetField writes a field value. ok=false means the field is unknown
	// or the entity is missing; nothing was mutated.
	SetField(ctx context.Context, et EntityType, entityID, field string, value any) (bool, error)

	// Related returns same-typed entities sharing at least one category
	// with the reference entity.
	Related(ctx context.Context, et EntityType, entityID string) ([]Entity, error)

	// Search matches entities by name or category text. et == "" matches
	// all types.
	Search(ctx context.Context, query string, et EntityType, limit int) ([]Entity, error)

	Close()
}

// Registry resolves the external fetch function for a field.
type Registry interface {
	Lookup(et EntityType, field string) (SourceFunc, bool)
}

// TaskQueue accepts background enrichment tasks. Enqueue never blocks and
// never fails; a queue that is not running simply accumulates tasks.
type TaskQueue interface {
	Enqueue(task Task)
}

// RefreshTool regenerates the local voting-record dataset. Invoked only on
// the forced path for voting_record; a false return aborts the fetch.
type RefreshTool interface {
	Run(ctx context.Context, force bool) bool
}

// PostEvaluator analyzes a fetched post's text.
type PostEvaluator interface {
	Evaluate(ctx context.Context, post string) (map[string]any, error)
}

// Publisher pushes entity-updated notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Archiver writes raw source payloads and returns a URI.
type Archiver interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity and request IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
