package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civiclens/civiclens/internal/entity"
	"github.com/civiclens/civiclens/internal/policy"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

// routerStore is a canned entity.Store for router tests.
type routerStore struct {
	values  map[string]any
	results []entity.Entity
}

func (s *routerStore) CreateEntity(_ context.Context, e entity.Entity) (entity.Entity, error) {
	return e, nil
}

func (s *routerStore) GetEntity(context.Context, entity.EntityType, string) (entity.Entity, error) {
	return entity.Entity{}, entity.ErrNotFound
}

func (s *routerStore) GetField(_ context.Context, _ entity.EntityType, entityID, field string) (any, bool, error) {
	v, ok := s.values[entityID+"/"+field]
	return v, ok, nil
}

func (s *routerStore) SetField(context.Context, entity.EntityType, string, string, any) (bool, error) {
	return true, nil
}

func (s *routerStore) Related(context.Context, entity.EntityType, string) ([]entity.Entity, error) {
	return nil, nil
}

func (s *routerStore) Search(context.Context, string, entity.EntityType, int) ([]entity.Entity, error) {
	return s.results, nil
}

func (s *routerStore) Close() {}

type emptyRegistry struct{}

func (emptyRegistry) Lookup(entity.EntityType, string) (entity.SourceFunc, bool) { return nil, false }

type nopQueue struct{ tasks int }

func (q *nopQueue) Enqueue(entity.Task) { q.tasks++ }

type fakeEvaluator struct {
	result map[string]any
	err    error
	posts  []string
}

func (e *fakeEvaluator) Evaluate(_ context.Context, post string) (map[string]any, error) {
	e.posts = append(e.posts, post)
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func newTestRouter(store *routerStore, evaluator entity.PostEvaluator, queue entity.TaskQueue) *Router {
	clock := fakeClock{t: time.Unix(1700000000, 0).UTC()}
	if queue == nil {
		queue = &nopQueue{}
	}
	engine := policy.New(store, emptyRegistry{}, queue, nil, nil, nil, clock, policy.Config{}, nil)
	return New(engine, store, evaluator, clock, nil)
}

func TestRouteUnknownRequestType(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&routerStore{values: map[string]any{}}, nil, nil)
	resp := r.Route(context.Background(), entity.Request{Type: "unknown_x"})
	require.False(t, resp.Success)
	require.Equal(t, "unknown request type: unknown_x", resp.Error)
	require.NotEmpty(t, resp.Timestamp)
}

func TestRouteFetchServesLocalValue(t *testing.T) {
	t.Parallel()

	store := &routerStore{values: map[string]any{"P1/bio": "a bio"}}
	r := newTestRouter(store, nil, nil)

	resp := r.Route(context.Background(), entity.Request{
		Type:       entity.RequestFetch,
		EntityType: "politician",
		EntityID:   "P1",
		Field:      "bio",
	})
	require.True(t, resp.Success)
	require.Equal(t, "a bio", resp.Data)
	require.Equal(t, entity.SourceLocal, resp.Source)
}

func TestRouteFetchValidation(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&routerStore{values: map[string]any{}}, nil, nil)

	cases := []struct {
		name string
		req  entity.Request
		want string
	}{
		{"bad entity type", entity.Request{Type: entity.RequestFetch, EntityType: "celebrity", EntityID: "X", Field: "bio"}, `invalid entity type "celebrity"`},
		{"missing entity id", entity.Request{Type: entity.RequestFetch, EntityType: "politician", Field: "bio"}, "entity_id is required"},
		{"missing field", entity.Request{Type: entity.RequestFetch, EntityType: "politician", EntityID: "P1"}, "field is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp := r.Route(context.Background(), tc.req)
			require.False(t, resp.Success)
			require.Equal(t, tc.want, resp.Error)
		})
	}
}

func TestRouteEvaluateUsesStoredPostWithoutEnqueue(t *testing.T) {
	t.Parallel()

	store := &routerStore{values: map[string]any{
		"P1/latest_tweet": map[string]any{"text": "vote for the bill"},
	}}
	evaluator := &fakeEvaluator{result: map[string]any{"sentiment": "positive"}}
	queue := &nopQueue{}
	r := newTestRouter(store, evaluator, queue)

	resp := r.Route(context.Background(), entity.Request{
		Type:       entity.RequestEvaluatePost,
		EntityType: "politician",
		EntityID:   "P1",
	})
	require.True(t, resp.Success)
	require.Equal(t, []string{"vote for the bill"}, evaluator.posts)
	require.Zero(t, queue.tasks)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, map[string]any{"sentiment": "positive"}, data["evaluation"])
}

func TestRouteEvaluateFetchFailurePropagates(t *testing.T) {
	t.Parallel()

	// No stored post and no registered source.
	r := newTestRouter(&routerStore{values: map[string]any{}}, &fakeEvaluator{}, nil)

	resp := r.Route(context.Background(), entity.Request{
		Type:       entity.RequestEvaluatePost,
		EntityType: "politician",
		EntityID:   "P1",
	})
	require.False(t, resp.Success)
	require.Equal(t, "no fetch function for politician/latest_tweet", resp.Error)
}

func TestRouteEvaluateEvaluatorError(t *testing.T) {
	t.Parallel()

	store := &routerStore{values: map[string]any{"P1/latest_tweet": "plain text post"}}
	evaluator := &fakeEvaluator{err: errors.New("model unavailable")}
	r := newTestRouter(store, evaluator, nil)

	resp := r.Route(context.Background(), entity.Request{
		Type:       entity.RequestEvaluatePost,
		EntityType: "politician",
		EntityID:   "P1",
	})
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "evaluate post")
}

func TestRouteSearchBriefFormat(t *testing.T) {
	t.Parallel()

	store := &routerStore{results: []entity.Entity{
		{ID: "P1", Type: entity.TypePolitician, Name: "Jane Doe", Bio: "long bio"},
	}}
	r := newTestRouter(store, nil, nil)

	resp := r.Route(context.Background(), entity.Request{
		Type:   entity.RequestSearch,
		Query:  "jane",
		Format: "brief",
	})
	require.True(t, resp.Success)
	brief, ok := resp.Data.([]map[string]any)
	require.True(t, ok)
	require.Len(t, brief, 1)
	require.Equal(t, map[string]any{"id": "P1", "name": "Jane Doe", "entity_type": "politician"}, brief[0])
}

func TestRouteSearchRequiresQuery(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&routerStore{}, nil, nil)
	resp := r.Route(context.Background(), entity.Request{Type: entity.RequestSearch})
	require.False(t, resp.Success)
	require.Equal(t, "query is required", resp.Error)
}

func TestRouteSearchEmptyResultIsEmptySlice(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&routerStore{}, nil, nil)
	resp := r.Route(context.Background(), entity.Request{Type: entity.RequestSearch, Query: "nobody"})
	require.True(t, resp.Success)
	require.Equal(t, []entity.Entity{}, resp.Data)
}

func TestRouteRecoversFromPanic(t *testing.T) {
	t.Parallel()

	// A nil store makes the fetch path panic inside the engine.
	clock := fakeClock{t: time.Unix(1700000000, 0).UTC()}
	engine := policy.New(nil, emptyRegistry{}, &nopQueue{}, nil, nil, nil, clock, policy.Config{}, nil)
	r := New(engine, nil, nil, clock, nil)

	resp := r.Route(context.Background(), entity.Request{
		Type:       entity.RequestFetch,
		EntityType: "politician",
		EntityID:   "P1",
		Field:      "bio",
	})
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "internal error")
}
