package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civiclens/civiclens/internal/entity"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

// recordingStore serves canned related entities and records SetField calls.
type recordingStore struct {
	mu         sync.Mutex
	related    []entity.Entity
	relatedErr error
	writes     []string
	setErr     error
}

func (s *recordingStore) CreateEntity(_ context.Context, e entity.Entity) (entity.Entity, error) {
	return e, nil
}

func (s *recordingStore) GetEntity(context.Context, entity.EntityType, string) (entity.Entity, error) {
	return entity.Entity{}, entity.ErrNotFound
}

func (s *recordingStore) GetField(context.Context, entity.EntityType, string, string) (any, bool, error) {
	return nil, false, nil
}

func (s *recordingStore) SetField(_ context.Context, _ entity.EntityType, entityID, field string, _ any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return false, s.setErr
	}
	s.writes = append(s.writes, entityID+"/"+field)
	return true, nil
}

func (s *recordingStore) Related(context.Context, entity.EntityType, string) ([]entity.Entity, error) {
	if s.relatedErr != nil {
		return nil, s.relatedErr
	}
	return s.related, nil
}

func (s *recordingStore) Search(context.Context, string, entity.EntityType, int) ([]entity.Entity, error) {
	return nil, nil
}

func (s *recordingStore) Close() {}

func (s *recordingStore) writesSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.writes))
	copy(out, s.writes)
	return out
}

type fnRegistry struct {
	fn entity.SourceFunc
}

func (r fnRegistry) Lookup(entity.EntityType, string) (entity.SourceFunc, bool) {
	if r.fn == nil {
		return nil, false
	}
	return r.fn, true
}

func newTestQueue(store *recordingStore, reg entity.Registry) *Queue {
	return New(store, reg, fakeClock{t: time.Unix(1700000000, 0).UTC()},
		2*time.Millisecond, time.Millisecond, nil)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEnqueueAccumulatesWhileStopped(t *testing.T) {
	t.Parallel()

	q := newTestQueue(&recordingStore{}, fnRegistry{})
	q.Enqueue(entity.Task{Type: entity.TaskTypeEnrich, Field: "bio"})
	q.Enqueue(entity.Task{Type: entity.TaskTypeEnrich, Field: "bio"})
	require.Equal(t, 2, q.Len())
}

func TestWorkerFansOutToRelatedEntities(t *testing.T) {
	t.Parallel()

	store := &recordingStore{related: []entity.Entity{
		{ID: "R1", Type: entity.TypePolitician, TwitterHandle: "r1"},
		{ID: "R2", Type: entity.TypePolitician},
	}}
	var mu sync.Mutex
	var calls []string
	reg := fnRegistry{fn: func(entityID string, fctx map[string]any) entity.FetchResult {
		mu.Lock()
		calls = append(calls, entityID)
		mu.Unlock()
		return entity.FetchResult{Success: true, Data: "value"}
	}}

	q := newTestQueue(store, reg)
	q.Enqueue(entity.Task{
		Type:        entity.TaskTypeEnrich,
		EntityType:  entity.TypePolitician,
		Field:       "bio",
		ReferenceID: "P1",
	})
	q.Start()
	defer q.Stop(time.Second)

	waitFor(t, time.Second, func() bool { return len(store.writesSnapshot()) == 2 })
	require.Equal(t, []string{"R1/bio", "R2/bio"}, store.writesSnapshot())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"R1", "R2"}, calls)
}

func TestWorkerProcessesTasksInOrder(t *testing.T) {
	t.Parallel()

	store := &recordingStore{related: []entity.Entity{{ID: "R1", Type: entity.TypePolitician}}}
	reg := fnRegistry{fn: func(string, map[string]any) entity.FetchResult {
		return entity.FetchResult{Success: true, Data: "value"}
	}}

	q := newTestQueue(store, reg)
	q.Enqueue(entity.Task{Type: entity.TaskTypeEnrich, EntityType: entity.TypePolitician, Field: "bio", ReferenceID: "A"})
	q.Enqueue(entity.Task{Type: entity.TaskTypeEnrich, EntityType: entity.TypePolitician, Field: "office", ReferenceID: "B"})
	q.Start()
	defer q.Stop(time.Second)

	waitFor(t, time.Second, func() bool { return len(store.writesSnapshot()) == 2 })
	require.Equal(t, []string{"R1/bio", "R1/office"}, store.writesSnapshot())
	require.Zero(t, q.Len())
}

func TestPerEntityFailureDoesNotAbortTask(t *testing.T) {
	t.Parallel()

	store := &recordingStore{related: []entity.Entity{
		{ID: "R1", Type: entity.TypePolitician},
		{ID: "R2", Type: entity.TypePolitician},
	}}
	reg := fnRegistry{fn: func(entityID string, _ map[string]any) entity.FetchResult {
		if entityID == "R1" {
			return entity.FetchResult{Success: false, Error: "upstream down"}
		}
		return entity.FetchResult{Success: true, Data: "value"}
	}}

	q := newTestQueue(store, reg)
	q.Enqueue(entity.Task{Type: entity.TaskTypeEnrich, EntityType: entity.TypePolitician, Field: "bio", ReferenceID: "P1"})
	q.Start()
	defer q.Stop(time.Second)

	waitFor(t, time.Second, func() bool { return len(store.writesSnapshot()) == 1 })
	require.Equal(t, []string{"R2/bio"}, store.writesSnapshot())
}

func TestRelatedErrorDropsTask(t *testing.T) {
	t.Parallel()

	store := &recordingStore{relatedErr: errors.New("storage down")}
	q := newTestQueue(store, fnRegistry{fn: func(string, map[string]any) entity.FetchResult {
		t.Error("source must not be called when related lookup fails")
		return entity.FetchResult{}
	}})
	q.Enqueue(entity.Task{Type: entity.TaskTypeEnrich, EntityType: entity.TypePolitician, Field: "bio", ReferenceID: "P1"})
	q.Start()
	defer q.Stop(time.Second)

	waitFor(t, time.Second, func() bool { return q.Len() == 0 })
	require.Empty(t, store.writesSnapshot())
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	q := newTestQueue(&recordingStore{}, fnRegistry{})
	q.Start()
	q.Start()
	require.True(t, q.Stop(time.Second))
}

func TestStopWithoutStartReturnsTrue(t *testing.T) {
	t.Parallel()

	q := newTestQueue(&recordingStore{}, fnRegistry{})
	require.True(t, q.Stop(10 * time.Millisecond))
}

func TestStopTimesOutOnSlowTask(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	store := &recordingStore{related: []entity.Entity{{ID: "R1", Type: entity.TypePolitician}}}
	reg := fnRegistry{fn: func(string, map[string]any) entity.FetchResult {
		once.Do(func() { close(started) })
		<-release
		return entity.FetchResult{Success: true, Data: "value"}
	}}

	q := newTestQueue(store, reg)
	q.Enqueue(entity.Task{Type: entity.TaskTypeEnrich, EntityType: entity.TypePolitician, Field: "bio", ReferenceID: "P1"})
	q.Start()
	<-started

	// The in-flight source call never yields within the timeout.
	require.False(t, q.Stop(20*time.Millisecond))

	close(release)
	waitFor(t, time.Second, func() bool { return len(store.writesSnapshot()) == 1 })
}

func TestRestartAfterStop(t *testing.T) {
	t.Parallel()

	store := &recordingStore{related: []entity.Entity{{ID: "R1", Type: entity.TypePolitician}}}
	reg := fnRegistry{fn: func(string, map[string]any) entity.FetchResult {
		return entity.FetchResult{Success: true, Data: "value"}
	}}

	q := newTestQueue(store, reg)
	q.Start()
	require.True(t, q.Stop(time.Second))

	q.Enqueue(entity.Task{Type: entity.TaskTypeEnrich, EntityType: entity.TypePolitician, Field: "bio", ReferenceID: "P1"})
	q.Start()
	defer q.Stop(time.Second)
	waitFor(t, time.Second, func() bool { return len(store.writesSnapshot()) == 1 })
}
