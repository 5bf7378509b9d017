package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civiclens/civiclens/internal/entity"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return string(rune('a'-1+g.n)) + "-id", nil
}

func newTestStore() (*Store, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0).UTC()}
	return New(clk, &seqIDs{}), clk
}

func mustCreate(t *testing.T, s *Store, e entity.Entity) entity.Entity {
	t.Helper()
	created, err := s.CreateEntity(context.Background(), e)
	require.NoError(t, err)
	return created
}

func TestCreateEntityRejectsDuplicateNormalizedName(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Jane Doe"})

	_, err := s.CreateEntity(context.Background(), entity.Entity{Type: entity.TypePolitician, Name: "  jane   DOE "})
	require.ErrorIs(t, err, entity.ErrStorage)
}

func TestGetFieldTypeMismatchNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	e := mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Jane Doe", Bio: "a bio"})

	_, found, err := s.GetField(context.Background(), entity.TypeInfluencer, e.ID, entity.FieldBio)
	require.NoError(t, err)
	require.False(t, found)

	value, found, err := s.GetField(context.Background(), entity.TypePolitician, e.ID, entity.FieldBio)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a bio", value)
}

func TestSetFieldBumpsLastUpdated(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore()
	e := mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Jane Doe"})

	clk.t = clk.t.Add(time.Hour)
	ok, err := s.SetField(context.Background(), entity.TypePolitician, e.ID, entity.FieldBio, "updated")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetEntity(context.Background(), entity.TypePolitician, e.ID)
	require.NoError(t, err)
	require.Equal(t, clk.t, got.LastUpdated)
}

func TestSetFieldUnknownFieldLeavesLastUpdated(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore()
	e := mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Jane Doe"})
	created := e.LastUpdated

	clk.t = clk.t.Add(time.Hour)
	ok, err := s.SetField(context.Background(), entity.TypePolitician, e.ID, "nonexistent", "x")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.GetEntity(context.Background(), entity.TypePolitician, e.ID)
	require.NoError(t, err)
	require.Equal(t, created, got.LastUpdated)
}

func TestSetFieldExtensionTypeRouting(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	pol := mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Jane Doe"})
	inf := mustCreate(t, s, entity.Entity{Type: entity.TypeInfluencer, Name: "John Roe"})

	ok, err := s.SetField(context.Background(), entity.TypePolitician, pol.ID, entity.FieldOffice, "Senator")
	require.NoError(t, err)
	require.True(t, ok)

	// office is not an influencer field.
	ok, err = s.SetField(context.Background(), entity.TypeInfluencer, inf.ID, entity.FieldOffice, "Senator")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSingleValuedCategorySwap(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	e := mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Jane Doe"})
	s.AddCategory(entity.CategoryTypeParty, "democratic", "Democratic Party")
	s.AddCategory(entity.CategoryTypeParty, "republican", "Republican Party")

	ok, err := s.SetField(context.Background(), entity.TypePolitician, e.ID, "category_party", "democratic")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetField(context.Background(), entity.TypePolitician, e.ID, "category_party", "republican")
	require.NoError(t, err)
	require.True(t, ok)

	value, found, err := s.GetField(context.Background(), entity.TypePolitician, e.ID, entity.FieldParty)
	require.NoError(t, err)
	require.True(t, found)
	party, ok2 := value.(entity.CategoryAssignment)
	require.True(t, ok2)
	require.Equal(t, "republican", party.Code)
}

func TestMultiValuedCategoryAccumulates(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	e := mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Jane Doe"})
	s.AddCategory("issue", "healthcare", "Healthcare")
	s.AddCategory("issue", "economy", "Economy")

	for _, code := range []string{"healthcare", "economy"} {
		ok, err := s.SetField(context.Background(), entity.TypePolitician, e.ID, "category_issue", code)
		require.NoError(t, err)
		require.True(t, ok)
	}

	value, found, err := s.GetField(context.Background(), entity.TypePolitician, e.ID, entity.FieldCategories)
	require.NoError(t, err)
	require.True(t, found)
	grouped, ok := value.(map[string][]entity.CategoryAssignment)
	require.True(t, ok)
	require.Len(t, grouped["issue"], 2)
}

func TestCategoryWriteDoesNotBumpLastUpdated(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore()
	e := mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Jane Doe"})
	s.AddCategory(entity.CategoryTypeParty, "democratic", "Democratic Party")
	created := e.LastUpdated

	clk.t = clk.t.Add(time.Hour)
	ok, err := s.SetField(context.Background(), entity.TypePolitician, e.ID, "category_party", "democratic")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetEntity(context.Background(), entity.TypePolitician, e.ID)
	require.NoError(t, err)
	require.Equal(t, created, got.LastUpdated)
}

func TestRelatedSharedCategorySameType(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	ref := mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Jane Doe"})
	peer := mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "John Roe", RelevanceScore: 0.9})
	other := mustCreate(t, s, entity.Entity{Type: entity.TypeInfluencer, Name: "Kim Poe"})
	lone := mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Lee Moe"})
	s.AddCategory(entity.CategoryTypeParty, "democratic", "Democratic Party")

	for _, id := range []string{ref.ID, peer.ID, other.ID} {
		et := entity.TypePolitician
		if id == other.ID {
			et = entity.TypeInfluencer
		}
		ok, err := s.SetField(context.Background(), et, id, "category_party", "democratic")
		require.NoError(t, err)
		require.True(t, ok)
	}

	related, err := s.Related(context.Background(), entity.TypePolitician, ref.ID)
	require.NoError(t, err)
	require.Len(t, related, 1)
	require.Equal(t, peer.ID, related[0].ID)
	require.NotContains(t, []string{related[0].ID}, lone.ID)
}

func TestSearchFiltersByTypeAndLimit(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "Jane Smith", RelevanceScore: 0.5})
	mustCreate(t, s, entity.Entity{Type: entity.TypePolitician, Name: "John Smith", RelevanceScore: 0.9})
	mustCreate(t, s, entity.Entity{Type: entity.TypeInfluencer, Name: "Sam Smith"})

	all, err := s.Search(context.Background(), "smith", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)

	politicians, err := s.Search(context.Background(), "smith", entity.TypePolitician, 10)
	require.NoError(t, err)
	require.Len(t, politicians, 2)
	require.Equal(t, "John Smith", politicians[0].Name)

	limited, err := s.Search(context.Background(), "smith", "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
