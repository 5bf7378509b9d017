// Package memory provides an in-memory entity store for local development
// and tests. It mirrors the postgres store's field-routing semantics.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/civiclens/civiclens/internal/entity"
)

type assignment struct {
	categoryID int64
	confidence float64
	source     string
}

// Store keeps the full entity model behind one mutex.
type Store struct {
	mu sync.RWMutex

	entities map[string]entity.Entity
	fields   map[string]map[string]any

	categoryTypes map[string]bool // type -> isMultiple
	categories    map[int64]entity.Category
	assignments   map[string][]assignment
	nextCategory  int64

	clock entity.Clock
	ids   entity.IDGenerator
}

// New builds an empty Store with the standard category types seeded.
func New(clock entity.Clock, ids entity.IDGenerator) *Store {
	s := &Store{
		entities:      map[string]entity.Entity{},
		fields:        map[string]map[string]any{},
		categoryTypes: map[string]bool{},
		categories:    map[int64]entity.Category{},
		assignments:   map[string][]assignment{},
		nextCategory:  1,
		clock:         clock,
		ids:           ids,
	}
	s.AddCategoryType(entity.CategoryTypeParty, false)
	s.AddCategoryType("issue", true)
	s.AddCategoryType("caucus", true)
	return s
}

// Close implements entity.Store; nothing to release.
func (s *Store) Close() {}

// AddCategoryType registers a category type.
func (s *Store) AddCategoryType(categoryType string, isMultiple bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categoryTypes[categoryType] = isMultiple
}

// AddCategory registers a category and returns its ID.
func (s *Store) AddCategory(categoryType, code, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextCategory
	s.nextCategory++
	s.categories[id] = entity.Category{ID: id, Type: categoryType, Code: code, Name: name}
	return id
}

// CreateEntity inserts the entity, seeding the field map from the struct.
func (s *Store) CreateEntity(_ context.Context, e entity.Entity) (entity.Entity, error) {
	if e.Name == "" {
		return entity.Entity{}, fmt.Errorf("entity name is required")
	}
	if _, ok := entity.ParseEntityType(string(e.Type)); !ok {
		return entity.Entity{}, fmt.Errorf("invalid entity type %q", e.Type)
	}
	if e.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return entity.Entity{}, fmt.Errorf("generate entity id: %w", err)
		}
		e.ID = id
	}
	if e.NormalizedName == "" {
		e.NormalizedName = strings.Join(strings.Fields(strings.ToLower(e.Name)), " ")
	}
	now := s.clock.Now()
	e.LastUpdated = now
	e.CreatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entities {
		if existing.NormalizedName == e.NormalizedName {
			return entity.Entity{}, fmt.Errorf("%w: duplicate normalized name %q", entity.ErrStorage, e.NormalizedName)
		}
	}
	s.entities[e.ID] = e
	fields := map[string]any{entity.FieldName: e.Name}
	if e.Bio != "" {
		fields[entity.FieldBio] = e.Bio
	}
	if e.TwitterHandle != "" {
		fields[entity.FieldTwitterHandle] = e.TwitterHandle
	}
	if e.WebsiteURL != "" {
		fields[entity.FieldWebsiteURL] = e.WebsiteURL
	}
	if e.RelevanceScore != 0 {
		fields[entity.FieldRelevanceScore] = e.RelevanceScore
	}
	s.fields[e.ID] = fields
	return e, nil
}

// GetEntity loads one entity, failing closed on type mismatch.
func (s *Store) GetEntity(_ context.Context, et entity.EntityType, entityID string) (entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[entityID]
	if !ok || e.Type != et {
		return entity.Entity{}, fmt.Errorf("%w: %s/%s", entity.ErrNotFound, et, entityID)
	}
	return e, nil
}

// GetField mirrors the postgres resolution order.
func (s *Store) GetField(_ context.Context, et entity.EntityType, entityID, field string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[entityID]
	if !ok || e.Type != et {
		return nil, false, nil
	}
	if _, ok := entity.BaseColumn(field); ok {
		return s.lookupField(entityID, field)
	}
	if _, ok := entity.ExtensionColumn(et, field); ok {
		return s.lookupField(entityID, field)
	}
	switch field {
	case entity.FieldCategories:
		grouped := s.groupedCategories(entityID)
		if len(grouped) == 0 {
			return nil, false, nil
		}
		return grouped, true, nil
	case entity.FieldParty:
		for _, a := range s.assignments[entityID] {
			cat := s.categories[a.categoryID]
			if cat.Type == entity.CategoryTypeParty {
				return entity.CategoryAssignment{Category: cat, ConfidenceScore: a.confidence, Source: a.source}, true, nil
			}
		}
		return nil, false, nil
	}
	return nil, false, nil
}

func (s *Store) lookupField(entityID, field string) (any, bool, error) {
	value, ok := s.fields[entityID][field]
	if !ok || value == nil {
		return nil, false, nil
	}
	if str, isStr := value.(string); isStr && str == "" {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) groupedCategories(entityID string) map[string][]entity.CategoryAssignment {
	grouped := map[string][]entity.CategoryAssignment{}
	for _, a := range s.assignments[entityID] {
		cat := s.categories[a.categoryID]
		grouped[cat.Type] = append(grouped[cat.Type], entity.CategoryAssignment{
			Category:        cat,
			ConfidenceScore: a.confidence,
			Source:          a.source,
		})
	}
	return grouped
}

// SetField mirrors the postgres write semantics, including the
// single-valued category swap and the last_updated bump.
func (s *Store) SetField(_ context.Context, et entity.EntityType, entityID, field string, value any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok || e.Type != et {
		return false, nil
	}
	if ct, isCat := entity.CategoryFieldType(field); isCat {
		return s.setCategory(entityID, ct, value), nil
	}
	_, isBase := entity.BaseColumn(field)
	_, isExt := entity.ExtensionColumn(et, field)
	if !isBase && !isExt {
		return false, nil
	}
	s.fields[entityID][field] = value
	e.LastUpdated = s.clock.Now()
	s.entities[entityID] = e
	return true, nil
}

func (s *Store) setCategory(entityID, categoryType string, value any) bool {
	isMultiple, ok := s.categoryTypes[categoryType]
	if !ok {
		return false
	}
	catID, ok := s.resolveCategory(categoryType, value)
	if !ok {
		return false
	}
	if !isMultiple {
		kept := s.assignments[entityID][:0]
		for _, a := range s.assignments[entityID] {
			if s.categories[a.categoryID].Type != categoryType {
				kept = append(kept, a)
			}
		}
		s.assignments[entityID] = kept
	}
	confidence, source := 1.0, ""
	if m, isMap := value.(map[string]any); isMap {
		if c, ok := m["confidence_score"].(float64); ok {
			confidence = c
		}
		if src, ok := m["source"].(string); ok {
			source = src
		}
	}
	for i, a := range s.assignments[entityID] {
		if a.categoryID == catID {
			s.assignments[entityID][i] = assignment{categoryID: catID, confidence: confidence, source: source}
			return true
		}
	}
	s.assignments[entityID] = append(s.assignments[entityID], assignment{
		categoryID: catID, confidence: confidence, source: source,
	})
	return true
}

func (s *Store) resolveCategory(categoryType string, value any) (int64, bool) {
	var text string
	switch v := value.(type) {
	case int:
		return s.categoryByID(int64(v), categoryType)
	case int64:
		return s.categoryByID(v, categoryType)
	case float64:
		return s.categoryByID(int64(v), categoryType)
	case string:
		text = v
	case map[string]any:
		if id, ok := v["id"].(float64); ok {
			return s.categoryByID(int64(id), categoryType)
		}
		if code, ok := v["code"].(string); ok {
			text = code
		} else if name, ok := v["name"].(string); ok {
			text = name
		}
	}
	if text == "" {
		return 0, false
	}
	for id, cat := range s.categories {
		if cat.Type == categoryType && (cat.Code == text || cat.Name == text) {
			return id, true
		}
	}
	return 0, false
}

func (s *Store) categoryByID(id int64, categoryType string) (int64, bool) {
	cat, ok := s.categories[id]
	if !ok || cat.Type != categoryType {
		return 0, false
	}
	return id, true
}

// Related returns same-typed entities sharing at least one category.
func (s *Store) Related(_ context.Context, et entity.EntityType, entityID string) ([]entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refCats := map[int64]struct{}{}
	for _, a := range s.assignments[entityID] {
		refCats[a.categoryID] = struct{}{}
	}
	var out []entity.Entity
	for id, e := range s.entities {
		if id == entityID || e.Type != et {
			continue
		}
		for _, a := range s.assignments[id] {
			if _, shared := refCats[a.categoryID]; shared {
				out = append(out, e)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Search matches entities by name or category text.
func (s *Store) Search(_ context.Context, query string, et entity.EntityType, limit int) ([]entity.Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.Entity
	for id, e := range s.entities {
		if et != "" && e.Type != et {
			continue
		}
		if s.matches(id, e, needle) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) matches(entityID string, e entity.Entity, needle string) bool {
	if strings.Contains(strings.ToLower(e.Name), needle) ||
		strings.Contains(e.NormalizedName, needle) {
		return true
	}
	for _, a := range s.assignments[entityID] {
		cat := s.categories[a.categoryID]
		if strings.Contains(strings.ToLower(cat.Code), needle) ||
			strings.Contains(strings.ToLower(cat.Name), needle) {
			return true
		}
	}
	return false
}
