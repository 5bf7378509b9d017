// Package postgres implements the entity store on top of pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/civiclens/civiclens/internal/entity"
)

//go:embed schema.sql
var schemaDDL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the narrow pool surface the store needs; pgxmock satisfies it.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store routes generic field access onto the entity tables.
type Store struct {
	pool   pgxPool
	clock  entity.Clock
	ids    entity.IDGenerator
	logger *zap.Logger
}

// New connects a pool and builds a Store.
func New(ctx context.Context, cfg Config, clock entity.Clock, ids entity.IDGenerator, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, clock, ids, logger)
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, clock entity.Clock, ids entity.IDGenerator, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, clock: clock, ids: ids, logger: logger}, nil
}

// EnsureSchema applies the embedded DDL. Statements are idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const entityColumns = `id, entity_type, name, normalized_name,
	COALESCE(bio, ''), COALESCE(twitter_handle, ''), COALESCE(website_url, ''),
	COALESCE(relevance_score, 0), last_updated, created_at`

// CreateEntity inserts the base row plus the type's extension row in one
// transaction, so a politician can never exist without politician_details.
func (s *Store) CreateEntity(ctx context.Context, e entity.Entity) (entity.Entity, error) {
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
		e.NormalizedName = NormalizeName(e.Name)
	}
	now := s.clock.Now()
	e.LastUpdated = now
	e.CreatedAt = now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return entity.Entity{}, storageErr("begin create entity", err)
	}
	defer rollback(ctx, tx, s.logger)

	_, err = tx.Exec(ctx, `
INSERT INTO entities (id, entity_type, name, normalized_name, bio, twitter_handle, website_url, relevance_score, last_updated, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)`,
		e.ID, string(e.Type), e.Name, e.NormalizedName, e.Bio, e.TwitterHandle, e.WebsiteURL,
		e.RelevanceScore, now, now)
	if err != nil {
		return entity.Entity{}, storageErr("insert entity", err)
	}

	if table, ok := entity.ExtensionTables[e.Type]; ok {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (entity_id) VALUES ($1)`, table), e.ID); err != nil {
			return entity.Entity{}, storageErr("insert extension row", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return entity.Entity{}, storageErr("commit create entity", err)
	}
	return e, nil
}

// GetEntity loads one base row, failing closed on type mismatch.
func (s *Store) GetEntity(ctx context.Context, et entity.EntityType, entityID string) (entity.Entity, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+entityColumns+`
FROM entities WHERE id = $1 AND entity_type = $2`, entityID, string(et))
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Entity{}, fmt.Errorf("%w: %s/%s", entity.ErrNotFound, et, entityID)
		}
		return entity.Entity{}, storageErr("get entity", err)
	}
	return e, nil
}

// GetField resolves a field in order: base columns, the type-matched
// extension table, then the synthetic category fields. Unknown fields and
// NULL values report found=false without error.
func (s *Store) GetField(ctx context.Context, et entity.EntityType, entityID, field string) (any, bool, error) {
	if ref, ok := entity.BaseColumn(field); ok {
		query := fmt.Sprintf(`SELECT %s FROM entities WHERE id = $1 AND entity_type = $2`, ref.Column)
		return s.scanValue(ctx, ref, query, entityID, string(et))
	}
	if ref, ok := entity.ExtensionColumn(et, field); ok {
		table := entity.ExtensionTables[et]
		query := fmt.Sprintf(`
SELECT d.%s FROM %s d
JOIN entities e ON e.id = d.entity_id
WHERE d.entity_id = $1 AND e.entity_type = $2`, ref.Column, table)
		return s.scanValue(ctx, ref, query, entityID, string(et))
	}
	switch field {
	case entity.FieldCategories:
		return s.getCategories(ctx, et, entityID)
	case entity.FieldParty:
		return s.getParty(ctx, et, entityID)
	}
	return nil, false, nil
}

func (s *Store) scanValue(ctx context.Context, ref entity.ColumnRef, query string, args ...any) (any, bool, error) {
	var raw any
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, storageErr("get field", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	if str, ok := raw.(string); ok && !ref.JSONValued && str == "" {
		return nil, false, nil
	}
	if ref.JSONValued {
		if b, ok := raw.([]byte); ok {
			var decoded any
			if err := json.Unmarshal(b, &decoded); err != nil {
				return nil, false, storageErr("decode json field", err)
			}
			return decoded, true, nil
		}
	}
	return raw, true, nil
}

const categoryJoin = `
FROM entity_categories ec
JOIN categories c ON c.id = ec.category_id
JOIN entities e ON e.id = ec.entity_id
WHERE ec.entity_id = $1 AND e.entity_type = $2`

func (s *Store) getCategories(ctx context.Context, et entity.EntityType, entityID string) (any, bool, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.id, c.category_type, c.code, c.name, ec.confidence_score, COALESCE(ec.source, '')`+
		categoryJoin+`
ORDER BY c.category_type, c.code`, entityID, string(et))
	if err != nil {
		return nil, false, storageErr("get categories", err)
	}
	defer rows.Close()

	grouped := map[string][]entity.CategoryAssignment{}
	count := 0
	for rows.Next() {
		var a entity.CategoryAssignment
		if err := rows.Scan(&a.ID, &a.Type, &a.Code, &a.Name, &a.ConfidenceScore, &a.Source); err != nil {
			return nil, false, storageErr("scan category row", err)
		}
		grouped[a.Type] = append(grouped[a.Type], a)
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, false, storageErr("iterate categories", err)
	}
	if count == 0 {
		return nil, false, nil
	}
	return grouped, true, nil
}

func (s *Store) getParty(ctx context.Context, et entity.EntityType, entityID string) (any, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT c.id, c.category_type, c.code, c.name, ec.confidence_score, COALESCE(ec.source, '')`+
		categoryJoin+`
AND c.category_type = '`+entity.CategoryTypeParty+`'
ORDER BY ec.confidence_score DESC
LIMIT 1`, entityID, string(et))
	var a entity.CategoryAssignment
	if err := row.Scan(&a.ID, &a.Type, &a.Code, &a.Name, &a.ConfidenceScore, &a.Source); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, storageErr("get party", err)
	}
	return a, true, nil
}

// SetField writes a field value. Category fields take the
// "category_<type>" form and go through the atomic assignment path; base
// and extension writes also bump entities.last_updated.
func (s *Store) SetField(ctx context.Context, et entity.EntityType, entityID, field string, value any) (bool, error) {
	if ct, ok := entity.CategoryFieldType(field); ok {
		return s.setCategory(ctx, et, entityID, ct, value)
	}
	now := s.clock.Now()
	if ref, ok := entity.BaseColumn(field); ok {
		encoded, err := encodeValue(ref, value)
		if err != nil {
			return false, err
		}
		query := fmt.Sprintf(`
UPDATE entities SET %s = $1, last_updated = $2
WHERE id = $3 AND entity_type = $4`, ref.Column)
		tag, err := s.pool.Exec(ctx, query, encoded, now, entityID, string(et))
		if err != nil {
			return false, storageErr("set field", err)
		}
		return tag.RowsAffected() > 0, nil
	}
	if ref, ok := entity.ExtensionColumn(et, field); ok {
		return s.setExtensionField(ctx, et, entityID, ref, value, now)
	}
	return false, nil
}

func (s *Store) setExtensionField(
	ctx context.Context,
	et entity.EntityType,
	entityID string,
	ref entity.ColumnRef,
	value any,
	now time.Time,
) (bool, error) {
	encoded, err := encodeValue(ref, value)
	if err != nil {
		return false, err
	}
	table := entity.ExtensionTables[et]

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, storageErr("begin set field", err)
	}
	defer rollback(ctx, tx, s.logger)

	query := fmt.Sprintf(`
UPDATE %s d SET %s = $1
FROM entities e
WHERE d.entity_id = $2 AND e.id = d.entity_id AND e.entity_type = $3`, table, ref.Column)
	tag, err := tx.Exec(ctx, query, encoded, entityID, string(et))
	if err != nil {
		return false, storageErr("set extension field", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE entities SET last_updated = $1 WHERE id = $2`, now, entityID); err != nil {
		return false, storageErr("bump last_updated", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, storageErr("commit set field", err)
	}
	return true, nil
}

// setCategory assigns a category inside one transaction. For single-valued
// category types the prior assignment is removed in the same transaction,
// so a reader never observes zero or two current values.
func (s *Store) setCategory(ctx context.Context, et entity.EntityType, entityID, categoryType string, value any) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, storageErr("begin set category", err)
	}
	defer rollback(ctx, tx, s.logger)

	var isMultiple bool
	err = tx.QueryRow(ctx, `SELECT is_multiple FROM category_types WHERE type = $1`, categoryType).Scan(&isMultiple)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, storageErr("resolve category type", err)
	}

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1 AND entity_type = $2)`,
		entityID, string(et)).Scan(&exists)
	if err != nil {
		return false, storageErr("check entity", err)
	}
	if !exists {
		return false, nil
	}

	ref := parseCategoryValue(value)
	categoryID, ok, err := resolveCategory(ctx, tx, categoryType, ref)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if !isMultiple {
		_, err = tx.Exec(ctx, `
DELETE FROM entity_categories ec
USING categories c
WHERE ec.category_id = c.id AND ec.entity_id = $1 AND c.category_type = $2`,
			entityID, categoryType)
		if err != nil {
			return false, storageErr("clear prior category", err)
		}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO entity_categories (entity_id, category_id, confidence_score, source)
VALUES ($1, $2, $3, NULLIF($4, ''))
ON CONFLICT (entity_id, category_id) DO UPDATE
SET confidence_score = EXCLUDED.confidence_score, source = EXCLUDED.source`,
		entityID, categoryID, ref.confidence, ref.source)
	if err != nil {
		return false, storageErr("insert entity category", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storageErr("commit set category", err)
	}
	return true, nil
}

// categoryValue carries the parsed shape of a category assignment value.
type categoryValue struct {
	id         int64
	byID       bool
	text       string
	confidence float64
	source     string
}

func parseCategoryValue(value any) categoryValue {
	ref := categoryValue{confidence: 1.0}
	switch v := value.(type) {
	case int:
		ref.id, ref.byID = int64(v), true
	case int64:
		ref.id, ref.byID = v, true
	case float64:
		ref.id, ref.byID = int64(v), true
	case string:
		ref.text = v
	case map[string]any:
		if id, ok := v["id"]; ok {
			inner := parseCategoryValue(id)
			ref.id, ref.byID, ref.text = inner.id, inner.byID, inner.text
		} else if code, ok := v["code"].(string); ok {
			ref.text = code
		} else if name, ok := v["name"].(string); ok {
			ref.text = name
		}
		if c, ok := v["confidence_score"].(float64); ok {
			ref.confidence = c
		}
		if src, ok := v["source"].(string); ok {
			ref.source = src
		}
	}
	return ref
}

func resolveCategory(ctx context.Context, tx pgx.Tx, categoryType string, ref categoryValue) (int64, bool, error) {
	var (
		id  int64
		err error
	)
	if ref.byID {
		err = tx.QueryRow(ctx, `SELECT id FROM categories WHERE id = $1 AND category_type = $2`,
			ref.id, categoryType).Scan(&id)
	} else if ref.text != "" {
		err = tx.QueryRow(ctx, `SELECT id FROM categories WHERE category_type = $1 AND (code = $2 OR name = $2)`,
			categoryType, ref.text).Scan(&id)
	} else {
		return 0, false, nil
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, storageErr("resolve category", err)
	}
	return id, true, nil
}

// Related returns same-typed entities sharing at least one category with
// the reference entity, most relevant first.
func (s *Store) Related(ctx context.Context, et entity.EntityType, entityID string) ([]entity.Entity, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT `+prefixColumns("e2")+`
FROM entity_categories ec1
JOIN entity_categories ec2 ON ec2.category_id = ec1.category_id AND ec2.entity_id <> ec1.entity_id
JOIN entities e2 ON e2.id = ec2.entity_id
WHERE ec1.entity_id = $1 AND e2.entity_type = $2
ORDER BY COALESCE(e2.relevance_score, 0) DESC
LIMIT 25`, entityID, string(et))
	if err != nil {
		return nil, storageErr("query related", err)
	}
	return collectEntities(rows)
}

// Search matches entities by name or category text.
func (s *Store) Search(ctx context.Context, query string, et entity.EntityType, limit int) ([]entity.Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+prefixColumns("e")+`
FROM entities e
WHERE ($1 = '' OR e.entity_type = $1)
  AND (e.name ILIKE '%' || $2 || '%'
    OR e.normalized_name ILIKE '%' || $2 || '%'
    OR EXISTS (
        SELECT 1 FROM entity_categories ec
        JOIN categories c ON c.id = ec.category_id
        WHERE ec.entity_id = e.id
          AND (c.code ILIKE '%' || $2 || '%' OR c.name ILIKE '%' || $2 || '%')))
ORDER BY COALESCE(e.relevance_score, 0) DESC
LIMIT $3`, string(et), query, limit)
	if err != nil {
		return nil, storageErr("search entities", err)
	}
	return collectEntities(rows)
}

func prefixColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.entity_type, %[1]s.name, %[1]s.normalized_name,
	COALESCE(%[1]s.bio, ''), COALESCE(%[1]s.twitter_handle, ''), COALESCE(%[1]s.website_url, ''),
	COALESCE(%[1]s.relevance_score, 0), %[1]s.last_updated, %[1]s.created_at`, alias)
}

func collectEntities(rows pgx.Rows) ([]entity.Entity, error) {
	defer rows.Close()
	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, storageErr("scan entity row", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entities", err)
	}
	return out, nil
}

func scanEntity(row pgx.Row) (entity.Entity, error) {
	var (
		e  entity.Entity
		et string
	)
	err := row.Scan(&e.ID, &et, &e.Name, &e.NormalizedName, &e.Bio, &e.TwitterHandle,
		&e.WebsiteURL, &e.RelevanceScore, &e.LastUpdated, &e.CreatedAt)
	if err != nil {
		return entity.Entity{}, err
	}
	e.Type = entity.EntityType(et)
	return e, nil
}

func encodeValue(ref entity.ColumnRef, value any) (any, error) {
	if ref.JSONValued {
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode field value: %w", err)
		}
		return b, nil
	}
	switch value.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode field value: %w", err)
		}
		return string(b), nil
	}
	return value, nil
}

// NormalizeName lowercases and collapses whitespace for uniqueness checks.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, entity.ErrStorage, err)
}

func rollback(ctx context.Context, tx pgx.Tx, logger *zap.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Warn("transaction rollback failed", zap.Error(err))
	}
}
