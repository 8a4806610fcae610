// Package rankrepo is the entity-repository layer: a thin,
// context-aware wrapper around Postgres that the credential store and
// the ranking-record store are both built on.
package rankrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Filter is an equality filter: every key/value pair must match.
// It is intentionally simple — this store has no query planner and
// none of its callers need anything richer than AND-of-equals plus
// the handful of range helpers below.
type Filter map[string]any

// Range expresses a half-open "field < value" filter, used for the
// age-based cleanup the reset scheduler runs.
type Range struct {
	Field string
	Lt    time.Time
}

// SortField orders FindMany results.
type SortField struct {
	Field string
	Desc  bool
}

// Repository is the abstract entity store the core depends on:
// find_one, find_many, count, create, update_one (with upsert),
// delete_one, delete_many, aggregate. Every method is collection-
// scoped, since a single physical store backs both the credentials
// and ranking-records collections.
type Repository interface {
	FindOne(ctx context.Context, collection string, filter Filter) (map[string]any, error)
	FindMany(ctx context.Context, collection string, filter Filter, sort []SortField, limit, skip int) ([]map[string]any, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
	Create(ctx context.Context, collection string, id string, doc map[string]any) error
	UpdateOne(ctx context.Context, collection string, filter Filter, patch map[string]any, upsert bool) error
	DeleteOne(ctx context.Context, collection string, filter Filter) error
	DeleteMany(ctx context.Context, collection string, filter Filter, olderThan *Range) (int64, error)
	Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error)
}

// PostgresRepository implements Repository over a single table of
// JSONB documents, one row per entity, with a handful of extracted
// columns (collection, id, domain, keyword, found, position, country,
// created_at) carrying the indexed fields each query filters on.
// Collections are
// namespaces within that one table rather than separate tables, since
// every collection this spec needs (credentials, rankings) shares the
// same shape of operation.
type PostgresRepository struct {
	db *sql.DB
}

// Open connects to Postgres via lib/pq and verifies the schema exists.
func Open(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("rankrepo: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("rankrepo: ping: %w", err)
	}
	repo := &PostgresRepository{db: db}
	if err := repo.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS rankpilot_documents (
	collection  TEXT NOT NULL,
	id          TEXT NOT NULL,
	domain      TEXT NOT NULL DEFAULT '',
	keyword     TEXT NOT NULL DEFAULT '',
	found       BOOLEAN NOT NULL DEFAULT FALSE,
	position    INTEGER,
	country     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	body        JSONB NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_rankpilot_domain_created ON rankpilot_documents (domain, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_rankpilot_keyword_domain ON rankpilot_documents (keyword, domain);
CREATE INDEX IF NOT EXISTS idx_rankpilot_found_position ON rankpilot_documents (found, position);
CREATE INDEX IF NOT EXISTS idx_rankpilot_country ON rankpilot_documents (country);
`
	_, err := r.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("rankrepo: ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindOne(ctx context.Context, collection string, filter Filter) (map[string]any, error) {
	rows, err := r.FindMany(ctx, collection, filter, nil, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *PostgresRepository) FindMany(ctx context.Context, collection string, filter Filter, sort []SortField, limit, skip int) ([]map[string]any, error) {
	where, args := buildWhere(collection, filter)
	query := fmt.Sprintf("SELECT body FROM rankpilot_documents WHERE %s", where)
	query += buildOrderBy(sort)
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if skip > 0 {
		args = append(args, skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rankrepo: find_many: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("rankrepo: scan: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("rankrepo: decode body: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	where, args := buildWhere(collection, filter)
	query := fmt.Sprintf("SELECT count(*) FROM rankpilot_documents WHERE %s", where)
	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("rankrepo: count: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Create(ctx context.Context, collection, id string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("rankrepo: encode body: %w", err)
	}
	domain, _ := doc["domain"].(string)
	if domain == "" {
		domain, _ = doc["target_domain"].(string)
	}
	keyword, _ := doc["keyword"].(string)
	found, _ := doc["found"].(bool)
	country, _ := doc["country"].(string)
	var position any
	if p, ok := doc["position"]; ok {
		position = p
	}

	const stmt = `
INSERT INTO rankpilot_documents (collection, id, domain, keyword, found, position, country, body)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (collection, id) DO UPDATE
SET domain = EXCLUDED.domain, keyword = EXCLUDED.keyword, found = EXCLUDED.found,
    position = EXCLUDED.position, country = EXCLUDED.country, body = EXCLUDED.body
`
	_, err = r.db.ExecContext(ctx, stmt, collection, id, domain, keyword, found, position, country, body)
	if err != nil {
		return fmt.Errorf("rankrepo: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateOne(ctx context.Context, collection string, filter Filter, patch map[string]any, upsert bool) error {
	existing, err := r.FindOne(ctx, collection, filter)
	if err != nil {
		return err
	}
	if existing == nil {
		if !upsert {
			return fmt.Errorf("rankrepo: update_one: no match for filter %v", filter)
		}
		existing = map[string]any{}
		for k, v := range filter {
			existing[k] = v
		}
	}
	for k, v := range patch {
		existing[k] = v
	}
	id, _ := existing["id"].(string)
	if id == "" {
		id, _ = filter["id"].(string)
	}
	if id == "" {
		return fmt.Errorf("rankrepo: update_one: no id to upsert on")
	}
	existing["id"] = id
	return r.Create(ctx, collection, id, existing)
}

func (r *PostgresRepository) DeleteOne(ctx context.Context, collection string, filter Filter) error {
	where, args := buildWhere(collection, filter)
	query := fmt.Sprintf("DELETE FROM rankpilot_documents WHERE %s AND id IN (SELECT id FROM rankpilot_documents WHERE %s LIMIT 1)", where, where)
	fullArgs := append(append([]any{}, args...), args...)
	_, err := r.db.ExecContext(ctx, query, fullArgs...)
	if err != nil {
		return fmt.Errorf("rankrepo: delete_one: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteMany(ctx context.Context, collection string, filter Filter, olderThan *Range) (int64, error) {
	where, args := buildWhere(collection, filter)
	if olderThan != nil {
		args = append(args, olderThan.Lt)
		where += fmt.Sprintf(" AND %s < $%d", sqlColumn(olderThan.Field), len(args))
	}
	query := fmt.Sprintf("DELETE FROM rankpilot_documents WHERE %s", where)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("rankrepo: delete_many: %w", err)
	}
	return res.RowsAffected()
}

// Aggregate supports the one pipeline shape the core needs: grouping
// by a single field with a count, expressed as
// []map[string]any{{"group_by": "country"}} (country is also the
// default when no stage names a field).
func (r *PostgresRepository) Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error) {
	groupBy := "country"
	for _, stage := range pipeline {
		if v, ok := stage["group_by"].(string); ok {
			groupBy = v
		}
	}
	col := sqlColumn(groupBy)
	query := fmt.Sprintf("SELECT %s, count(*) FROM rankpilot_documents WHERE collection = $1 GROUP BY %s", col, col)
	rows, err := r.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("rankrepo: aggregate: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("rankrepo: aggregate scan: %w", err)
		}
		out = append(out, map[string]any{groupBy: key, "count": count})
	}
	return out, rows.Err()
}

func buildWhere(collection string, filter Filter) (string, []any) {
	clauses := []string{"collection = $1"}
	args := []any{collection}
	for field, value := range filter {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", sqlColumn(field), len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func buildOrderBy(sort []SortField) string {
	if len(sort) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sort))
	for _, s := range sort {
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s", sqlColumn(s.Field), dir))
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// sqlColumn maps a filter/sort field name to one of the extracted
// columns when indexed, falling back to a JSONB path expression for
// anything else.
func sqlColumn(field string) string {
	switch field {
	case "id", "domain", "keyword", "found", "position", "country", "created_at":
		return field
	default:
		return fmt.Sprintf("body->>'%s'", field)
	}
}
