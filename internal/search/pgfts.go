package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks change notes with websearch_to_tsquery and ts_rank, using
// ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "tv.fts @@ websearch_to_tsquery('simple', $1)"
	args := []any{q.Text}
	if q.FilterType != "" {
		where += " AND tv.type = $2"
		args = append(args, q.FilterType)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM template_versions tv WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT tv.id, tv.type, tv.version,
			ts_headline('simple', tv.description, websearch_to_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			tv.created_by, tv.created_at
		FROM template_versions tv
		WHERE %s
		ORDER BY ts_rank(tv.fts, websearch_to_tsquery('simple', $1)) DESC, tv.created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Type, &r.Version, &r.Snippet, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every template version for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]VersionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, type, version, description, created_by, created_at
		FROM template_versions
	`)
	if err != nil {
		return nil, fmt.Errorf("load template versions: %w", err)
	}
	defer rows.Close()

	records := make([]VersionRecord, 0)
	for rows.Next() {
		var record VersionRecord
		var createdAt sql.NullTime
		if err := rows.Scan(&record.ID, &record.Type, &record.Version, &record.Description, &record.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan template version: %w", err)
		}
		if createdAt.Valid {
			record.CreatedAt = createdAt.Time.Unix()
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template versions: %w", err)
	}
	return records, nil
}
