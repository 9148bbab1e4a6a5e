package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"fundroom/api/internal/content"
)

// ErrConflict is returned when a write would break the single-active-version
// or unique-version constraints.
var ErrConflict = errors.New("template version conflict")

// NextVersionFunc chooses the version string for a new row given the type's
// active row (nil when none) and every version string already used.
type NextVersionFunc func(active *TemplateVersion, taken []string) (string, error)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const templateVersionColumns = `id, type, version, content, is_active, description, created_at, created_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplateVersion(row rowScanner) (TemplateVersion, error) {
	var item TemplateVersion
	var raw []byte
	if err := row.Scan(&item.ID, &item.Type, &item.Version, &raw, &item.IsActive, &item.Description, &item.CreatedAt, &item.CreatedBy); err != nil {
		return TemplateVersion{}, err
	}
	parsed, err := content.Parse(raw)
	if err != nil {
		return TemplateVersion{}, fmt.Errorf("decode content of %s: %w", item.ID, err)
	}
	item.Content = parsed
	return item, nil
}

func (s *PostgresStore) ListTemplateVersions(ctx context.Context, templateType string) ([]TemplateVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateVersionColumns+`
		FROM template_versions
		WHERE type = $1
		ORDER BY created_at DESC, id DESC
	`, templateType)
	if err != nil {
		return nil, fmt.Errorf("list template versions: %w", err)
	}
	defer rows.Close()

	items := make([]TemplateVersion, 0)
	for rows.Next() {
		item, err := scanTemplateVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template versions: %w", err)
	}
	return items, nil
}

// GetTemplateVersion returns sql.ErrNoRows when the id is unknown.
func (s *PostgresStore) GetTemplateVersion(ctx context.Context, id string) (TemplateVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateVersionColumns+` FROM template_versions WHERE id = $1`, id)
	return scanTemplateVersion(row)
}

// GetActiveTemplateVersion returns nil without error when the type has no
// active row.
func (s *PostgresStore) GetActiveTemplateVersion(ctx context.Context, templateType string) (*TemplateVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateVersionColumns+` FROM template_versions WHERE type = $1 AND is_active`, templateType)
	item, err := scanTemplateVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active template version: %w", err)
	}
	return &item, nil
}

// AppendTemplateVersion inserts draft as the new active row of its type. The
// per-type advisory lock serialises concurrent saves so the version read,
// the deactivation and the insert all see the same history.
func (s *PostgresStore) AppendTemplateVersion(ctx context.Context, draft TemplateVersion, next NextVersionFunc) (TemplateVersion, error) {
	encoded, err := draft.Content.MarshalJSON()
	if err != nil {
		return TemplateVersion{}, fmt.Errorf("encode content: %w", err)
	}

	var saved TemplateVersion
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockType(ctx, tx, draft.Type); err != nil {
			return err
		}

		active, err := scanTemplateVersion(tx.QueryRowContext(ctx, `
			SELECT `+templateVersionColumns+` FROM template_versions WHERE type = $1 AND is_active
		`, draft.Type))
		var activePtr *TemplateVersion
		switch {
		case err == nil:
			activePtr = &active
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("read active version: %w", err)
		}

		taken, err := takenVersions(ctx, tx, draft.Type)
		if err != nil {
			return err
		}

		version, err := next(activePtr, taken)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE template_versions SET is_active = FALSE WHERE type = $1 AND is_active
		`, draft.Type); err != nil {
			return fmt.Errorf("deactivate previous version: %w", mapConstraintError(err))
		}

		saved = draft
		saved.Version = version
		saved.IsActive = true
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO template_versions (id, type, version, content, is_active, description, created_by)
			VALUES ($1, $2, $3, $4::jsonb, TRUE, $5, $6)
			RETURNING created_at
		`, draft.ID, draft.Type, version, string(encoded), draft.Description, draft.CreatedBy).Scan(&saved.CreatedAt); err != nil {
			return fmt.Errorf("insert template version: %w", mapConstraintError(err))
		}
		return nil
	})
	if err != nil {
		return TemplateVersion{}, err
	}
	return saved, nil
}

// ActivateTemplateVersion makes id the active row of its type and reports
// whether the active row changed. Activating the active row is a no-op.
func (s *PostgresStore) ActivateTemplateVersion(ctx context.Context, id string) (TemplateVersion, bool, error) {
	var activated TemplateVersion
	changed := false
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		target, err := scanTemplateVersion(tx.QueryRowContext(ctx, `SELECT `+templateVersionColumns+` FROM template_versions WHERE id = $1`, id))
		if err != nil {
			return err
		}
		if err := lockType(ctx, tx, target.Type); err != nil {
			return err
		}

		// Re-read under the lock: a concurrent write may have changed it.
		if err := tx.QueryRowContext(ctx, `SELECT is_active FROM template_versions WHERE id = $1`, id).Scan(&target.IsActive); err != nil {
			return err
		}
		activated = target
		if target.IsActive {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE template_versions SET is_active = FALSE WHERE type = $1 AND is_active
		`, target.Type); err != nil {
			return fmt.Errorf("deactivate versions: %w", mapConstraintError(err))
		}
		if _, err := tx.ExecContext(ctx, `UPDATE template_versions SET is_active = TRUE WHERE id = $1`, id); err != nil {
			return fmt.Errorf("activate version: %w", mapConstraintError(err))
		}

		activated.IsActive = true
		changed = true
		return nil
	})
	if err != nil {
		return TemplateVersion{}, false, err
	}
	return activated, changed, nil
}

// DeleteTemplateVersion removes id. When the removed row was active, the most
// recently created remaining row of the type is activated and returned.
func (s *PostgresStore) DeleteTemplateVersion(ctx context.Context, id string) (TemplateVersion, *TemplateVersion, error) {
	var deleted TemplateVersion
	var reactivated *TemplateVersion
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		target, err := scanTemplateVersion(tx.QueryRowContext(ctx, `SELECT `+templateVersionColumns+` FROM template_versions WHERE id = $1`, id))
		if err != nil {
			return err
		}
		if err := lockType(ctx, tx, target.Type); err != nil {
			return err
		}

		// Re-read under the lock: a concurrent activation may have flipped it.
		if err := tx.QueryRowContext(ctx, `
			DELETE FROM template_versions WHERE id = $1 RETURNING is_active
		`, id).Scan(&target.IsActive); err != nil {
			return err
		}
		deleted = target
		if !target.IsActive {
			return nil
		}

		candidate, err := scanTemplateVersion(tx.QueryRowContext(ctx, `
			SELECT `+templateVersionColumns+`
			FROM template_versions
			WHERE type = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		`, target.Type))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find replacement version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE template_versions SET is_active = TRUE WHERE id = $1`, candidate.ID); err != nil {
			return fmt.Errorf("reactivate version: %w", mapConstraintError(err))
		}
		candidate.IsActive = true
		reactivated = &candidate
		return nil
	})
	if err != nil {
		return TemplateVersion{}, nil, err
	}
	return deleted, reactivated, nil
}

func (s *PostgresStore) ListTemplateTypes(ctx context.Context) ([]TemplateTypeSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type,
			MAX(version) FILTER (WHERE is_active) AS active_version,
			COUNT(*) AS version_count,
			MAX(created_at) AS updated_at
		FROM template_versions
		GROUP BY type
		ORDER BY type
	`)
	if err != nil {
		return nil, fmt.Errorf("list template types: %w", err)
	}
	defer rows.Close()

	items := make([]TemplateTypeSummary, 0)
	for rows.Next() {
		var item TemplateTypeSummary
		var active sql.NullString
		if err := rows.Scan(&item.Type, &active, &item.VersionCount, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template type: %w", err)
		}
		if active.Valid {
			item.ActiveVersion = &active.String
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template types: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func lockType(ctx context.Context, tx *sql.Tx, templateType string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "template_versions:"+templateType); err != nil {
		return fmt.Errorf("lock template type: %w", err)
	}
	return nil
}

func takenVersions(ctx context.Context, tx *sql.Tx, templateType string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT version FROM template_versions WHERE type = $1`, templateType)
	if err != nil {
		return nil, fmt.Errorf("list used versions: %w", err)
	}
	defer rows.Close()

	var taken []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan used version: %w", err)
		}
		taken = append(taken, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate used versions: %w", err)
	}
	return taken, nil
}

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}
