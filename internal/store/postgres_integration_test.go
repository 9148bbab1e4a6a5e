package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"fundroom/api/internal/content"
	"fundroom/api/internal/util"
	"fundroom/api/internal/versioning"
)

func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("FUNDROOM_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("FUNDROOM_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	if err := ApplyMigrations(dsn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), ctx
}

func uniqueType(t *testing.T) string {
	return "it_" + strings.ToLower(util.NewID("")[:12])
}

func patchNext(active *TemplateVersion, taken []string) (string, error) {
	var base *versioning.Version
	if active != nil {
		parsed, err := versioning.Parse(active.Version)
		if err != nil {
			return "", err
		}
		base = &parsed
	}
	return versioning.Next(base, taken, versioning.BumpPatch).String(), nil
}

func appendVersion(t *testing.T, ctx context.Context, s *PostgresStore, templateType, chairman string) TemplateVersion {
	t.Helper()
	saved, err := s.AppendTemplateVersion(ctx, TemplateVersion{
		ID:          util.NewID("tv"),
		Type:        templateType,
		Content:     content.Mapping(map[string]content.Value{"chairman": content.String(chairman)}),
		Description: "set chairman to " + chairman,
		CreatedBy:   "integration",
	}, patchNext)
	if err != nil {
		t.Fatalf("append version: %v", err)
	}
	return saved
}

func activeCount(t *testing.T, ctx context.Context, s *PostgresStore, templateType string) int {
	t.Helper()
	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM template_versions WHERE type=$1 AND is_active`, templateType).Scan(&count); err != nil {
		t.Fatalf("count active: %v", err)
	}
	return count
}

func TestTemplateVersionLifecyclePostgres(t *testing.T) {
	s, ctx := openTestStore(t)
	templateType := uniqueType(t)

	first := appendVersion(t, ctx, s, templateType, "A")
	second := appendVersion(t, ctx, s, templateType, "B")
	if first.Version != "1.0.0" || second.Version != "1.0.1" {
		t.Fatalf("unexpected versions %s, %s", first.Version, second.Version)
	}
	if got := activeCount(t, ctx, s, templateType); got != 1 {
		t.Fatalf("expected one active version, got %d", got)
	}

	activated, changed, err := s.ActivateTemplateVersion(ctx, first.ID)
	if err != nil || !changed {
		t.Fatalf("activate: changed=%t err=%v", changed, err)
	}
	if _, changed, err := s.ActivateTemplateVersion(ctx, first.ID); err != nil || changed {
		t.Fatalf("re-activating the active row must be a no-op: changed=%t err=%v", changed, err)
	}
	active, err := s.GetActiveTemplateVersion(ctx, templateType)
	if err != nil || active == nil {
		t.Fatalf("get active: %v %+v", err, active)
	}
	if active.ID != first.ID || !active.Content.Equal(activated.Content) {
		t.Fatalf("rollback did not restore content: %+v", active)
	}

	third := appendVersion(t, ctx, s, templateType, "C")
	if third.Version != "1.0.2" {
		t.Fatalf("save after rollback should skip used patch numbers, got %s", third.Version)
	}

	_, reactivated, err := s.DeleteTemplateVersion(ctx, third.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if reactivated == nil || reactivated.ID != second.ID {
		t.Fatalf("expected most recent remaining version to be reactivated, got %+v", reactivated)
	}

	if _, _, err := s.DeleteTemplateVersion(ctx, third.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows deleting twice, got %v", err)
	}
}

func TestConcurrentAppendsKeepOneActivePostgres(t *testing.T) {
	s, ctx := openTestStore(t)
	templateType := uniqueType(t)
	appendVersion(t, ctx, s, templateType, "seed")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendTemplateVersion(ctx, TemplateVersion{
				ID:          util.NewID("tv"),
				Type:        templateType,
				Content:     content.Mapping(map[string]content.Value{"n": content.Number(float64(i))}),
				Description: fmt.Sprintf("concurrent save %d", i),
				CreatedBy:   "integration",
			}, patchNext)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	if got := activeCount(t, ctx, s, templateType); got != 1 {
		t.Fatalf("expected exactly one active version, got %d", got)
	}
	versions, err := s.ListTemplateVersions(ctx, templateType)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(versions) != 9 {
		t.Fatalf("expected 9 versions, got %d", len(versions))
	}
}

func TestTemplateVersionRowsAreImmutablePostgres(t *testing.T) {
	s, ctx := openTestStore(t)
	saved := appendVersion(t, ctx, s, uniqueType(t), "A")

	_, err := s.DB().ExecContext(ctx, `UPDATE template_versions SET description = 'rewritten' WHERE id = $1`, saved.ID)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
		t.Fatalf("expected immutability violation, got %v", err)
	}
}

func TestSecondActiveRowIsRejectedPostgres(t *testing.T) {
	s, ctx := openTestStore(t)
	templateType := uniqueType(t)
	appendVersion(t, ctx, s, templateType, "A")

	_, err := s.DB().ExecContext(ctx, `
		INSERT INTO template_versions (id, type, version, content, is_active, description, created_by)
		VALUES ($1, $2, '9.9.9', '{}'::jsonb, TRUE, 'manual', 'integration')
	`, util.NewID("tv"), templateType)
	if !errors.Is(mapConstraintError(err), ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
