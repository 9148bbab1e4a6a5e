package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"fundroom/api/internal/archive"
	"fundroom/api/internal/auth"
	"fundroom/api/internal/config"
	"fundroom/api/internal/content"
	"fundroom/api/internal/diff"
	"fundroom/api/internal/metrics"
	"fundroom/api/internal/rbac"
	"fundroom/api/internal/search"
	"fundroom/api/internal/store"
	"fundroom/api/internal/util"
	"fundroom/api/internal/versioning"
)

type Session struct {
	UserID   string
	UserName string
	Role     string
}

type dataStore interface {
	ListTemplateVersions(context.Context, string) ([]store.TemplateVersion, error)
	GetTemplateVersion(context.Context, string) (store.TemplateVersion, error)
	GetActiveTemplateVersion(context.Context, string) (*store.TemplateVersion, error)
	AppendTemplateVersion(context.Context, store.TemplateVersion, store.NextVersionFunc) (store.TemplateVersion, error)
	ActivateTemplateVersion(context.Context, string) (store.TemplateVersion, bool, error)
	DeleteTemplateVersion(context.Context, string) (store.TemplateVersion, *store.TemplateVersion, error)
	ListTemplateTypes(context.Context) ([]store.TemplateTypeSummary, error)
	Ping(ctx context.Context) error
}

type archiver interface {
	Record(archive.Event) (archive.Commit, error)
	History(string, int) ([]archive.Commit, error)
	ContentAt(string, string) (content.Value, error)
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexVersion(search.VersionRecord)
	DeleteVersion(string)
}

// Integrations are the optional collaborators. A nil field disables the
// integration.
type Integrations struct {
	Archive   archiver
	Search    searchIndex
	Cache     renderCache
	Documents documentStore
	Renderer  documentRenderer
}

type Service struct {
	cfg          config.Config
	store        dataStore
	integrations Integrations
	logger       *zap.Logger
	renders      singleflight.Group
	now          func() time.Time
}

func New(cfg config.Config, dataStore dataStore, integrations Integrations, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:          cfg,
		store:        dataStore,
		integrations: integrations,
		logger:       logger,
		now:          time.Now,
	}
}

var templateTypePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

const maxTemplateTypeLength = 64

// VersionView is the wire form of a template version row.
type VersionView struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Version     string        `json:"version"`
	Content     content.Value `json:"content"`
	IsActive    bool          `json:"is_active"`
	Description string        `json:"description"`
	CreatedAt   time.Time     `json:"created_at"`
	CreatedBy   string        `json:"created_by"`
}

type TypeView struct {
	Type          string    `json:"type"`
	ActiveVersion *string   `json:"activeVersion"`
	VersionCount  int       `json:"versionCount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type SaveInput struct {
	Content     *content.Value `json:"content"`
	Description string         `json:"description"`
	Bump        string         `json:"bump"`
}

type DeleteResult struct {
	Deleted            VersionView `json:"deleted"`
	ReactivatedVersion *string     `json:"reactivatedVersion,omitempty"`
}

type VersionRef struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

type DiffView struct {
	Type    string        `json:"type"`
	From    VersionRef    `json:"from"`
	To      VersionRef    `json:"to"`
	Changes []diff.Change `json:"changes"`
	Summary diff.Summary  `json:"summary"`
}

func toView(v store.TemplateVersion) VersionView {
	return VersionView{
		ID:          v.ID,
		Type:        v.Type,
		Version:     v.Version,
		Content:     v.Content,
		IsActive:    v.IsActive,
		Description: v.Description,
		CreatedAt:   v.CreatedAt,
		CreatedBy:   v.CreatedBy,
	}
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// SessionFromToken verifies a bearer token issued by the identity provider.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:   claims.Subject,
		UserName: claims.Name,
		Role:     string(rbac.Normalize(claims.Role)),
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListTypes(ctx context.Context) ([]TypeView, error) {
	items, err := s.store.ListTemplateTypes(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]TypeView, 0, len(items))
	for _, item := range items {
		views = append(views, TypeView{
			Type:          item.Type,
			ActiveVersion: item.ActiveVersion,
			VersionCount:  item.VersionCount,
			UpdatedAt:     item.UpdatedAt,
		})
	}
	return views, nil
}

// ListVersions returns every version of templateType, newest first.
func (s *Service) ListVersions(ctx context.Context, templateType string) ([]VersionView, error) {
	if err := validateType(templateType); err != nil {
		return nil, err
	}
	items, err := s.store.ListTemplateVersions(ctx, templateType)
	if err != nil {
		return nil, err
	}
	views := make([]VersionView, 0, len(items))
	for _, item := range items {
		views = append(views, toView(item))
	}
	return views, nil
}

func (s *Service) GetVersion(ctx context.Context, id string) (VersionView, error) {
	item, err := s.getVersion(ctx, id)
	if err != nil {
		return VersionView{}, err
	}
	return toView(item), nil
}

// GetActive returns nil when no version of the type is active.
func (s *Service) GetActive(ctx context.Context, templateType string) (*VersionView, error) {
	if err := validateType(templateType); err != nil {
		return nil, err
	}
	active, err := s.store.GetActiveTemplateVersion(ctx, templateType)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, nil
	}
	view := toView(*active)
	return &view, nil
}

// Save appends content as the new active version of templateType.
func (s *Service) Save(ctx context.Context, templateType string, input SaveInput, author Session) (VersionView, error) {
	if err := validateType(templateType); err != nil {
		return VersionView{}, err
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return VersionView{}, validationError("description is required", map[string]any{"field": "description"})
	}
	if input.Content == nil {
		return VersionView{}, validationError("content is required", map[string]any{"field": "content"})
	}
	bump, err := versioning.ParseBump(input.Bump)
	if err != nil {
		return VersionView{}, validationError(err.Error(), map[string]any{"field": "bump"})
	}

	draft := store.TemplateVersion{
		ID:          util.NewID("tv"),
		Type:        templateType,
		Content:     *input.Content,
		Description: description,
		CreatedBy:   author.UserID,
	}
	saved, err := s.store.AppendTemplateVersion(ctx, draft, nextVersion(bump))
	if err != nil {
		return VersionView{}, s.storeError("save", err)
	}
	metrics.TemplateVersionsSaved.WithLabelValues(templateType, string(bump)).Inc()

	s.record(archive.Event{
		Type:        saved.Type,
		Action:      archive.ActionSave,
		VersionID:   saved.ID,
		Version:     saved.Version,
		Description: saved.Description,
		Active:      &saved.Version,
		Content:     saved.Content,
		Actor:       author.UserName,
		At:          saved.CreatedAt,
	})
	if s.integrations.Search != nil {
		s.integrations.Search.IndexVersion(searchRecord(saved))
	}
	return toView(saved), nil
}

// nextVersion derives the new version from the active row. A malformed
// active version is rejected rather than guessed at.
func nextVersion(bump versioning.Bump) store.NextVersionFunc {
	return func(active *store.TemplateVersion, taken []string) (string, error) {
		var base *versioning.Version
		if active != nil {
			parsed, err := versioning.Parse(active.Version)
			if err != nil {
				return "", validationError(
					fmt.Sprintf("active version %q of %s is malformed", active.Version, active.Type),
					map[string]any{"versionId": active.ID},
				)
			}
			base = &parsed
		}
		return versioning.Next(base, taken, bump).String(), nil
	}
}

// Activate makes id the active version of its type. Activating the active
// version succeeds without changes or side effects.
func (s *Service) Activate(ctx context.Context, id string, actor Session) (VersionView, error) {
	if strings.TrimSpace(id) == "" {
		return VersionView{}, validationError("version id is required", nil)
	}
	activated, changed, err := s.store.ActivateTemplateVersion(ctx, id)
	if err != nil {
		return VersionView{}, s.versionError("activate", id, err)
	}
	if !changed {
		return toView(activated), nil
	}
	metrics.TemplateVersionsActivated.WithLabelValues(activated.Type).Inc()

	s.record(archive.Event{
		Type:        activated.Type,
		Action:      archive.ActionActivate,
		VersionID:   activated.ID,
		Version:     activated.Version,
		Description: activated.Description,
		Active:      &activated.Version,
		Content:     activated.Content,
		Actor:       actor.UserName,
		At:          s.now(),
	})
	return toView(activated), nil
}

// Delete removes id. Removing the active version activates the most recent
// remaining version of the type, if any.
func (s *Service) Delete(ctx context.Context, id string, actor Session) (DeleteResult, error) {
	if strings.TrimSpace(id) == "" {
		return DeleteResult{}, validationError("version id is required", nil)
	}
	deleted, reactivated, err := s.store.DeleteTemplateVersion(ctx, id)
	if err != nil {
		return DeleteResult{}, s.versionError("delete", id, err)
	}

	result := DeleteResult{Deleted: toView(deleted)}
	event := archive.Event{
		Type:        deleted.Type,
		Action:      archive.ActionDelete,
		VersionID:   deleted.ID,
		Version:     deleted.Version,
		Description: deleted.Description,
		Content:     content.Null(),
		Actor:       actor.UserName,
		At:          s.now(),
	}
	if reactivated != nil {
		result.ReactivatedVersion = &reactivated.Version
		event.Active = &reactivated.Version
		event.Content = reactivated.Content
	} else if !deleted.IsActive {
		// The active version did not change; keep the mirror on it.
		active, err := s.store.GetActiveTemplateVersion(ctx, deleted.Type)
		if err != nil {
			s.logger.Warn("archive: could not read active version", zap.String("type", deleted.Type), zap.Error(err))
		} else if active != nil {
			event.Active = &active.Version
			event.Content = active.Content
		}
	}
	metrics.TemplateVersionsDeleted.WithLabelValues(deleted.Type, strconv.FormatBool(reactivated != nil)).Inc()

	s.record(event)
	if s.integrations.Search != nil {
		s.integrations.Search.DeleteVersion(deleted.ID)
	}
	return result, nil
}

// Diff compares two versions of the same type.
func (s *Service) Diff(ctx context.Context, fromID, toID string) (DiffView, error) {
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return DiffView{}, validationError("from and to version ids are required", nil)
	}
	from, err := s.getVersion(ctx, fromID)
	if err != nil {
		return DiffView{}, err
	}
	to, err := s.getVersion(ctx, toID)
	if err != nil {
		return DiffView{}, err
	}
	if from.Type != to.Type {
		return DiffView{}, validationError(
			fmt.Sprintf("cannot diff versions of different types (%s, %s)", from.Type, to.Type),
			map[string]any{"fromType": from.Type, "toType": to.Type},
		)
	}

	result := diff.Annotate(from.Type, diff.Compute(from.Content, to.Content))
	metrics.DiffsComputed.Inc()
	metrics.DiffChanges.Observe(float64(result.Summary.Total()))

	return DiffView{
		Type:    from.Type,
		From:    VersionRef{ID: from.ID, Version: from.Version},
		To:      VersionRef{ID: to.ID, Version: to.Version},
		Changes: result.Changes,
		Summary: result.Summary,
	}, nil
}

// History lists audit mirror commits for templateType, newest first.
func (s *Service) History(ctx context.Context, templateType string, limit int) ([]archive.Commit, error) {
	if err := validateType(templateType); err != nil {
		return nil, err
	}
	if s.integrations.Archive == nil {
		return []archive.Commit{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	commits, err := s.integrations.Archive.History(templateType, limit)
	if err != nil {
		return nil, fmt.Errorf("read archive history: %w", err)
	}
	return commits, nil
}

// RevisionView is the mirrored active content of a type at one archive
// revision.
type RevisionView struct {
	Type     string        `json:"type"`
	Revision string        `json:"revision"`
	Content  content.Value `json:"content"`
}

// ContentAt reads the mirrored content at revision: a commit hash from
// History, a version tag such as "v1.0.2", or a bare version "1.0.2".
func (s *Service) ContentAt(ctx context.Context, templateType, revision string) (RevisionView, error) {
	if err := validateType(templateType); err != nil {
		return RevisionView{}, err
	}
	revision = strings.TrimSpace(revision)
	if revision == "" {
		return RevisionView{}, validationError("revision is required", map[string]any{"field": "at"})
	}
	if s.integrations.Archive == nil {
		return RevisionView{}, unavailableError("ARCHIVE_UNAVAILABLE", "Template history archive is not configured")
	}
	value, err := s.integrations.Archive.ContentAt(templateType, revision)
	if errors.Is(err, archive.ErrRevisionNotFound) {
		return RevisionView{}, notFoundError(fmt.Sprintf("revision %s of %s not found", revision, templateType))
	}
	if err != nil {
		return RevisionView{}, fmt.Errorf("read archive revision: %w", err)
	}
	return RevisionView{Type: templateType, Revision: revision, Content: value}, nil
}

func (s *Service) Search(ctx context.Context, q, templateType string, limit, offset int) (search.Response, error) {
	q = strings.TrimSpace(q)
	if templateType != "" {
		if err := validateType(templateType); err != nil {
			return search.Response{}, err
		}
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		return search.Response{}, validationError("offset must not be negative", nil)
	}
	if q == "" || s.integrations.Search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	return s.integrations.Search.Search(ctx, search.Query{Text: q, FilterType: templateType, Limit: limit, Offset: offset}), nil
}

func (s *Service) getVersion(ctx context.Context, id string) (store.TemplateVersion, error) {
	if strings.TrimSpace(id) == "" {
		return store.TemplateVersion{}, validationError("version id is required", nil)
	}
	item, err := s.store.GetTemplateVersion(ctx, id)
	if err != nil {
		return store.TemplateVersion{}, s.versionError("get", id, err)
	}
	return item, nil
}

func (s *Service) versionError(operation, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError(fmt.Sprintf("template version %s not found", id))
	}
	return s.storeError(operation, err)
}

func (s *Service) storeError(operation string, err error) error {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, store.ErrConflict) {
		metrics.TemplateWriteConflicts.WithLabelValues(operation).Inc()
		return conflictError("another write changed the active version of this template; reload and try again")
	}
	return fmt.Errorf("%s template version: %w", operation, err)
}

// record mirrors a committed write into the archive. Failures are logged and
// counted; the write itself has already succeeded.
func (s *Service) record(event archive.Event) {
	if s.integrations.Archive == nil {
		return
	}
	if _, err := s.integrations.Archive.Record(event); err != nil {
		metrics.IntegrationFailures.WithLabelValues("archive").Inc()
		s.logger.Warn("archive: record failed",
			zap.String("type", event.Type),
			zap.String("action", string(event.Action)),
			zap.String("versionId", event.VersionID),
			zap.Error(err),
		)
	}
}

func searchRecord(v store.TemplateVersion) search.VersionRecord {
	return search.VersionRecord{
		ID:          v.ID,
		Type:        v.Type,
		Version:     v.Version,
		Description: v.Description,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt.Unix(),
	}
}

func validateType(templateType string) error {
	if templateType == "" {
		return validationError("template type is required", nil)
	}
	if len(templateType) > maxTemplateTypeLength || !templateTypePattern.MatchString(templateType) {
		return validationError("template type must be lowercase letters, digits and underscores", map[string]any{"type": templateType})
	}
	return nil
}
