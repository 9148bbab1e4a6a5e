package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fundroom/api/internal/archive"
	"fundroom/api/internal/config"
	"fundroom/api/internal/content"
	"fundroom/api/internal/docgen"
	"fundroom/api/internal/objectstore"
	"fundroom/api/internal/search"
	"fundroom/api/internal/store"
)

// memStore keeps template versions in memory with the same activation rules
// as the Postgres store.
type memStore struct {
	mu    sync.Mutex
	rows  []store.TemplateVersion
	clock time.Time

	appendErr error
	pingFn    func(context.Context) error
}

func newMemStore() *memStore {
	return &memStore{clock: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// seed inserts a row as-is, bypassing version numbering.
func (m *memStore) seed(row store.TemplateVersion) store.TemplateVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = m.tick()
	}
	m.rows = append(m.rows, row)
	return row
}

func (m *memStore) activeCount(templateType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, row := range m.rows {
		if row.Type == templateType && row.IsActive {
			count++
		}
	}
	return count
}

func (m *memStore) rowCount(templateType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, row := range m.rows {
		if row.Type == templateType {
			count++
		}
	}
	return count
}

func (m *memStore) ListTemplateVersions(_ context.Context, templateType string) ([]store.TemplateVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.TemplateVersion, 0)
	for _, row := range m.rows {
		if row.Type == templateType {
			items = append(items, row)
		}
	}
	sortNewestFirst(items)
	return items, nil
}

func (m *memStore) GetTemplateVersion(_ context.Context, id string) (store.TemplateVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return store.TemplateVersion{}, sql.ErrNoRows
}

func (m *memStore) GetActiveTemplateVersion(_ context.Context, templateType string) (*store.TemplateVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Type == templateType && row.IsActive {
			found := row
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memStore) AppendTemplateVersion(_ context.Context, draft store.TemplateVersion, next store.NextVersionFunc) (store.TemplateVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return store.TemplateVersion{}, m.appendErr
	}

	var active *store.TemplateVersion
	var taken []string
	for i := range m.rows {
		if m.rows[i].Type != draft.Type {
			continue
		}
		taken = append(taken, m.rows[i].Version)
		if m.rows[i].IsActive {
			found := m.rows[i]
			active = &found
		}
	}
	version, err := next(active, taken)
	if err != nil {
		return store.TemplateVersion{}, err
	}
	for _, existing := range taken {
		if existing == version {
			return store.TemplateVersion{}, store.ErrConflict
		}
	}
	for i := range m.rows {
		if m.rows[i].Type == draft.Type {
			m.rows[i].IsActive = false
		}
	}
	saved := draft
	saved.Version = version
	saved.IsActive = true
	saved.CreatedAt = m.tick()
	m.rows = append(m.rows, saved)
	return saved, nil
}

func (m *memStore) ActivateTemplateVersion(_ context.Context, id string) (store.TemplateVersion, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := m.indexOf(id)
	if index < 0 {
		return store.TemplateVersion{}, false, sql.ErrNoRows
	}
	if m.rows[index].IsActive {
		return m.rows[index], false, nil
	}
	templateType := m.rows[index].Type
	for i := range m.rows {
		if m.rows[i].Type == templateType {
			m.rows[i].IsActive = i == index
		}
	}
	return m.rows[index], true, nil
}

func (m *memStore) DeleteTemplateVersion(_ context.Context, id string) (store.TemplateVersion, *store.TemplateVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := m.indexOf(id)
	if index < 0 {
		return store.TemplateVersion{}, nil, sql.ErrNoRows
	}
	deleted := m.rows[index]
	m.rows = append(m.rows[:index], m.rows[index+1:]...)
	if !deleted.IsActive {
		return deleted, nil, nil
	}

	candidate := -1
	for i, row := range m.rows {
		if row.Type != deleted.Type {
			continue
		}
		if candidate < 0 || newer(row, m.rows[candidate]) {
			candidate = i
		}
	}
	if candidate < 0 {
		return deleted, nil, nil
	}
	m.rows[candidate].IsActive = true
	reactivated := m.rows[candidate]
	return deleted, &reactivated, nil
}

func (m *memStore) ListTemplateTypes(context.Context) ([]store.TemplateTypeSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType := map[string]*store.TemplateTypeSummary{}
	for _, row := range m.rows {
		summary, ok := byType[row.Type]
		if !ok {
			summary = &store.TemplateTypeSummary{Type: row.Type}
			byType[row.Type] = summary
		}
		summary.VersionCount++
		if row.CreatedAt.After(summary.UpdatedAt) {
			summary.UpdatedAt = row.CreatedAt
		}
		if row.IsActive {
			version := row.Version
			summary.ActiveVersion = &version
		}
	}
	items := make([]store.TemplateTypeSummary, 0, len(byType))
	for _, summary := range byType {
		items = append(items, *summary)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Type < items[j].Type })
	return items, nil
}

func (m *memStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *memStore) indexOf(id string) int {
	for i, row := range m.rows {
		if row.ID == id {
			return i
		}
	}
	return -1
}

func newer(a, b store.TemplateVersion) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func sortNewestFirst(items []store.TemplateVersion) {
	sort.Slice(items, func(i, j int) bool { return newer(items[i], items[j]) })
}

type fakeArchive struct {
	mu       sync.Mutex
	events   []archive.Event
	recordFn func(archive.Event) error
}

func (f *fakeArchive) Record(event archive.Event) (archive.Commit, error) {
	if f.recordFn != nil {
		if err := f.recordFn(event); err != nil {
			return archive.Commit{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return archive.Commit{Hash: "abc1234", Action: string(event.Action), Version: event.Version}, nil
}

func (f *fakeArchive) History(templateType string, limit int) ([]archive.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	commits := make([]archive.Commit, 0)
	for i := len(f.events) - 1; i >= 0 && len(commits) < limit; i-- {
		if f.events[i].Type == templateType {
			commits = append(commits, archive.Commit{Action: string(f.events[i].Action), Version: f.events[i].Version, VersionID: f.events[i].VersionID})
		}
	}
	return commits, nil
}

// ContentAt resolves a bare or v-prefixed version to the content of its
// latest save event.
func (f *fakeArchive) ContentAt(templateType, revision string) (content.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	version := strings.TrimPrefix(revision, "v")
	for i := len(f.events) - 1; i >= 0; i-- {
		event := f.events[i]
		if event.Type == templateType && event.Action == archive.ActionSave && event.Version == version {
			return event.Content, nil
		}
	}
	return content.Value{}, fmt.Errorf("%w: %s", archive.ErrRevisionNotFound, revision)
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.VersionRecord
	deleted []string
	queries []search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	results := make([]search.Result, 0)
	for _, record := range f.indexed {
		if q.FilterType == "" || q.FilterType == record.Type {
			results = append(results, search.Result{ID: record.ID, Type: record.Type, Version: record.Version, Snippet: record.Description})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexVersion(record search.VersionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record)
}

func (f *fakeSearch) DeleteVersion(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	data, ok := f.entries[key]
	return data, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = map[string][]byte{}
	}
	f.entries[key] = data
	return nil
}

type fakeDocuments struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func (f *fakeDocuments) Put(_ context.Context, key, _ string, data []byte) (objectstore.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return objectstore.Object{Bucket: "docs", Key: key, Size: int64(len(data))}, nil
}

func (f *fakeDocuments) PresignedURL(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://objects.test/docs/" + key, nil
}

type fakeRenderer struct {
	mu       sync.Mutex
	requests []docgen.Request
	err      error
}

func (f *fakeRenderer) Render(_ context.Context, req docgen.Request) (*docgen.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &docgen.Result{
		Data:     append([]byte("doc:"), req.Content.Canonical()...),
		Filename: req.Type + "." + docgen.Extension(req.Format),
		MimeType: "application/pdf",
	}, nil
}

func (f *fakeRenderer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

const testSecret = "test-secret"

func newTestService(st *memStore, integrations Integrations) *Service {
	return New(config.Config{JWTSecret: testSecret, PresignTTL: 15 * time.Minute}, st, integrations, nil)
}

func value(raw string) *content.Value {
	v, err := content.Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return &v
}

func asDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

var editor = Session{UserID: "user-ed", UserName: "Edith", Role: "editor"}
