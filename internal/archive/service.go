// Package archive mirrors template history into one git repository per
// template type. content.json on main always holds the active content, every
// saved version is tagged, and each store write becomes one commit.
package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"fundroom/api/internal/content"
)

const (
	contentFile = "content.json"
	mainBranch  = "main"
)

// ErrRevisionNotFound is returned by ContentAt for an unknown type or
// revision.
var ErrRevisionNotFound = errors.New("archive revision not found")

type Action string

const (
	ActionSave     Action = "save"
	ActionActivate Action = "activate"
	ActionDelete   Action = "delete"
)

// Event describes one committed store write. Content is the active content
// of the type after the write (Null when no version remains active).
type Event struct {
	Type        string
	Action      Action
	VersionID   string
	Version     string
	Description string
	Active      *string
	Content     content.Value
	Actor       string
	At          time.Time
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Action    string    `json:"action,omitempty"`
	Version   string    `json:"version,omitempty"`
	VersionID string    `json:"versionId,omitempty"`
	Active    string    `json:"active,omitempty"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits the event to the type's repository, creating it on first
// use. Saves are tagged v<version>; deleting a version removes its tag so a
// later save that reuses the number tags its own content.
func (s *Service) Record(event Event) (Commit, error) {
	lock := s.typeLock(event.Type)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(event.Type)
	if err != nil {
		return Commit{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(event.Content, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal content: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), contentFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return Commit{}, fmt.Errorf("git add content: %w", err)
	}

	when := event.At
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := worktree.Commit(commitMessage(event), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  event.Actor,
			Email: fmt.Sprintf("%s@fundroom.local", sanitizeEmail(event.Actor)),
			When:  when,
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit %s: %w", event.Action, err)
	}

	if event.Version != "" {
		switch event.Action {
		case ActionSave:
			if err := deleteTag(repo, event.Version); err != nil {
				return Commit{}, err
			}
			_, err := repo.CreateTag(tagName(event.Version), hash, &git.CreateTagOptions{
				Tagger: &object.Signature{
					Name:  "Fundroom",
					Email: "templates@fundroom.local",
					When:  when,
				},
				Message: event.Description,
			})
			if err != nil {
				return Commit{}, fmt.Errorf("create tag: %w", err)
			}
		case ActionDelete:
			if err := deleteTag(repo, event.Version); err != nil {
				return Commit{}, err
			}
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// History lists commits on main, newest first. A type that was never
// recorded has an empty history.
func (s *Service) History(templateType string, limit int) ([]Commit, error) {
	lock := s.typeLock(templateType)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(templateType))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt reads content.json at a revision: a commit hash (short or
// full), a version tag such as "v1.0.2", or a bare version "1.0.2".
func (s *Service) ContentAt(templateType, revision string) (content.Value, error) {
	lock := s.typeLock(templateType)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(templateType))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return content.Value{}, fmt.Errorf("%w: %s has no history", ErrRevisionNotFound, templateType)
	}
	if err != nil {
		return content.Value{}, fmt.Errorf("open repo: %w", err)
	}

	hash, err := resolveRevision(repo, revision)
	if err != nil {
		return content.Value{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return content.Value{}, fmt.Errorf("%w: %s", ErrRevisionNotFound, revision)
	}
	if err != nil {
		return content.Value{}, fmt.Errorf("read commit %s: %w", revision, err)
	}
	file, err := commitObj.File(contentFile)
	if err != nil {
		return content.Value{}, fmt.Errorf("read %s at %s: %w", contentFile, revision, err)
	}
	raw, err := file.Contents()
	if err != nil {
		return content.Value{}, fmt.Errorf("read %s contents: %w", contentFile, err)
	}
	return content.Parse([]byte(raw))
}

func (s *Service) openOrInit(templateType string) (*git.Repository, error) {
	path := s.repoPath(templateType)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (s *Service) repoPath(templateType string) string {
	return filepath.Join(s.baseDir, templateType)
}

func (s *Service) typeLock(templateType string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[templateType]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[templateType] = lock
	return lock
}

func commitMessage(event Event) string {
	var subject string
	switch event.Action {
	case ActionSave:
		subject = fmt.Sprintf("Save %s: %s", event.Version, event.Description)
	case ActionActivate:
		subject = fmt.Sprintf("Activate %s", event.Version)
	case ActionDelete:
		subject = fmt.Sprintf("Delete %s", event.Version)
	default:
		subject = string(event.Action)
	}

	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Action: %s\n", event.Action)
	fmt.Fprintf(&b, "Version: %s\n", event.Version)
	fmt.Fprintf(&b, "Version-Id: %s\n", event.VersionID)
	if event.Active != nil {
		fmt.Fprintf(&b, "Active: %s\n", *event.Active)
	}
	return b.String()
}

func toCommit(commitObj *object.Commit) Commit {
	subject, _, _ := strings.Cut(commitObj.Message, "\n")
	commit := Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   subject,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	trailers := parseTrailers(commitObj.Message)
	commit.Action = trailers["Action"]
	commit.Version = trailers["Version"]
	commit.VersionID = trailers["Version-Id"]
	commit.Active = trailers["Active"]
	return commit
}

func parseTrailers(message string) map[string]string {
	trailers := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(message))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ": ")
		if !ok || strings.ContainsAny(key, " \t") {
			continue
		}
		trailers[key] = strings.TrimSpace(value)
	}
	return trailers
}

func tagName(version string) string {
	return "v" + version
}

func deleteTag(repo *git.Repository, version string) error {
	err := repo.DeleteTag(tagName(version))
	if err != nil && !errors.Is(err, git.ErrTagNotFound) {
		return fmt.Errorf("delete tag %s: %w", tagName(version), err)
	}
	return nil
}

func sanitizeEmail(input string) string {
	bytes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			bytes = append(bytes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			bytes = append(bytes, '.')
		}
	}
	if len(bytes) == 0 {
		return "user"
	}
	return string(bytes)
}

func resolveRevision(repo *git.Repository, revision string) (plumbing.Hash, error) {
	revision = strings.TrimSpace(revision)
	if len(revision) == 40 {
		return plumbing.NewHash(revision), nil
	}
	candidates := []string{revision}
	if !strings.HasPrefix(revision, "v") {
		candidates = append(candidates, tagName(revision))
	}
	var lastErr error
	for _, candidate := range candidates {
		resolved, err := repo.ResolveRevision(plumbing.Revision(candidate))
		if err == nil {
			return *resolved, nil
		}
		lastErr = err
	}
	return plumbing.ZeroHash, fmt.Errorf("%w: %s (%v)", ErrRevisionNotFound, revision, lastErr)
}
