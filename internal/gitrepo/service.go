// Package gitrepo keeps the publication history of every menu in its own
// git repository. Saves are committed to the draft branch; each publish
// copies the draft onto main with a publish trailer.
package gitrepo

import (
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
)

const (
	DraftBranch     = "draft"
	PublishedBranch = "main"

	snapshotFile   = "menu.json"
	publishTrailer = "carta-publish:"
)

var ErrNoHistory = errors.New("menu has no history")

// Snapshot is what one commit stores for a menu.
type Snapshot struct {
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Document    string     `json:"document"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

type CommitInfo struct {
	Hash        string     `json:"hash"`
	Message     string     `json:"message"`
	Author      string     `json:"author"`
	CreatedAt   time.Time  `json:"createdAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// EnsureMenuRepo creates the repository with a baseline on main and a
// draft branch pointing at it. An existing repository is left alone.
func (s *Service) EnsureMenuRepo(menuID string, initial Snapshot, author string) error {
	lock := s.menuLock(menuID)
	lock.Lock()
	defer lock.Unlock()
	_, err := s.ensureRepo(menuID, initial, author)
	return err
}

func (s *Service) ensureRepo(menuID string, initial Snapshot, author string) (*git.Repository, error) {
	path := s.repoPath(menuID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, fmt.Errorf("open repo: %w", err)
		}
		return repo, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := writeSnapshot(path, initial); err != nil {
		return nil, err
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return nil, fmt.Errorf("git add baseline: %w", err)
	}
	hash, err := worktree.Commit("Create menu "+initial.Name, &git.CommitOptions{Author: s.signature(author)})
	if err != nil {
		return nil, fmt.Errorf("commit baseline: %w", err)
	}
	for _, branch := range []string{PublishedBranch, DraftBranch} {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), hash)); err != nil {
			return nil, fmt.Errorf("set %s branch ref: %w", branch, err)
		}
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(DraftBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to draft: %w", err)
	}
	return repo, nil
}

// CommitDraft records a saved draft. Saving the same snapshot twice adds
// no commit and returns the current head.
func (s *Service) CommitDraft(menuID string, snap Snapshot, author, message string) (CommitInfo, error) {
	lock := s.menuLock(menuID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(menuID, snap, author)
	if err != nil {
		return CommitInfo{}, err
	}
	head, headCommit, err := headSnapshot(repo, DraftBranch)
	if err != nil {
		return CommitInfo{}, err
	}
	if sameSnapshot(head, snap) {
		return toCommitInfo(headCommit), nil
	}
	hash, err := s.commit(repo, DraftBranch, snap, author, message, false)
	if err != nil {
		return CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// CommitPublish copies snap onto main. Every call adds a commit, even when
// the content did not change, so that history shows every publish.
func (s *Service) CommitPublish(menuID string, snap Snapshot, author string) (CommitInfo, error) {
	lock := s.menuLock(menuID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(menuID, snap, author)
	if err != nil {
		return CommitInfo{}, err
	}
	publishedAt := s.now().UTC()
	if snap.PublishedAt != nil {
		publishedAt = snap.PublishedAt.UTC()
	} else {
		snap.PublishedAt = &publishedAt
	}
	message := fmt.Sprintf("Publish %s\n\n%s at=%s actor=%s",
		snap.Name, publishTrailer, publishedAt.Format(time.RFC3339), author)
	hash, err := s.commit(repo, PublishedBranch, snap, author, message, true)
	if err != nil {
		return CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read publish commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

func (s *Service) GetHeadSnapshot(menuID, branchName string) (Snapshot, CommitInfo, error) {
	lock := s.menuLock(menuID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(menuID)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	snap, commitObj, err := headSnapshot(repo, branchName)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	return snap, toCommitInfo(commitObj), nil
}

func (s *Service) GetSnapshotByHash(menuID, hash string) (Snapshot, CommitInfo, error) {
	lock := s.menuLock(menuID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(menuID)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	snap, err := readSnapshotFromCommit(commitObj)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	return snap, toCommitInfo(commitObj), nil
}

// History lists published versions, newest first. A menu that was never
// published has an empty history.
func (s *Service) History(menuID string, limit int) ([]CommitInfo, error) {
	lock := s.menuLock(menuID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(menuID)
	if errors.Is(err, ErrNoHistory) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(PublishedBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", PublishedBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if !strings.Contains(commitObj.Message, publishTrailer) {
			return nil
		}
		items = append(items, toCommitInfo(commitObj))
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

func (s *Service) open(menuID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(menuID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, menuID)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(menuID string) string {
	return filepath.Join(s.baseDir, menuID)
}

func (s *Service) menuLock(menuID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[menuID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[menuID] = lock
	return lock
}

func (s *Service) signature(author string) *object.Signature {
	if author == "" {
		author = "Carta"
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@users.carta.local", sanitizeEmail(author)),
		When:  s.now(),
	}
}

func (s *Service) commit(repo *git.Repository, branchName string, snap Snapshot, author, message string, allowEmpty bool) (plumbing.Hash, error) {
	if err := checkoutBranch(repo, branchName); err != nil {
		return plumbing.ZeroHash, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	if err := writeSnapshot(worktree.Filesystem.Root(), snap); err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author:            s.signature(author),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func sameSnapshot(a, b Snapshot) bool {
	if a.Name != b.Name || a.Slug != b.Slug || a.Document != b.Document {
		return false
	}
	if a.PublishedAt == nil || b.PublishedAt == nil {
		return a.PublishedAt == nil && b.PublishedAt == nil
	}
	return a.PublishedAt.Equal(*b.PublishedAt)
}

func writeSnapshot(dir string, snap Snapshot) error {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	return nil
}

func checkoutBranch(repo *git.Repository, branchName string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return fmt.Errorf("create branch checkout %s: %w", branchName, err)
			}
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", branchName, err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branchName, err)
	}
	return nil
}

func headSnapshot(repo *git.Repository, branchName string) (Snapshot, *object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("resolve branch %s: %w", branchName, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("load commit object: %w", err)
	}
	snap, err := readSnapshotFromCommit(commitObj)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snap, commitObj, nil
}

func readSnapshotFromCommit(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	subject, _, _ := strings.Cut(commitObj.Message, "\n")
	info := CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   subject,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	if _, trailer, ok := strings.Cut(commitObj.Message, publishTrailer+" at="); ok {
		stamp, _, _ := strings.Cut(trailer, " ")
		if at, err := time.Parse(time.RFC3339, stamp); err == nil {
			info.PublishedAt = &at
		}
	}
	return info
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range strings.ToLower(input) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == '.' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
