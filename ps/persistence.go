package ps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v6/memfs"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/cache"
	"github.com/go-git/go-git/v6/storage/filesystem"
	"github.com/go-git/go-git/v6/storage/memory"
	"github.com/nickyhof/CommitCatalog/core"
)

var (
	ErrNotInitialized = errors.New("persistence layer not initialized")
	ErrNotFound       = errors.New("path not found")
	// ErrHeadContended is returned when another writer kept moving the
	// catalog branch for every publish attempt.
	ErrHeadContended = errors.New("catalog branch is contended")
)

// initIdentity authors the root commit of a new catalog repository.
var initIdentity = core.Identity{Name: "CommitCatalog", Email: "catalog@localhost"}

// Persistence stores catalog state in a Git repository. Every mutation is
// one commit on a single branch, and the branch reference is only ever
// moved with a compare-and-set.
type Persistence struct {
	repo   *git.Repository
	branch plumbing.ReferenceName
	// mu guards the object store. Readers share it; Apply holds it
	// exclusively while it builds and publishes a commit.
	mu sync.RWMutex
}

// IsInitialized returns true if the persistence layer has a valid repository
func (p *Persistence) IsInitialized() bool {
	return p != nil && p.repo != nil
}

// ensureInitialized checks if the persistence layer is initialized and returns an error if not
func (p *Persistence) ensureInitialized() error {
	if !p.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

// Branch is the reference catalog commits are published to.
func (p *Persistence) Branch() string {
	return p.branch.Short()
}

func NewMemoryPersistence() (*Persistence, error) {
	wt := memfs.New()
	storer := memory.NewStorage()

	repo, err := git.Init(storer, git.WithWorkTree(wt))
	if err != nil {
		return nil, err
	}

	return open(repo)
}

// NewFilePersistence opens the bare catalog repository in baseDir,
// creating it, or cloning it from gitUrl, when the directory holds no
// repository yet.
func NewFilePersistence(baseDir string, gitUrl *string) (*Persistence, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	fs := osfs.New(baseDir)
	storer := filesystem.NewStorageWithOptions(
		fs,
		cache.NewObjectLRUDefault(),
		filesystem.Options{ExclusiveAccess: true})

	var repo *git.Repository
	var err error

	_, statErr := os.Stat(filepath.Join(baseDir, "HEAD"))
	switch {
	case statErr == nil:
		repo, err = git.Open(storer, nil)
	case gitUrl != nil:
		repo, err = git.Clone(storer, nil, &git.CloneOptions{
			URL: *gitUrl,
		})
	default:
		repo, err = git.Init(storer)
	}
	if err != nil {
		return nil, err
	}

	return open(repo)
}

// open resolves the catalog branch from HEAD and makes sure it points at
// a commit, so every later publish has a reference to compare against.
func open(repo *git.Repository) (*Persistence, error) {
	p := &Persistence{repo: repo, branch: plumbing.Master}

	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err == nil && head.Type() == plumbing.SymbolicReference {
		p.branch = head.Target()
	}

	if _, err := repo.Storer.Reference(p.branch); err == nil {
		return p, nil
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("failed to resolve %s: %w", p.branch, err)
	}

	emptyTree, err := p.buildTreeFromEntries(nil)
	if err != nil {
		return nil, err
	}
	commit, err := p.createCommit(emptyTree, nil, initIdentity, "Initialize catalog")
	if err != nil {
		return nil, err
	}
	if err := repo.Storer.CheckAndSetReference(plumbing.NewHashReference(p.branch, commit), nil); err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", p.branch, err)
	}
	return p, nil
}

// headRef returns the current catalog branch reference. Callers hold mu.
func (p *Persistence) headRef() (*plumbing.Reference, error) {
	ref, err := p.repo.Storer.Reference(p.branch)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.branch, err)
	}
	return ref, nil
}
