package ps

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// TreeEntry represents a directory entry from the Git tree
type TreeEntry struct {
	Name  string
	IsDir bool
	Hash  string
}

// Reader reads catalog paths from one consistent state of the repository.
type Reader interface {
	ReadFile(path string) ([]byte, error)
	ListEntries(dir string) ([]TreeEntry, error)
}

// View is a read-only, immutable view of the catalog at one commit. It is
// safe for concurrent use.
type View struct {
	records
	p      *Persistence
	commit plumbing.Hash
	// treeMu serializes lookups in tree, which go-git indexes lazily.
	treeMu sync.Mutex
	tree   *object.Tree
	// locked is set when the caller already holds p.mu.
	locked bool
}

// Head returns a view of the catalog at the current head of the branch.
func (p *Persistence) Head() (*View, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	ref, err := p.headRef()
	if err != nil {
		return nil, err
	}
	return p.viewAt(ref.Hash(), false)
}

// At returns a view of the catalog as of a past transaction.
func (p *Persistence) At(txn Transaction) (*View, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.viewAt(plumbing.NewHash(txn.Id), false)
}

func (p *Persistence) viewAt(commit plumbing.Hash, locked bool) (*View, error) {
	tree, err := p.commitTree(commit)
	if err != nil {
		return nil, err
	}

	v := &View{p: p, commit: commit, tree: tree, locked: locked}
	v.records = records{r: v}
	return v, nil
}

// Commit is the hash of the commit this view reads from.
func (v *View) Commit() string {
	return v.commit.String()
}

// ReadFile reads a file directly from the Git tree
func (v *View) ReadFile(filePath string) ([]byte, error) {
	if !v.locked {
		v.p.mu.RLock()
		defer v.p.mu.RUnlock()
	}
	v.treeMu.Lock()
	defer v.treeMu.Unlock()

	file, err := v.tree.File(filePath)
	if err != nil {
		if isMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read contents of %s: %w", filePath, err)
	}

	return []byte(content), nil
}

// ListEntries lists directory entries directly from the Git tree. A
// missing directory is empty.
func (v *View) ListEntries(dirPath string) ([]TreeEntry, error) {
	if !v.locked {
		v.p.mu.RLock()
		defer v.p.mu.RUnlock()
	}
	v.treeMu.Lock()
	defer v.treeMu.Unlock()

	targetTree := v.tree
	if dirPath != "" && dirPath != "." {
		var err error
		targetTree, err = v.tree.Tree(dirPath)
		if err != nil {
			if isMissing(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read directory %s: %w", dirPath, err)
		}
	}

	entries := make([]TreeEntry, 0, len(targetTree.Entries))
	for _, entry := range targetTree.Entries {
		entries = append(entries, TreeEntry{
			Name:  entry.Name,
			IsDir: entry.Mode == filemode.Dir,
			Hash:  entry.Hash.String(),
		})
	}

	return entries, nil
}

func isMissing(err error) bool {
	return errors.Is(err, object.ErrFileNotFound) ||
		errors.Is(err, object.ErrDirectoryNotFound) ||
		errors.Is(err, object.ErrEntryNotFound)
}
