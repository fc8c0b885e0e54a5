package ps

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/storage"
	"github.com/nickyhof/CommitCatalog/core"
)

// maxPublishAttempts bounds how often Apply recomputes a batch after the
// branch moved under it from outside this process.
const maxPublishAttempts = 8

// Batch collects the writes of one Apply call. Reads see the head the
// batch was opened on, overlaid with the batch's own staged writes.
type Batch struct {
	records
	view    *View
	writes  map[string][]byte
	deletes map[string]bool
}

// Apply runs fn against the current head of the catalog and publishes
// everything fn staged as a single commit. The publish is a
// compare-and-set of the branch reference; when another process moved
// the branch in between, fn is run again against the new head, so fn
// must derive all its decisions from the Batch it is given. An error
// from fn aborts without publishing anything. A batch with no staged
// changes publishes nothing and returns the head transaction.
func (p *Persistence) Apply(identity core.Identity, message string, fn func(b *Batch) error) (Transaction, error) {
	if err := p.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		txn, err := p.applyOnce(identity, message, fn)
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			continue
		}
		return txn, err
	}
	return Transaction{}, ErrHeadContended
}

func (p *Persistence) applyOnce(identity core.Identity, message string, fn func(b *Batch) error) (Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	head, err := p.headRef()
	if err != nil {
		return Transaction{}, err
	}
	view, err := p.viewAt(head.Hash(), true)
	if err != nil {
		return Transaction{}, err
	}

	batch := &Batch{
		view:    view,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
	batch.records = records{r: batch}

	if err := fn(batch); err != nil {
		return Transaction{}, err
	}
	if batch.OperationCount() == 0 {
		return p.transactionAt(head.Hash()), nil
	}

	changes, err := batch.treeChanges(p)
	if err != nil {
		return Transaction{}, err
	}

	newTree, err := p.batchUpdateTree(view.tree.Hash, changes)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to update tree: %w", err)
	}
	if newTree == plumbing.ZeroHash {
		if newTree, err = p.buildTreeFromEntries(nil); err != nil {
			return Transaction{}, err
		}
	}

	commitHash, err := p.createCommit(newTree, []plumbing.Hash{head.Hash()}, identity, message)
	if err != nil {
		return Transaction{}, err
	}

	next := plumbing.NewHashReference(p.branch, commitHash)
	if err := p.repo.Storer.CheckAndSetReference(next, head); err != nil {
		return Transaction{}, err
	}

	return p.transactionAt(commitHash), nil
}

// ReadFile reads path as it will be after the batch is published.
func (b *Batch) ReadFile(path string) ([]byte, error) {
	if data, ok := b.writes[path]; ok {
		return data, nil
	}
	if b.deletes[path] {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return b.view.ReadFile(path)
}

// ListEntries lists dir as of the head the batch was opened on. Staged
// writes are not reflected.
func (b *Batch) ListEntries(dir string) ([]TreeEntry, error) {
	return b.view.ListEntries(dir)
}

// Head is the commit the batch was opened on.
func (b *Batch) Head() string {
	return b.view.Commit()
}

// AddWrite stages data to be written at path
func (b *Batch) AddWrite(path string, data []byte) {
	delete(b.deletes, path)
	b.writes[path] = data
}

// AddDelete stages the removal of path
func (b *Batch) AddDelete(path string) {
	delete(b.writes, path)
	b.deletes[path] = true
}

// OperationCount returns the number of pending operations
func (b *Batch) OperationCount() int {
	return len(b.writes) + len(b.deletes)
}

func (b *Batch) treeChanges(p *Persistence) ([]TreeChange, error) {
	changes := make([]TreeChange, 0, b.OperationCount())

	paths := make([]string, 0, len(b.writes))
	for path := range b.writes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		blobHash, err := p.createBlob(b.writes[path])
		if err != nil {
			return nil, fmt.Errorf("failed to create blob for %s: %w", path, err)
		}
		changes = append(changes, TreeChange{Path: path, BlobHash: blobHash})
	}
	for path := range b.deletes {
		changes = append(changes, TreeChange{Path: path, IsDelete: true})
	}
	return changes, nil
}
