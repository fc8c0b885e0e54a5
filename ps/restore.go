package ps

import (
	"fmt"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/nickyhof/CommitCatalog/core"
)

// Snapshot tags the catalog state at asof, or at the head when asof is nil.
func (persistence *Persistence) Snapshot(name string, asof *Transaction) error {
	if err := persistence.ensureInitialized(); err != nil {
		return err
	}

	persistence.mu.Lock()
	defer persistence.mu.Unlock()

	hash := plumbing.ZeroHash
	if asof != nil {
		hash = plumbing.NewHash(asof.Id)
	} else {
		headRef, err := persistence.headRef()
		if err != nil {
			return err
		}
		hash = headRef.Hash()
	}

	_, err := persistence.repo.CreateTag(name, hash, nil)
	return err
}

// Recover restores the catalog to a tagged snapshot.
func (persistence *Persistence) Recover(name string, identity core.Identity) (Transaction, error) {
	if err := persistence.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	persistence.mu.RLock()
	ref, err := persistence.repo.Tag(name)
	persistence.mu.RUnlock()
	if err != nil {
		return Transaction{}, fmt.Errorf("snapshot %q not found: %w", name, err)
	}

	return persistence.Restore(Transaction{Id: ref.Hash().String()}, identity)
}

// Restore publishes a new commit whose catalog state equals the state as
// of asof. History is kept; the restore is itself a transaction.
func (persistence *Persistence) Restore(asof Transaction, identity core.Identity) (Transaction, error) {
	if err := persistence.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	persistence.mu.Lock()
	defer persistence.mu.Unlock()

	tree, err := persistence.commitTree(plumbing.NewHash(asof.Id))
	if err != nil {
		return Transaction{}, err
	}
	return persistence.publishTree(tree.Hash, identity, fmt.Sprintf("Restore catalog to %s", asof.Id))
}

// Reset publishes an empty catalog.
func (persistence *Persistence) Reset(identity core.Identity) (Transaction, error) {
	if err := persistence.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	persistence.mu.Lock()
	defer persistence.mu.Unlock()

	emptyTree, err := persistence.buildTreeFromEntries(nil)
	if err != nil {
		return Transaction{}, err
	}
	return persistence.publishTree(emptyTree, identity, "Reset catalog")
}

// publishTree commits tree on top of the head. Callers hold mu.
func (persistence *Persistence) publishTree(tree plumbing.Hash, identity core.Identity, message string) (Transaction, error) {
	head, err := persistence.headRef()
	if err != nil {
		return Transaction{}, err
	}

	commitHash, err := persistence.createCommit(tree, []plumbing.Hash{head.Hash()}, identity, message)
	if err != nil {
		return Transaction{}, err
	}

	next := plumbing.NewHashReference(persistence.branch, commitHash)
	if err := persistence.repo.Storer.CheckAndSetReference(next, head); err != nil {
		return Transaction{}, fmt.Errorf("failed to publish: %w", err)
	}
	return persistence.transactionAt(commitHash), nil
}
