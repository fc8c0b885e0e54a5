package ps

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// Transaction is one published catalog commit.
type Transaction struct {
	Id      string
	When    time.Time
	Author  string // "Name <email>" format
	Message string
}

func (transaction Transaction) String() string {
	return fmt.Sprintf("Transaction{Id: %s, When: %s, Author: %s}", transaction.Id, transaction.When, transaction.Author)
}

func newTransaction(c *object.Commit) Transaction {
	author := ""
	if c.Author.Name != "" || c.Author.Email != "" {
		author = fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email)
	}

	return Transaction{
		Id:      c.Hash.String(),
		When:    c.Committer.When,
		Author:  author,
		Message: strings.TrimSpace(c.Message),
	}
}

// transactionAt describes a commit. Callers hold mu.
func (persistence *Persistence) transactionAt(hash plumbing.Hash) Transaction {
	commit, err := object.GetCommit(persistence.repo.Storer, hash)
	if err != nil {
		return Transaction{Id: hash.String()}
	}
	return newTransaction(commit)
}

func (persistence *Persistence) LatestTransaction() Transaction {
	if !persistence.IsInitialized() {
		return Transaction{}
	}

	persistence.mu.RLock()
	defer persistence.mu.RUnlock()

	headRef, err := persistence.headRef()
	if err != nil {
		return Transaction{}
	}
	return persistence.transactionAt(headRef.Hash())
}

// TransactionsSince lists catalog commits newer than asof, newest first.
func (persistence *Persistence) TransactionsSince(asof time.Time) ([]Transaction, error) {
	return persistence.log(&git.LogOptions{Since: &asof})
}

// TransactionsFrom lists the commit asof and its ancestors, newest first.
func (persistence *Persistence) TransactionsFrom(asof string) ([]Transaction, error) {
	return persistence.log(&git.LogOptions{From: plumbing.NewHash(asof)})
}

func (persistence *Persistence) log(opts *git.LogOptions) ([]Transaction, error) {
	if err := persistence.ensureInitialized(); err != nil {
		return nil, err
	}

	persistence.mu.RLock()
	defer persistence.mu.RUnlock()

	if opts.From == plumbing.ZeroHash {
		headRef, err := persistence.headRef()
		if err != nil {
			return nil, err
		}
		opts.From = headRef.Hash()
	}

	cIter, err := persistence.repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog history: %w", err)
	}
	defer cIter.Close()

	var transactions []Transaction
	err = cIter.ForEach(func(c *object.Commit) error {
		transactions = append(transactions, newTransaction(c))
		return nil
	})
	return transactions, err
}
