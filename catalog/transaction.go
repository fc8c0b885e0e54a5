package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/metrics"
	"github.com/nickyhof/CommitCatalog/ps"
)

// CommitTransaction commits changes to several tables atomically. Every
// binding is resolved from one catalog state, then each table is validated
// and its metadata written in parallel; the bindings are swapped together
// in a single catalog commit guarded per table, including tables whose
// change only asserts requirements. Any failure leaves every binding
// unchanged.
func (c *Catalog) CommitTransaction(ctx context.Context, changes []CommitRequest) (err error) {
	defer func() { c.observeTransaction(len(changes), err) }()

	if len(changes) == 0 {
		return fmt.Errorf("%w: transaction has no table changes", core.ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(changes))
	for _, change := range changes {
		key := change.Identifier.Key()
		if seen[key] {
			return fmt.Errorf("%w: table %s appears more than once", core.ErrInvalidRequest, change.Identifier)
		}
		seen[key] = true
	}

	view, err := c.persistence.Head()
	if err != nil {
		return err
	}
	resolved := make([]resolvedCommit, len(changes))
	for i, change := range changes {
		if resolved[i], err = resolve(view, change); err != nil {
			return err
		}
	}

	pending := make([]*pendingCommit, len(changes))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range resolved {
		g.Go(func() error {
			p, err := c.build(gctx, r)
			if err != nil {
				return err
			}
			if !p.noop {
				if err := c.writeMetadata(gctx, p.location, p.md); err != nil {
					return err
				}
			}
			pending[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	names := make([]string, len(pending))
	for i, p := range pending {
		names[i] = p.id.String()
	}

	txn, err := c.persistence.Apply(c.identity(ctx), "Commit transaction on "+strings.Join(names, ", "), func(b *ps.Batch) error {
		for _, p := range pending {
			if err := p.publish(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, p := range pending {
		if p.create {
			metrics.TablesCreated.Inc()
		}
	}
	c.logger.Debug("transaction committed", "tables", len(pending), "txn", txn.Id)
	return nil
}

func (c *Catalog) observeTransaction(tables int, err error) {
	switch {
	case err == nil:
		metrics.Transactions.WithLabelValues(metrics.ResultCommitted).Inc()
	case errors.Is(err, core.ErrCommitFailed):
		metrics.Transactions.WithLabelValues(metrics.ResultConflict).Inc()
		c.logger.Warn("transaction conflict", "tables", tables, "error", err)
	default:
		metrics.Transactions.WithLabelValues(metrics.ResultError).Inc()
	}
}
