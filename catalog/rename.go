package catalog

import (
	"context"
	"fmt"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/ps"
)

// RenameTable moves the binding of from to to. The metadata file is not
// rewritten. The destination namespace must exist. The source binding is
// compared-and-swapped like a commit: if a commit or another rename moved
// it after it was loaded, the rename fails with core.ErrCommitFailed.
func (c *Catalog) RenameTable(ctx context.Context, from, to core.TableIdentifier) error {
	if err := from.Validate(); err != nil {
		return err
	}
	if err := to.Validate(); err != nil {
		return err
	}

	view, err := c.persistence.Head()
	if err != nil {
		return err
	}
	loaded, found, err := view.Table(from)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", core.ErrNoSuchTable, from)
	}

	txn, err := c.persistence.Apply(c.identity(ctx), fmt.Sprintf("Rename table %s to %s", from, to), func(b *ps.Batch) error {
		return moveBinding(b, from, to, loaded)
	})
	if err != nil {
		return err
	}

	c.logger.Debug("table renamed", "table", from.String(), "to", to.String(), "txn", txn.Id)
	return nil
}

// moveBinding rebinds loaded from from to to, provided from still points
// where it did when it was loaded.
func moveBinding(b *ps.Batch, from, to core.TableIdentifier, loaded core.TableBinding) error {
	if _, exists, err := b.Namespace(to.Namespace); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("%w: %s", core.ErrNoSuchNamespace, to.Namespace)
	}

	current, found, err := b.Table(from)
	if err != nil {
		return err
	}
	if !found {
		return &core.CommitFailedError{Table: from, Reason: "table was dropped or renamed concurrently"}
	}
	if current.MetadataLocation != loaded.MetadataLocation {
		return &core.CommitFailedError{Table: from, Reason: "table was committed to concurrently"}
	}

	if _, occupied, err := b.Table(to); err != nil {
		return err
	} else if occupied {
		return fmt.Errorf("%w: %s", core.ErrTableAlreadyExists, to)
	}

	if err := b.PutTable(core.TableBinding{
		Identifier:               to,
		MetadataLocation:         current.MetadataLocation,
		PreviousMetadataLocation: current.PreviousMetadataLocation,
	}); err != nil {
		return err
	}
	b.DeleteTable(from)
	return nil
}
