package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/fileio"
	"github.com/nickyhof/CommitCatalog/metadata"
	"github.com/nickyhof/CommitCatalog/metrics"
	"github.com/nickyhof/CommitCatalog/ps"
)

// Table is a loaded table. MetadataLocation is nil only for a staged
// create that has not been committed yet.
type Table struct {
	Identifier       core.TableIdentifier
	MetadataLocation *string
	Metadata         *metadata.TableMetadata
	Config           map[string]string
}

// CreateTableRequest describes a new table. Spec and WriteOrder default to
// unpartitioned and unsorted, Location to a path under the namespace.
type CreateTableRequest struct {
	Name        string
	Location    string
	Schema      metadata.Schema
	Spec        *metadata.PartitionSpec
	WriteOrder  *metadata.SortOrder
	Properties  map[string]string
	StageCreate bool
}

// CreateTable creates a table, or with StageCreate builds its first
// metadata without making the table visible. A staged table is published
// by a CommitTable carrying an assert-create requirement.
func (c *Catalog) CreateTable(ctx context.Context, ns core.Namespace, req CreateTableRequest) (Table, error) {
	id := core.NewTableIdentifier(ns, req.Name)
	if err := id.Validate(); err != nil {
		return Table{}, err
	}

	view, err := c.persistence.Head()
	if err != nil {
		return Table{}, err
	}
	rec, err := checkCreatable(view, id)
	if err != nil {
		return Table{}, err
	}

	location := req.Location
	if location == "" {
		location = c.defaultLocation(rec, req.Name)
	}
	md, err := metadata.NewTableMetadata(metadata.CreateOptions{
		Schema:     req.Schema,
		Spec:       req.Spec,
		SortOrder:  req.WriteOrder,
		Location:   location,
		Properties: req.Properties,
	})
	if err != nil {
		return Table{}, err
	}

	if req.StageCreate {
		c.logger.Debug("table create staged", "table", id.String())
		return Table{Identifier: id, Metadata: md, Config: c.tableConfig()}, nil
	}

	metadataLocation := metadata.NewMetadataLocation(md, 0)
	if err := c.writeMetadata(ctx, metadataLocation, md); err != nil {
		return Table{}, err
	}

	txn, err := c.persistence.Apply(c.identity(ctx), fmt.Sprintf("Create table %s", id), func(b *ps.Batch) error {
		if _, err := checkCreatable(b, id); err != nil {
			return err
		}
		return b.PutTable(core.TableBinding{Identifier: id, MetadataLocation: metadataLocation})
	})
	if err != nil {
		return Table{}, err
	}

	metrics.TablesCreated.Inc()
	c.logger.Debug("table created", "table", id.String(), "metadata_location", metadataLocation, "txn", txn.Id)
	return Table{Identifier: id, MetadataLocation: &metadataLocation, Metadata: md, Config: c.tableConfig()}, nil
}

// RegisterTable binds name to an existing metadata file.
func (c *Catalog) RegisterTable(ctx context.Context, ns core.Namespace, name, metadataLocation string) (Table, error) {
	id := core.NewTableIdentifier(ns, name)
	if err := id.Validate(); err != nil {
		return Table{}, err
	}
	if metadataLocation == "" {
		return Table{}, fmt.Errorf("%w: metadata location is required", core.ErrInvalidRequest)
	}

	view, err := c.persistence.Head()
	if err != nil {
		return Table{}, err
	}
	if _, err := checkCreatable(view, id); err != nil {
		return Table{}, err
	}

	md, err := c.loadMetadata(ctx, metadataLocation)
	if errors.Is(err, fileio.ErrNotExist) || errors.Is(err, metadata.ErrMalformedMetadata) {
		return Table{}, fmt.Errorf("%w: %w", core.ErrInvalidRequest, err)
	} else if err != nil {
		return Table{}, err
	}

	txn, err := c.persistence.Apply(c.identity(ctx), fmt.Sprintf("Register table %s", id), func(b *ps.Batch) error {
		if _, err := checkCreatable(b, id); err != nil {
			return err
		}
		return b.PutTable(core.TableBinding{Identifier: id, MetadataLocation: metadataLocation})
	})
	if err != nil {
		return Table{}, err
	}

	metrics.TablesCreated.Inc()
	c.logger.Debug("table registered", "table", id.String(), "metadata_location", metadataLocation, "txn", txn.Id)
	return Table{Identifier: id, MetadataLocation: &metadataLocation, Metadata: md, Config: c.tableConfig()}, nil
}

func (c *Catalog) LoadTable(ctx context.Context, id core.TableIdentifier) (Table, error) {
	if err := id.Validate(); err != nil {
		return Table{}, err
	}

	view, err := c.persistence.Head()
	if err != nil {
		return Table{}, err
	}
	binding, found, err := view.Table(id)
	if err != nil {
		return Table{}, err
	}
	if !found {
		return Table{}, fmt.Errorf("%w: %s", core.ErrNoSuchTable, id)
	}

	md, err := c.loadMetadata(ctx, binding.MetadataLocation)
	if err != nil {
		return Table{}, err
	}

	location := binding.MetadataLocation
	return Table{Identifier: id, MetadataLocation: &location, Metadata: md, Config: c.tableConfig()}, nil
}

func (c *Catalog) TableExists(ctx context.Context, id core.TableIdentifier) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}

	view, err := c.persistence.Head()
	if err != nil {
		return false, err
	}
	_, found, err := view.Table(id)
	return found, err
}

// ListTables returns the tables of ns, sorted by name.
func (c *Catalog) ListTables(ctx context.Context, ns core.Namespace) ([]core.TableIdentifier, error) {
	if err := validateNamespace(ns); err != nil {
		return nil, err
	}

	view, err := c.persistence.Head()
	if err != nil {
		return nil, err
	}
	if _, exists, err := view.Namespace(ns); err != nil {
		return nil, err
	} else if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrNoSuchNamespace, ns)
	}
	return view.Tables(ns)
}

// DropTable removes the binding of id. Metadata and data files are left
// where they are.
func (c *Catalog) DropTable(ctx context.Context, id core.TableIdentifier) error {
	if err := id.Validate(); err != nil {
		return err
	}

	txn, err := c.persistence.Apply(c.identity(ctx), fmt.Sprintf("Drop table %s", id), func(b *ps.Batch) error {
		if _, found, err := b.Table(id); err != nil {
			return err
		} else if !found {
			return fmt.Errorf("%w: %s", core.ErrNoSuchTable, id)
		}
		b.DeleteTable(id)
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Debug("table dropped", "table", id.String(), "txn", txn.Id)
	return nil
}

// store is the read side shared by ps.View and ps.Batch.
type store interface {
	Namespace(ns core.Namespace) (core.NamespaceRecord, bool, error)
	Table(id core.TableIdentifier) (core.TableBinding, bool, error)
}

// checkCreatable returns the namespace record id would be created in, or
// the reason id cannot be created.
func checkCreatable(s store, id core.TableIdentifier) (core.NamespaceRecord, error) {
	rec, exists, err := s.Namespace(id.Namespace)
	if err != nil {
		return core.NamespaceRecord{}, err
	}
	if !exists {
		return core.NamespaceRecord{}, fmt.Errorf("%w: %s", core.ErrNoSuchNamespace, id.Namespace)
	}

	if _, found, err := s.Table(id); err != nil {
		return core.NamespaceRecord{}, err
	} else if found {
		return core.NamespaceRecord{}, fmt.Errorf("%w: %s", core.ErrTableAlreadyExists, id)
	}
	return rec, nil
}
