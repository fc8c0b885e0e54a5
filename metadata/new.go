package metadata

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// CreateOptions describe a table to create. Nil spec and order mean
// unpartitioned and unsorted.
type CreateOptions struct {
	Schema     Schema
	Spec       *PartitionSpec
	SortOrder  *SortOrder
	Location   string
	Properties map[string]string
}

// InitialUpdates returns the change set that initialises a table from
// empty metadata. Committing these updates with an assert-create
// requirement is equivalent to creating the table directly.
func InitialUpdates(opts CreateOptions) ([]Update, error) {
	formatVersion := DefaultFormatVersion
	props := make(map[string]string, len(opts.Properties))
	for k, v := range opts.Properties {
		if k == PropertyFormatVersion {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, invalid("invalid %s property %q", PropertyFormatVersion, v)
			}
			formatVersion = n
			continue
		}
		props[k] = v
	}

	spec := PartitionSpec{}
	if opts.Spec != nil {
		spec = *opts.Spec
	}
	order := SortOrder{OrderID: UnsortedOrderID}
	if opts.SortOrder != nil {
		order = *opts.SortOrder
	}

	updates := []Update{
		AssignUUID{UUID: uuid.NewString()},
		UpgradeFormatVersion{FormatVersion: formatVersion},
		AddSchema{Schema: opts.Schema},
		SetCurrentSchema{SchemaID: LastAdded},
		AddPartitionSpec{Spec: spec},
		SetDefaultSpec{SpecID: LastAdded},
		AddSortOrder{SortOrder: order},
		SetDefaultSortOrder{SortOrderID: LastAdded},
		SetLocation{Location: opts.Location},
	}
	if len(props) > 0 {
		updates = append(updates, SetProperties{Updates: props})
	}
	return updates, nil
}

// NewTableMetadata builds the first version of a table.
func NewTableMetadata(opts CreateOptions) (*TableMetadata, error) {
	updates, err := InitialUpdates(opts)
	if err != nil {
		return nil, err
	}

	b := NewBuilder(nil, "")
	if err := b.ApplyAll(updates); err != nil {
		return nil, fmt.Errorf("failed to initialise table metadata: %w", err)
	}
	return b.Build()
}
