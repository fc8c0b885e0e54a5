package metadata

import (
	"fmt"

	"github.com/nickyhof/CommitCatalog/core"
)

// Requirement is an assertion about the current table state that must
// hold before a commit's updates are applied. The set is closed.
type Requirement interface {
	Kind() string
	isRequirement()
}

// Requirement kinds.
const (
	KindAssertCreate                  = "assert-create"
	KindAssertTableUUID               = "assert-table-uuid"
	KindAssertRefSnapshotID           = "assert-ref-snapshot-id"
	KindAssertLastAssignedFieldID     = "assert-last-assigned-field-id"
	KindAssertCurrentSchemaID         = "assert-current-schema-id"
	KindAssertLastAssignedPartitionID = "assert-last-assigned-partition-id"
	KindAssertDefaultSpecID           = "assert-default-spec-id"
	KindAssertDefaultSortOrderID      = "assert-default-sort-order-id"
)

// AssertCreate requires that the table does not exist.
type AssertCreate struct{}

type AssertTableUUID struct {
	UUID string `json:"uuid"`
}

// AssertRefSnapshotID requires ref to point at SnapshotID. A nil
// SnapshotID requires the ref to be absent.
type AssertRefSnapshotID struct {
	Ref        string `json:"ref"`
	SnapshotID *int64 `json:"snapshot-id"`
}

type AssertLastAssignedFieldID struct {
	LastAssignedFieldID int `json:"last-assigned-field-id"`
}

type AssertCurrentSchemaID struct {
	CurrentSchemaID int `json:"current-schema-id"`
}

type AssertLastAssignedPartitionID struct {
	LastAssignedPartitionID int `json:"last-assigned-partition-id"`
}

type AssertDefaultSpecID struct {
	DefaultSpecID int `json:"default-spec-id"`
}

type AssertDefaultSortOrderID struct {
	DefaultSortOrderID int `json:"default-sort-order-id"`
}

func (AssertCreate) Kind() string                  { return KindAssertCreate }
func (AssertTableUUID) Kind() string               { return KindAssertTableUUID }
func (AssertRefSnapshotID) Kind() string           { return KindAssertRefSnapshotID }
func (AssertLastAssignedFieldID) Kind() string     { return KindAssertLastAssignedFieldID }
func (AssertCurrentSchemaID) Kind() string         { return KindAssertCurrentSchemaID }
func (AssertLastAssignedPartitionID) Kind() string { return KindAssertLastAssignedPartitionID }
func (AssertDefaultSpecID) Kind() string           { return KindAssertDefaultSpecID }
func (AssertDefaultSortOrderID) Kind() string      { return KindAssertDefaultSortOrderID }

func (AssertCreate) isRequirement()                  {}
func (AssertTableUUID) isRequirement()               {}
func (AssertRefSnapshotID) isRequirement()           {}
func (AssertLastAssignedFieldID) isRequirement()     {}
func (AssertCurrentSchemaID) isRequirement()         {}
func (AssertLastAssignedPartitionID) isRequirement() {}
func (AssertDefaultSpecID) isRequirement()           {}
func (AssertDefaultSortOrderID) isRequirement()      {}

// RequirementError reports the first requirement that did not hold.
type RequirementError struct {
	Kind   string
	Reason string
}

func (e *RequirementError) Error() string {
	return fmt.Sprintf("requirement %s failed: %s", e.Kind, e.Reason)
}

func (e *RequirementError) Unwrap() error {
	return core.ErrCommitFailed
}

// Validate checks every requirement, in order, against base. A nil base
// means the table does not exist. The first failure is returned as a
// *RequirementError.
func Validate(requirements []Requirement, base *TableMetadata) error {
	for _, r := range requirements {
		if err := check(r, base); err != nil {
			return err
		}
	}
	return nil
}

// HasAssertCreate reports whether requirements model a table creation.
func HasAssertCreate(requirements []Requirement) bool {
	for _, r := range requirements {
		if _, ok := r.(AssertCreate); ok {
			return true
		}
	}
	return false
}

func check(r Requirement, base *TableMetadata) error {
	fail := func(format string, args ...any) error {
		return &RequirementError{Kind: r.Kind(), Reason: fmt.Sprintf(format, args...)}
	}

	if _, ok := r.(AssertCreate); ok {
		if base != nil {
			return fail("table already exists")
		}
		return nil
	}
	if base == nil {
		return fail("table does not exist")
	}

	switch req := r.(type) {
	case AssertTableUUID:
		if base.TableUUID != req.UUID {
			return fail("uuid mismatch: expected %s != %s", req.UUID, base.TableUUID)
		}
	case AssertRefSnapshotID:
		ref, exists := base.Refs[req.Ref]
		switch {
		case req.SnapshotID == nil && exists:
			return fail("ref %s was created concurrently", req.Ref)
		case req.SnapshotID != nil && !exists:
			return fail("ref %s is missing, expected %d", req.Ref, *req.SnapshotID)
		case req.SnapshotID != nil && ref.SnapshotID != *req.SnapshotID:
			return fail("ref %s has changed: expected id %d != %d", req.Ref, *req.SnapshotID, ref.SnapshotID)
		}
	case AssertLastAssignedFieldID:
		if base.LastColumnID != req.LastAssignedFieldID {
			return fail("last assigned field id changed: expected %d != %d", req.LastAssignedFieldID, base.LastColumnID)
		}
	case AssertCurrentSchemaID:
		if base.CurrentSchemaID != req.CurrentSchemaID {
			return fail("current schema changed: expected id %d != %d", req.CurrentSchemaID, base.CurrentSchemaID)
		}
	case AssertLastAssignedPartitionID:
		if base.LastPartitionID != req.LastAssignedPartitionID {
			return fail("last assigned partition id changed: expected %d != %d", req.LastAssignedPartitionID, base.LastPartitionID)
		}
	case AssertDefaultSpecID:
		if base.DefaultSpecID != req.DefaultSpecID {
			return fail("default partition spec changed: expected id %d != %d", req.DefaultSpecID, base.DefaultSpecID)
		}
	case AssertDefaultSortOrderID:
		if base.DefaultSortOrderID != req.DefaultSortOrderID {
			return fail("default sort order changed: expected id %d != %d", req.DefaultSortOrderID, base.DefaultSortOrderID)
		}
	default:
		return fmt.Errorf("%w: unknown requirement %T", core.ErrInvalidRequest, r)
	}
	return nil
}
