package metadata

import (
	"encoding/json"
	"slices"
)

const (
	// MainBranch is the ref that drives current-snapshot-id.
	MainBranch = "main"

	// PropertyPreviousVersionsMax caps the length of the metadata log.
	PropertyPreviousVersionsMax = "write.metadata.previous-versions-max"
	// PropertyFormatVersion may be passed on create to pick the format.
	PropertyFormatVersion = "format-version"

	DefaultPreviousVersionsMax = 100
	DefaultFormatVersion       = 2
	SupportedFormatVersion     = 2

	// InitialPartitionID is the value of last-partition-id for a table
	// without partition fields; new partition field ids start above it.
	InitialPartitionID = 999
	// UnsortedOrderID is reserved for the order without fields.
	UnsortedOrderID = 0
	// LastAdded selects the schema, spec or sort order added earlier in
	// the same change set.
	LastAdded = -1
)

// TableMetadata is the full, immutable definition of a table version.
type TableMetadata struct {
	FormatVersion      int                    `json:"format-version"`
	TableUUID          string                 `json:"table-uuid"`
	Location           string                 `json:"location"`
	LastSequenceNumber int64                  `json:"last-sequence-number"`
	LastUpdatedMS      int64                  `json:"last-updated-ms"`
	LastColumnID       int                    `json:"last-column-id"`
	Schemas            []Schema               `json:"schemas"`
	CurrentSchemaID    int                    `json:"current-schema-id"`
	PartitionSpecs     []PartitionSpec        `json:"partition-specs"`
	DefaultSpecID      int                    `json:"default-spec-id"`
	LastPartitionID    int                    `json:"last-partition-id"`
	Properties         map[string]string      `json:"properties,omitempty"`
	CurrentSnapshotID  *int64                 `json:"current-snapshot-id"`
	Snapshots          []Snapshot             `json:"snapshots,omitempty"`
	SnapshotLog        []SnapshotLogEntry     `json:"snapshot-log,omitempty"`
	MetadataLog        []MetadataLogEntry     `json:"metadata-log,omitempty"`
	SortOrders         []SortOrder            `json:"sort-orders"`
	DefaultSortOrderID int                    `json:"default-sort-order-id"`
	Refs               map[string]SnapshotRef `json:"refs,omitempty"`
}

// Schema is one entry of the schema history. Field types are kept as raw
// JSON so nested struct, list and map types pass through untouched.
type Schema struct {
	Type               string  `json:"type"`
	SchemaID           int     `json:"schema-id"`
	IdentifierFieldIDs []int   `json:"identifier-field-ids,omitempty"`
	Fields             []Field `json:"fields"`
}

type Field struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Required bool            `json:"required"`
	Type     json.RawMessage `json:"type"`
	Doc      string          `json:"doc,omitempty"`
}

type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

type PartitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

type SortOrder struct {
	OrderID int         `json:"order-id"`
	Fields  []SortField `json:"fields"`
}

type SortField struct {
	SourceID  int    `json:"source-id"`
	Transform string `json:"transform"`
	Direction string `json:"direction"`
	NullOrder string `json:"null-order"`
}

type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMS      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list,omitempty"`
	Summary          map[string]string `json:"summary,omitempty"`
	SchemaID         *int              `json:"schema-id,omitempty"`
}

type SnapshotLogEntry struct {
	TimestampMS int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

type MetadataLogEntry struct {
	TimestampMS  int64  `json:"timestamp-ms"`
	MetadataFile string `json:"metadata-file"`
}

// Ref types.
const (
	RefTypeBranch = "branch"
	RefTypeTag    = "tag"
)

type SnapshotRef struct {
	SnapshotID         int64  `json:"snapshot-id"`
	Type               string `json:"type"`
	MinSnapshotsToKeep *int   `json:"min-snapshots-to-keep,omitempty"`
	MaxSnapshotAgeMS   *int64 `json:"max-snapshot-age-ms,omitempty"`
	MaxRefAgeMS        *int64 `json:"max-ref-age-ms,omitempty"`
}

// CurrentSchema returns the schema selected by current-schema-id.
func (m *TableMetadata) CurrentSchema() (Schema, bool) {
	return m.SchemaByID(m.CurrentSchemaID)
}

func (m *TableMetadata) SchemaByID(id int) (Schema, bool) {
	for _, s := range m.Schemas {
		if s.SchemaID == id {
			return s, true
		}
	}
	return Schema{}, false
}

func (m *TableMetadata) SpecByID(id int) (PartitionSpec, bool) {
	for _, s := range m.PartitionSpecs {
		if s.SpecID == id {
			return s, true
		}
	}
	return PartitionSpec{}, false
}

func (m *TableMetadata) SortOrderByID(id int) (SortOrder, bool) {
	for _, o := range m.SortOrders {
		if o.OrderID == id {
			return o, true
		}
	}
	return SortOrder{}, false
}

func (m *TableMetadata) SnapshotByID(id int64) (Snapshot, bool) {
	for _, s := range m.Snapshots {
		if s.SnapshotID == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

// CurrentSnapshot returns the snapshot at the head of main, if any.
func (m *TableMetadata) CurrentSnapshot() (Snapshot, bool) {
	if m.CurrentSnapshotID == nil {
		return Snapshot{}, false
	}
	return m.SnapshotByID(*m.CurrentSnapshotID)
}

// Clone returns a deep copy that shares nothing mutable with m.
func (m *TableMetadata) Clone() *TableMetadata {
	c := *m
	c.Schemas = make([]Schema, len(m.Schemas))
	for i, s := range m.Schemas {
		c.Schemas[i] = s.clone()
	}
	c.PartitionSpecs = make([]PartitionSpec, len(m.PartitionSpecs))
	for i, s := range m.PartitionSpecs {
		c.PartitionSpecs[i] = PartitionSpec{SpecID: s.SpecID, Fields: slices.Clone(s.Fields)}
	}
	c.SortOrders = make([]SortOrder, len(m.SortOrders))
	for i, o := range m.SortOrders {
		c.SortOrders[i] = SortOrder{OrderID: o.OrderID, Fields: slices.Clone(o.Fields)}
	}
	c.Snapshots = make([]Snapshot, len(m.Snapshots))
	for i, s := range m.Snapshots {
		c.Snapshots[i] = s.clone()
	}
	c.SnapshotLog = slices.Clone(m.SnapshotLog)
	c.MetadataLog = slices.Clone(m.MetadataLog)
	c.Properties = cloneMap(m.Properties)
	if m.CurrentSnapshotID != nil {
		id := *m.CurrentSnapshotID
		c.CurrentSnapshotID = &id
	}
	if m.Refs != nil {
		c.Refs = make(map[string]SnapshotRef, len(m.Refs))
		for name, ref := range m.Refs {
			c.Refs[name] = ref
		}
	}
	return &c
}

func (s Schema) clone() Schema {
	c := s
	c.IdentifierFieldIDs = slices.Clone(s.IdentifierFieldIDs)
	c.Fields = make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Type = slices.Clone(f.Type)
		c.Fields[i] = f
	}
	return c
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.Summary = cloneMap(s.Summary)
	if s.ParentSnapshotID != nil {
		parent := *s.ParentSnapshotID
		c.ParentSnapshotID = &parent
	}
	if s.SchemaID != nil {
		id := *s.SchemaID
		c.SchemaID = &id
	}
	return c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
