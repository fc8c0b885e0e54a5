package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nickyhof/CommitCatalog/core"
)

// Builder produces a new TableMetadata from a base version plus an ordered
// list of updates. The base is never modified.
type Builder struct {
	base         *TableMetadata
	baseLocation string
	md           *TableMetadata
	changes      []Update

	lastAddedSchemaID *int
	lastAddedSpecID   *int
	lastAddedOrderID  *int

	now func() time.Time
}

// NewBuilder starts a change set on base, which was loaded from
// baseLocation. A nil base starts from empty metadata, the way a staged
// create is committed.
func NewBuilder(base *TableMetadata, baseLocation string) *Builder {
	b := &Builder{base: base, baseLocation: baseLocation, now: time.Now}
	if base != nil {
		b.md = base.Clone()
	} else {
		b.md = &TableMetadata{
			FormatVersion:      DefaultFormatVersion,
			CurrentSchemaID:    -1,
			DefaultSpecID:      -1,
			LastPartitionID:    InitialPartitionID,
			DefaultSortOrderID: -1,
		}
	}
	return b
}

// Changes returns the updates applied so far.
func (b *Builder) Changes() []Update {
	return slices.Clone(b.changes)
}

// ApplyAll applies updates left to right, stopping at the first failure.
func (b *Builder) ApplyAll(updates []Update) error {
	for i, u := range updates {
		if err := b.Apply(u); err != nil {
			return fmt.Errorf("update %d (%s): %w", i, u.Action(), err)
		}
	}
	return nil
}

// Apply applies a single update. Each update sees every update applied
// before it.
func (b *Builder) Apply(u Update) error {
	var err error
	switch u := u.(type) {
	case AssignUUID:
		err = b.assignUUID(u)
	case UpgradeFormatVersion:
		err = b.upgradeFormatVersion(u)
	case AddSchema:
		err = b.addSchema(u)
	case SetCurrentSchema:
		err = b.setCurrentSchema(u)
	case AddPartitionSpec:
		err = b.addSpec(u)
	case SetDefaultSpec:
		err = b.setDefaultSpec(u)
	case AddSortOrder:
		err = b.addSortOrder(u)
	case SetDefaultSortOrder:
		err = b.setDefaultSortOrder(u)
	case AddSnapshot:
		err = b.addSnapshot(u)
	case SetSnapshotRef:
		err = b.setSnapshotRef(u)
	case RemoveSnapshots:
		b.removeSnapshots(u)
	case RemoveSnapshotRef:
		b.removeSnapshotRef(u.RefName)
	case SetLocation:
		err = b.setLocation(u)
	case SetProperties:
		err = b.setProperties(u)
	case RemoveProperties:
		b.removeProperties(u)
	default:
		err = fmt.Errorf("%w: unknown update %T", core.ErrInvalidUpdate, u)
	}
	if err != nil {
		return err
	}

	b.changes = append(b.changes, u)
	return nil
}

// Build validates the result and returns the new metadata. When no update
// was applied to an existing base, the base itself is returned.
func (b *Builder) Build() (*TableMetadata, error) {
	if b.base != nil && len(b.changes) == 0 {
		return b.base, nil
	}

	md := b.md
	if md.TableUUID == "" {
		md.TableUUID = uuid.NewString()
	}
	if md.Location == "" {
		return nil, invalid("table has no location")
	}
	if _, ok := md.CurrentSchema(); !ok {
		return nil, invalid("current schema %d does not exist", md.CurrentSchemaID)
	}
	if _, ok := md.SpecByID(md.DefaultSpecID); !ok {
		return nil, invalid("default partition spec %d does not exist", md.DefaultSpecID)
	}
	if _, ok := md.SortOrderByID(md.DefaultSortOrderID); !ok {
		return nil, invalid("default sort order %d does not exist", md.DefaultSortOrderID)
	}

	md.LastUpdatedMS = b.now().UnixMilli()

	if b.base != nil && b.baseLocation != "" {
		md.MetadataLog = append(md.MetadataLog, MetadataLogEntry{
			TimestampMS:  b.base.LastUpdatedMS,
			MetadataFile: b.baseLocation,
		})
	}
	if keep := previousVersionsMax(md.Properties); len(md.MetadataLog) > keep {
		md.MetadataLog = slices.Clone(md.MetadataLog[len(md.MetadataLog)-keep:])
	}

	// Hand out a copy so the builder cannot reach the returned value.
	return md.Clone(), nil
}

func (b *Builder) assignUUID(u AssignUUID) error {
	if u.UUID == "" {
		return invalid("cannot assign an empty uuid")
	}
	if b.base != nil && b.md.TableUUID != "" && b.md.TableUUID != u.UUID {
		return invalid("cannot reassign uuid %s to %s", b.md.TableUUID, u.UUID)
	}
	b.md.TableUUID = u.UUID
	return nil
}

func (b *Builder) upgradeFormatVersion(u UpgradeFormatVersion) error {
	if u.FormatVersion < 1 || u.FormatVersion > SupportedFormatVersion {
		return invalid("unsupported format version %d", u.FormatVersion)
	}
	if b.base != nil && u.FormatVersion < b.md.FormatVersion {
		return invalid("cannot downgrade format version from %d to %d", b.md.FormatVersion, u.FormatVersion)
	}
	b.md.FormatVersion = u.FormatVersion
	return nil
}

func (b *Builder) addSchema(u AddSchema) error {
	schema := u.Schema.clone()
	schema.Type = "struct"

	highest, err := highestFieldID(schema.Fields)
	if err != nil {
		return err
	}

	lastColumnID := max(b.md.LastColumnID, highest)
	if u.LastColumnID != nil {
		if *u.LastColumnID < b.md.LastColumnID {
			return invalid("last column id %d is lower than current %d", *u.LastColumnID, b.md.LastColumnID)
		}
		lastColumnID = max(lastColumnID, *u.LastColumnID)
	}

	schemaID := -1
	for _, existing := range b.md.Schemas {
		if sameSchema(existing, schema) {
			schemaID = existing.SchemaID
			break
		}
	}
	if schemaID < 0 {
		schemaID = 0
		for _, existing := range b.md.Schemas {
			schemaID = max(schemaID, existing.SchemaID+1)
		}
		schema.SchemaID = schemaID
		b.md.Schemas = append(b.md.Schemas, schema)
	}

	b.md.LastColumnID = lastColumnID
	b.lastAddedSchemaID = &schemaID
	return nil
}

func (b *Builder) setCurrentSchema(u SetCurrentSchema) error {
	id, err := resolveLastAdded(u.SchemaID, b.lastAddedSchemaID, "schema")
	if err != nil {
		return err
	}
	if _, ok := b.md.SchemaByID(id); !ok {
		return invalid("schema %d does not exist", id)
	}
	b.md.CurrentSchemaID = id
	return nil
}

func (b *Builder) addSpec(u AddPartitionSpec) error {
	fields := slices.Clone(u.Spec.Fields)
	next := b.md.LastPartitionID
	for i := range fields {
		if fields[i].SourceID > b.md.LastColumnID {
			return invalid("partition field %s references unknown column %d", fields[i].Name, fields[i].SourceID)
		}
		if fields[i].FieldID == 0 {
			next++
			fields[i].FieldID = next
		}
		next = max(next, fields[i].FieldID)
	}

	specID := -1
	for _, existing := range b.md.PartitionSpecs {
		if slices.Equal(existing.Fields, fields) {
			specID = existing.SpecID
			break
		}
	}
	if specID < 0 {
		specID = 0
		for _, existing := range b.md.PartitionSpecs {
			specID = max(specID, existing.SpecID+1)
		}
		b.md.PartitionSpecs = append(b.md.PartitionSpecs, PartitionSpec{SpecID: specID, Fields: fields})
	}

	b.md.LastPartitionID = next
	b.lastAddedSpecID = &specID
	return nil
}

func (b *Builder) setDefaultSpec(u SetDefaultSpec) error {
	id, err := resolveLastAdded(u.SpecID, b.lastAddedSpecID, "partition spec")
	if err != nil {
		return err
	}
	if _, ok := b.md.SpecByID(id); !ok {
		return invalid("partition spec %d does not exist", id)
	}
	b.md.DefaultSpecID = id
	return nil
}

func (b *Builder) addSortOrder(u AddSortOrder) error {
	fields := slices.Clone(u.SortOrder.Fields)
	for _, f := range fields {
		if f.SourceID > b.md.LastColumnID {
			return invalid("sort field references unknown column %d", f.SourceID)
		}
		if f.Direction != "asc" && f.Direction != "desc" {
			return invalid("invalid sort direction %q", f.Direction)
		}
		if f.NullOrder != "nulls-first" && f.NullOrder != "nulls-last" {
			return invalid("invalid null order %q", f.NullOrder)
		}
	}

	orderID := -1
	for _, existing := range b.md.SortOrders {
		if slices.Equal(existing.Fields, fields) {
			orderID = existing.OrderID
			break
		}
	}
	if orderID < 0 {
		if len(fields) == 0 {
			orderID = UnsortedOrderID
		} else {
			orderID = 1
			for _, existing := range b.md.SortOrders {
				orderID = max(orderID, existing.OrderID+1)
			}
		}
		b.md.SortOrders = append(b.md.SortOrders, SortOrder{OrderID: orderID, Fields: fields})
	}

	b.lastAddedOrderID = &orderID
	return nil
}

func (b *Builder) setDefaultSortOrder(u SetDefaultSortOrder) error {
	id, err := resolveLastAdded(u.SortOrderID, b.lastAddedOrderID, "sort order")
	if err != nil {
		return err
	}
	if _, ok := b.md.SortOrderByID(id); !ok {
		return invalid("sort order %d does not exist", id)
	}
	b.md.DefaultSortOrderID = id
	return nil
}

func (b *Builder) addSnapshot(u AddSnapshot) error {
	snapshot := u.Snapshot.clone()
	if _, exists := b.md.SnapshotByID(snapshot.SnapshotID); exists {
		return invalid("snapshot %d already exists", snapshot.SnapshotID)
	}
	if b.md.FormatVersion >= 2 &&
		snapshot.ParentSnapshotID != nil &&
		snapshot.SequenceNumber <= b.md.LastSequenceNumber {
		return invalid("snapshot sequence number %d is not greater than last sequence number %d",
			snapshot.SequenceNumber, b.md.LastSequenceNumber)
	}
	if snapshot.SchemaID != nil {
		if _, ok := b.md.SchemaByID(*snapshot.SchemaID); !ok {
			return invalid("snapshot %d references unknown schema %d", snapshot.SnapshotID, *snapshot.SchemaID)
		}
	}
	if snapshot.TimestampMS == 0 {
		snapshot.TimestampMS = b.now().UnixMilli()
	}

	b.md.Snapshots = append(b.md.Snapshots, snapshot)
	b.md.LastSequenceNumber = max(b.md.LastSequenceNumber, snapshot.SequenceNumber)
	return nil
}

func (b *Builder) setSnapshotRef(u SetSnapshotRef) error {
	if u.RefName == "" {
		return invalid("ref name is empty")
	}
	if u.Type != RefTypeBranch && u.Type != RefTypeTag {
		return invalid("invalid ref type %q", u.Type)
	}
	if u.RefName == MainBranch && u.Type != RefTypeBranch {
		return invalid("%s must be a branch", MainBranch)
	}
	snapshot, ok := b.md.SnapshotByID(u.SnapshotID)
	if !ok {
		return invalid("snapshot %d does not exist", u.SnapshotID)
	}

	if b.md.Refs == nil {
		b.md.Refs = make(map[string]SnapshotRef)
	}
	b.md.Refs[u.RefName] = SnapshotRef{
		SnapshotID:         u.SnapshotID,
		Type:               u.Type,
		MinSnapshotsToKeep: u.MinSnapshotsToKeep,
		MaxSnapshotAgeMS:   u.MaxSnapshotAgeMS,
		MaxRefAgeMS:        u.MaxRefAgeMS,
	}

	if u.RefName == MainBranch {
		if b.md.CurrentSnapshotID == nil || *b.md.CurrentSnapshotID != u.SnapshotID {
			id := u.SnapshotID
			b.md.CurrentSnapshotID = &id
			b.md.SnapshotLog = append(b.md.SnapshotLog, SnapshotLogEntry{
				TimestampMS: snapshot.TimestampMS,
				SnapshotID:  id,
			})
		}
	}
	return nil
}

func (b *Builder) removeSnapshots(u RemoveSnapshots) {
	removed := make(map[int64]bool, len(u.SnapshotIDs))
	for _, id := range u.SnapshotIDs {
		removed[id] = true
	}

	b.md.Snapshots = slices.DeleteFunc(b.md.Snapshots, func(s Snapshot) bool {
		return removed[s.SnapshotID]
	})
	b.md.SnapshotLog = slices.DeleteFunc(b.md.SnapshotLog, func(e SnapshotLogEntry) bool {
		return removed[e.SnapshotID]
	})
	for name, ref := range b.md.Refs {
		if removed[ref.SnapshotID] {
			b.removeSnapshotRef(name)
		}
	}
}

func (b *Builder) removeSnapshotRef(name string) {
	delete(b.md.Refs, name)
	if name == MainBranch {
		b.md.CurrentSnapshotID = nil
	}
}

func (b *Builder) setLocation(u SetLocation) error {
	location := strings.TrimSuffix(u.Location, "/")
	if location == "" {
		return invalid("location is empty")
	}
	b.md.Location = location
	return nil
}

func (b *Builder) setProperties(u SetProperties) error {
	if len(u.Updates) == 0 {
		return nil
	}
	if v, ok := u.Updates[PropertyPreviousVersionsMax]; ok {
		if n, err := strconv.Atoi(v); err != nil || n < 1 {
			return invalid("%s must be a positive integer, got %q", PropertyPreviousVersionsMax, v)
		}
	}
	if b.md.Properties == nil {
		b.md.Properties = make(map[string]string, len(u.Updates))
	}
	for k, v := range u.Updates {
		b.md.Properties[k] = v
	}
	return nil
}

func (b *Builder) removeProperties(u RemoveProperties) {
	for _, k := range u.Removals {
		delete(b.md.Properties, k)
	}
}

func resolveLastAdded(id int, lastAdded *int, what string) (int, error) {
	if id != LastAdded {
		return id, nil
	}
	if lastAdded == nil {
		return 0, invalid("no %s was added in this change set", what)
	}
	return *lastAdded, nil
}

func previousVersionsMax(props map[string]string) int {
	if v, ok := props[PropertyPreviousVersionsMax]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultPreviousVersionsMax
}

func sameSchema(a, b Schema) bool {
	if !slices.Equal(a.IdentifierFieldIDs, b.IdentifierFieldIDs) || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		fa, fb := a.Fields[i], b.Fields[i]
		if fa.ID != fb.ID || fa.Name != fb.Name || fa.Required != fb.Required || fa.Doc != fb.Doc {
			return false
		}
		if !bytes.Equal(compact(fa.Type), compact(fb.Type)) {
			return false
		}
	}
	return true
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// nestedType covers the JSON shapes of struct, list and map types.
type nestedType struct {
	Type      string          `json:"type"`
	Fields    []Field         `json:"fields"`
	ElementID int             `json:"element-id"`
	Element   json.RawMessage `json:"element"`
	KeyID     int             `json:"key-id"`
	Key       json.RawMessage `json:"key"`
	ValueID   int             `json:"value-id"`
	Value     json.RawMessage `json:"value"`
}

// highestFieldID walks fields, including nested types, and returns the
// largest field id in use.
func highestFieldID(fields []Field) (int, error) {
	highest := 0
	for _, f := range fields {
		if f.Name == "" {
			return 0, invalid("field %d has no name", f.ID)
		}
		highest = max(highest, f.ID)
		nested, err := highestInType(f.Type)
		if err != nil {
			return 0, err
		}
		highest = max(highest, nested)
	}
	return highest, nil
}

func highestInType(raw json.RawMessage) (int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, invalid("field has no type")
	}
	if trimmed[0] != '{' {
		// Primitive types are strings such as "long" or "decimal(9,2)".
		return 0, nil
	}

	var nt nestedType
	if err := json.Unmarshal(trimmed, &nt); err != nil {
		return 0, invalid("invalid nested type: %v", err)
	}

	switch nt.Type {
	case "struct":
		return highestFieldID(nt.Fields)
	case "list":
		element, err := highestInType(nt.Element)
		if err != nil {
			return 0, err
		}
		return max(nt.ElementID, element), nil
	case "map":
		key, err := highestInType(nt.Key)
		if err != nil {
			return 0, err
		}
		value, err := highestInType(nt.Value)
		if err != nil {
			return 0, err
		}
		return max(nt.KeyID, nt.ValueID, key, value), nil
	default:
		return 0, invalid("unknown nested type %q", nt.Type)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidUpdate, fmt.Sprintf(format, args...))
}
