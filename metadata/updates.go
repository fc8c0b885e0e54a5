package metadata

// Update is one metadata mutation. The set of variants is closed: every
// implementation lives in this file and Builder.Apply matches them
// exhaustively.
type Update interface {
	Action() string
	isUpdate()
}

// Update actions.
const (
	ActionAssignUUID           = "assign-uuid"
	ActionUpgradeFormatVersion = "upgrade-format-version"
	ActionAddSchema            = "add-schema"
	ActionSetCurrentSchema     = "set-current-schema"
	ActionAddSpec              = "add-spec"
	ActionSetDefaultSpec       = "set-default-spec"
	ActionAddSortOrder         = "add-sort-order"
	ActionSetDefaultSortOrder  = "set-default-sort-order"
	ActionAddSnapshot          = "add-snapshot"
	ActionSetSnapshotRef       = "set-snapshot-ref"
	ActionRemoveSnapshots      = "remove-snapshots"
	ActionRemoveSnapshotRef    = "remove-snapshot-ref"
	ActionSetLocation          = "set-location"
	ActionSetProperties        = "set-properties"
	ActionRemoveProperties     = "remove-properties"
)

type AssignUUID struct {
	UUID string `json:"uuid"`
}

type UpgradeFormatVersion struct {
	FormatVersion int `json:"format-version"`
}

type AddSchema struct {
	Schema       Schema `json:"schema"`
	LastColumnID *int   `json:"last-column-id,omitempty"`
}

type SetCurrentSchema struct {
	SchemaID int `json:"schema-id"`
}

type AddPartitionSpec struct {
	Spec PartitionSpec `json:"spec"`
}

type SetDefaultSpec struct {
	SpecID int `json:"spec-id"`
}

type AddSortOrder struct {
	SortOrder SortOrder `json:"sort-order"`
}

type SetDefaultSortOrder struct {
	SortOrderID int `json:"sort-order-id"`
}

type AddSnapshot struct {
	Snapshot Snapshot `json:"snapshot"`
}

type SetSnapshotRef struct {
	RefName            string `json:"ref-name"`
	SnapshotID         int64  `json:"snapshot-id"`
	Type               string `json:"type"`
	MinSnapshotsToKeep *int   `json:"min-snapshots-to-keep,omitempty"`
	MaxSnapshotAgeMS   *int64 `json:"max-snapshot-age-ms,omitempty"`
	MaxRefAgeMS        *int64 `json:"max-ref-age-ms,omitempty"`
}

type RemoveSnapshots struct {
	SnapshotIDs []int64 `json:"snapshot-ids"`
}

type RemoveSnapshotRef struct {
	RefName string `json:"ref-name"`
}

type SetLocation struct {
	Location string `json:"location"`
}

type SetProperties struct {
	Updates map[string]string `json:"updates"`
}

type RemoveProperties struct {
	Removals []string `json:"removals"`
}

func (AssignUUID) Action() string           { return ActionAssignUUID }
func (UpgradeFormatVersion) Action() string { return ActionUpgradeFormatVersion }
func (AddSchema) Action() string            { return ActionAddSchema }
func (SetCurrentSchema) Action() string     { return ActionSetCurrentSchema }
func (AddPartitionSpec) Action() string     { return ActionAddSpec }
func (SetDefaultSpec) Action() string       { return ActionSetDefaultSpec }
func (AddSortOrder) Action() string         { return ActionAddSortOrder }
func (SetDefaultSortOrder) Action() string  { return ActionSetDefaultSortOrder }
func (AddSnapshot) Action() string          { return ActionAddSnapshot }
func (SetSnapshotRef) Action() string       { return ActionSetSnapshotRef }
func (RemoveSnapshots) Action() string      { return ActionRemoveSnapshots }
func (RemoveSnapshotRef) Action() string    { return ActionRemoveSnapshotRef }
func (SetLocation) Action() string          { return ActionSetLocation }
func (SetProperties) Action() string        { return ActionSetProperties }
func (RemoveProperties) Action() string     { return ActionRemoveProperties }

func (AssignUUID) isUpdate()           {}
func (UpgradeFormatVersion) isUpdate() {}
func (AddSchema) isUpdate()            {}
func (SetCurrentSchema) isUpdate()     {}
func (AddPartitionSpec) isUpdate()     {}
func (SetDefaultSpec) isUpdate()       {}
func (AddSortOrder) isUpdate()         {}
func (SetDefaultSortOrder) isUpdate()  {}
func (AddSnapshot) isUpdate()          {}
func (SetSnapshotRef) isUpdate()       {}
func (RemoveSnapshots) isUpdate()      {}
func (RemoveSnapshotRef) isUpdate()    {}
func (SetLocation) isUpdate()          {}
func (SetProperties) isUpdate()        {}
func (RemoveProperties) isUpdate()     {}
