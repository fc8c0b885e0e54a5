package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nickyhof/CommitCatalog/core"
)

// ErrMalformedMetadata is returned by Parse for data that is not table
// metadata.
var ErrMalformedMetadata = errors.New("malformed table metadata")

// Parse decodes a metadata file. Tables written without refs get a main
// branch derived from current-snapshot-id, and -1 is read as no snapshot.
func Parse(data []byte) (*TableMetadata, error) {
	var md TableMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMetadata, err)
	}

	if md.CurrentSnapshotID != nil && *md.CurrentSnapshotID == -1 {
		md.CurrentSnapshotID = nil
	}
	if md.CurrentSnapshotID != nil && len(md.Refs) == 0 {
		md.Refs = map[string]SnapshotRef{
			MainBranch: {SnapshotID: *md.CurrentSnapshotID, Type: RefTypeBranch},
		}
	}
	if md.FormatVersion == 0 {
		return nil, fmt.Errorf("%w: no format-version", ErrMalformedMetadata)
	}
	return &md, nil
}

// Marshal encodes metadata the way it is written to a metadata file.
func Marshal(md *TableMetadata) ([]byte, error) {
	return json.Marshal(md)
}

// Updates decodes a JSON array of updates tagged by "action".
type Updates []Update

func (u *Updates) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	out := make(Updates, 0, len(raws))
	for _, raw := range raws {
		update, err := DecodeUpdate(raw)
		if err != nil {
			return err
		}
		out = append(out, update)
	}
	*u = out
	return nil
}

func (u Updates) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(u))
	for _, update := range u {
		raw, err := EncodeUpdate(update)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	return json.Marshal(raws)
}

// Requirements decodes a JSON array of requirements tagged by "type".
type Requirements []Requirement

func (r *Requirements) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	out := make(Requirements, 0, len(raws))
	for _, raw := range raws {
		requirement, err := DecodeRequirement(raw)
		if err != nil {
			return err
		}
		out = append(out, requirement)
	}
	*r = out
	return nil
}

func (r Requirements) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(r))
	for _, requirement := range r {
		raw, err := EncodeRequirement(requirement)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	return json.Marshal(raws)
}

// DecodeUpdate decodes one update. Unknown actions are malformed input.
func DecodeUpdate(data []byte) (Update, error) {
	var tag struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidUpdate, err)
	}

	var update Update
	var err error
	switch tag.Action {
	case ActionAssignUUID:
		update, err = decodeAs[AssignUUID](data)
	case ActionUpgradeFormatVersion:
		update, err = decodeAs[UpgradeFormatVersion](data)
	case ActionAddSchema:
		update, err = decodeAs[AddSchema](data)
	case ActionSetCurrentSchema:
		update, err = decodeAs[SetCurrentSchema](data)
	case ActionAddSpec:
		update, err = decodeAs[AddPartitionSpec](data)
	case ActionSetDefaultSpec:
		update, err = decodeAs[SetDefaultSpec](data)
	case ActionAddSortOrder:
		update, err = decodeAs[AddSortOrder](data)
	case ActionSetDefaultSortOrder:
		update, err = decodeAs[SetDefaultSortOrder](data)
	case ActionAddSnapshot:
		update, err = decodeAs[AddSnapshot](data)
	case ActionSetSnapshotRef:
		update, err = decodeAs[SetSnapshotRef](data)
	case ActionRemoveSnapshots:
		update, err = decodeAs[RemoveSnapshots](data)
	case ActionRemoveSnapshotRef:
		update, err = decodeAs[RemoveSnapshotRef](data)
	case ActionSetLocation:
		update, err = decodeAs[SetLocation](data)
	case ActionSetProperties:
		update, err = decodeAs[SetProperties](data)
	case ActionRemoveProperties:
		update, err = decodeAs[RemoveProperties](data)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", core.ErrInvalidUpdate, tag.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidUpdate, tag.Action, err)
	}
	return update, nil
}

// DecodeRequirement decodes one requirement. Unknown types are malformed
// input.
func DecodeRequirement(data []byte) (Requirement, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}

	var requirement Requirement
	var err error
	switch tag.Type {
	case KindAssertCreate:
		requirement = AssertCreate{}
	case KindAssertTableUUID:
		requirement, err = decodeAs[AssertTableUUID](data)
	case KindAssertRefSnapshotID:
		requirement, err = decodeAs[AssertRefSnapshotID](data)
	case KindAssertLastAssignedFieldID:
		requirement, err = decodeAs[AssertLastAssignedFieldID](data)
	case KindAssertCurrentSchemaID:
		requirement, err = decodeAs[AssertCurrentSchemaID](data)
	case KindAssertLastAssignedPartitionID:
		requirement, err = decodeAs[AssertLastAssignedPartitionID](data)
	case KindAssertDefaultSpecID:
		requirement, err = decodeAs[AssertDefaultSpecID](data)
	case KindAssertDefaultSortOrderID:
		requirement, err = decodeAs[AssertDefaultSortOrderID](data)
	default:
		return nil, fmt.Errorf("%w: unknown requirement type %q", core.ErrInvalidRequest, tag.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidRequest, tag.Type, err)
	}
	return requirement, nil
}

// EncodeUpdate encodes an update with its "action" tag.
func EncodeUpdate(u Update) ([]byte, error) {
	return encodeTagged("action", u.Action(), u)
}

// EncodeRequirement encodes a requirement with its "type" tag.
func EncodeRequirement(r Requirement) ([]byte, error) {
	return encodeTagged("type", r.Kind(), r)
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

func encodeTagged(key, tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("cannot tag non-object %T", v)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"` + key + `":`)
	tagJSON, _ := json.Marshal(tag)
	buf.Write(tagJSON)
	if rest := body[1:]; !bytes.Equal(rest, []byte("}")) {
		buf.WriteByte(',')
		buf.Write(rest)
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}
