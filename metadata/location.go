package metadata

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// PropertyMetadataPath overrides the directory metadata files go to.
const PropertyMetadataPath = "write.metadata.path"

// NewMetadataLocation returns a fresh, never-used location for version n
// of the table's metadata.
func NewMetadataLocation(md *TableMetadata, version int) string {
	dir := strings.TrimSuffix(md.Location, "/") + "/metadata"
	if custom, ok := md.Properties[PropertyMetadataPath]; ok && custom != "" {
		dir = strings.TrimSuffix(custom, "/")
	}
	return fmt.Sprintf("%s/%05d-%s.metadata.json", dir, version, uuid.NewString())
}

// ParseMetadataVersion extracts the version counter from a metadata file
// name of the form NNNNN-<uuid>.metadata.json. It returns -1 when the
// name carries no version.
func ParseMetadataVersion(location string) int {
	name := path.Base(location)
	prefix, _, found := strings.Cut(name, "-")
	if !found {
		return -1
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version < 0 {
		return -1
	}
	return version
}

// NextMetadataVersion is the version written by a commit on top of the
// metadata at currentLocation.
func NextMetadataVersion(currentLocation string) int {
	return ParseMetadataVersion(currentLocation) + 1
}
