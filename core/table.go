package core

// NamespaceRecord is the persisted state of one namespace.
type NamespaceRecord struct {
	Namespace  Namespace         `json:"namespace"`
	Properties map[string]string `json:"properties"`
}

// TableBinding is the persisted binding of a table identifier to its
// current metadata location. It is the unit of optimistic concurrency.
type TableBinding struct {
	Identifier               TableIdentifier `json:"identifier"`
	MetadataLocation         string          `json:"metadata-location"`
	PreviousMetadataLocation string          `json:"previous-metadata-location,omitempty"`
}
