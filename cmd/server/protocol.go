package main

import (
	"encoding/json"
	"net/http"

	"github.com/nickyhof/CommitCatalog/catalog"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/metadata"
)

// ConfigResponse is returned by GET /v1/config.
type ConfigResponse struct {
	Defaults  map[string]string `json:"defaults"`
	Overrides map[string]string `json:"overrides"`
}

type NamespaceRequest struct {
	Namespace  core.Namespace    `json:"namespace"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NamespaceResponse is returned by create and load namespace.
type NamespaceResponse struct {
	Namespace  core.Namespace    `json:"namespace"`
	Properties map[string]string `json:"properties"`
}

type ListNamespacesResponse struct {
	Namespaces []core.Namespace `json:"namespaces"`
}

type UpdatePropertiesRequest struct {
	Removals []string          `json:"removals,omitempty"`
	Updates  map[string]string `json:"updates,omitempty"`
}

type UpdatePropertiesResponse struct {
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
	Missing []string `json:"missing,omitempty"`
}

type ListTablesResponse struct {
	Identifiers []core.TableIdentifier `json:"identifiers"`
}

type CreateTableRequest struct {
	Name        string                  `json:"name"`
	Location    string                  `json:"location,omitempty"`
	Schema      *metadata.Schema        `json:"schema"`
	Spec        *metadata.PartitionSpec `json:"partition-spec,omitempty"`
	WriteOrder  *metadata.SortOrder     `json:"write-order,omitempty"`
	StageCreate bool                    `json:"stage-create,omitempty"`
	Properties  map[string]string       `json:"properties,omitempty"`
}

type RegisterTableRequest struct {
	Name             string `json:"name"`
	MetadataLocation string `json:"metadata-location"`
}

// LoadTableResult is returned by create, register and load table. The
// metadata location is absent for a staged create.
type LoadTableResult struct {
	MetadataLocation *string                 `json:"metadata-location,omitempty"`
	Metadata         *metadata.TableMetadata `json:"metadata"`
	Config           map[string]string       `json:"config,omitempty"`
}

type CommitTableRequest struct {
	Identifier   *core.TableIdentifier `json:"identifier,omitempty"`
	Requirements metadata.Requirements `json:"requirements"`
	Updates      metadata.Updates      `json:"updates"`
}

type CommitTableResponse struct {
	MetadataLocation string                  `json:"metadata-location"`
	Metadata         *metadata.TableMetadata `json:"metadata"`
}

type CommitTransactionRequest struct {
	TableChanges []CommitTableRequest `json:"table-changes"`
}

type RenameTableRequest struct {
	Source      core.TableIdentifier `json:"source"`
	Destination core.TableIdentifier `json:"destination"`
}

// ErrorModel is the body of every error response.
type ErrorModel struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type ErrorResponse struct {
	Error ErrorModel `json:"error"`
}

func loadTableResult(table catalog.Table) LoadTableResult {
	return LoadTableResult{
		MetadataLocation: table.MetadataLocation,
		Metadata:         table.Metadata,
		Config:           table.Config,
	}
}

func (req CommitTableRequest) toCommit(id core.TableIdentifier) catalog.CommitRequest {
	return catalog.CommitRequest{
		Identifier:   id,
		Requirements: req.Requirements,
		Updates:      req.Updates,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
