package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nickyhof/CommitCatalog/catalog"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/metrics"
)

const maxRequestBody = 16 << 20

// decode reads a JSON request body into v, writing a 400 when it cannot.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) listNamespaces(w http.ResponseWriter, r *http.Request) {
	parent, err := splitParent(r.URL.Query().Get("parent"))
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}

	namespaces, err := s.catalog.ListNamespaces(r.Context(), parent)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	if namespaces == nil {
		namespaces = []core.Namespace{}
	}
	writeJSON(w, http.StatusOK, ListNamespacesResponse{Namespaces: namespaces})
}

func (s *Server) createNamespace(w http.ResponseWriter, r *http.Request) {
	var req NamespaceRequest
	if !decode(w, r, &req) {
		return
	}

	rec, err := s.catalog.CreateNamespace(r.Context(), req.Namespace, req.Properties)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, namespaceResponse(rec))
}

func (s *Server) loadNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}

	rec, err := s.catalog.LoadNamespaceProperties(r.Context(), ns)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, namespaceResponse(rec))
}

func (s *Server) namespaceExists(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}

	exists, err := s.catalog.NamespaceExists(r.Context(), ns)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) dropNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}

	if err := s.catalog.DropNamespace(r.Context(), ns); err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateProperties(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	var req UpdatePropertiesRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := s.catalog.UpdateNamespaceProperties(r.Context(), ns, req.Removals, req.Updates)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdatePropertiesResponse{
		Updated: nonNil(result.Updated),
		Removed: nonNil(result.Removed),
		Missing: result.Missing,
	})
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}

	ids, err := s.catalog.ListTables(r.Context(), ns)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	if ids == nil {
		ids = []core.TableIdentifier{}
	}
	writeJSON(w, http.StatusOK, ListTablesResponse{Identifiers: ids})
}

func (s *Server) createTable(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	var req CreateTableRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Schema == nil {
		writeBadRequest(w, "create table requires a schema")
		return
	}

	table, err := s.catalog.CreateTable(r.Context(), ns, catalog.CreateTableRequest{
		Name:        req.Name,
		Location:    req.Location,
		Schema:      *req.Schema,
		Spec:        req.Spec,
		WriteOrder:  req.WriteOrder,
		Properties:  req.Properties,
		StageCreate: req.StageCreate,
	})
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loadTableResult(table))
}

func (s *Server) registerTable(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	var req RegisterTableRequest
	if !decode(w, r, &req) {
		return
	}
	if req.MetadataLocation == "" {
		writeBadRequest(w, "register table requires a metadata-location")
		return
	}

	table, err := s.catalog.RegisterTable(r.Context(), ns, req.Name, req.MetadataLocation)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loadTableResult(table))
}

func (s *Server) loadTable(w http.ResponseWriter, r *http.Request) {
	id, err := tableParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}

	table, err := s.catalog.LoadTable(r.Context(), id)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loadTableResult(table))
}

func (s *Server) tableExists(w http.ResponseWriter, r *http.Request) {
	id, err := tableParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}

	exists, err := s.catalog.TableExists(r.Context(), id)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) commitTable(w http.ResponseWriter, r *http.Request) {
	id, err := tableParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	var req CommitTableRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Identifier != nil && !req.Identifier.Equal(id) {
		writeBadRequest(w, fmt.Sprintf("commit identifier %s does not match path %s", req.Identifier, id))
		return
	}

	result, err := s.catalog.CommitTable(r.Context(), req.toCommit(id))
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CommitTableResponse{
		MetadataLocation: result.MetadataLocation,
		Metadata:         result.Metadata,
	})
}

func (s *Server) dropTable(w http.ResponseWriter, r *http.Request) {
	id, err := tableParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}

	if err := s.catalog.DropTable(r.Context(), id); err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// reportMetrics accepts and discards a client scan or commit report.
func (s *Server) reportMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := tableParam(r)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	var report json.RawMessage
	if !decode(w, r, &report) {
		return
	}

	metrics.MetricsReports.Inc()
	s.logger.Warn("discarded metrics report", "table", id.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renameTable(w http.ResponseWriter, r *http.Request) {
	var req RenameTableRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.catalog.RenameTable(r.Context(), req.Source, req.Destination); err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) commitTransaction(w http.ResponseWriter, r *http.Request) {
	var req CommitTransactionRequest
	if !decode(w, r, &req) {
		return
	}

	changes := make([]catalog.CommitRequest, 0, len(req.TableChanges))
	for i, change := range req.TableChanges {
		if change.Identifier == nil {
			writeBadRequest(w, fmt.Sprintf("table change %d has no identifier", i))
			return
		}
		changes = append(changes, change.toCommit(*change.Identifier))
	}

	if err := s.catalog.CommitTransaction(r.Context(), changes); err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func namespaceResponse(rec core.NamespaceRecord) NamespaceResponse {
	props := rec.Properties
	if props == nil {
		props = map[string]string{}
	}
	return NamespaceResponse{Namespace: rec.Namespace, Properties: props}
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
