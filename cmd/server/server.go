package main

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nickyhof/CommitCatalog/catalog"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/ps"
)

// ServerConfig configures the REST surface in front of a catalog.
type ServerConfig struct {
	// Prefix, if set, additionally mounts the catalog under /v1/{prefix}
	// and is advertised to clients by /v1/config.
	Prefix string
	Auth   AuthConfig
	// AllowReset exposes GET /reset, which empties the catalog.
	AllowReset bool
	// Defaults are returned as client defaults by /v1/config.
	Defaults map[string]string
}

// Server serves the Iceberg REST catalog API.
type Server struct {
	catalog *catalog.Catalog
	cfg     ServerConfig
	auth    AuthConfig
	logger  *slog.Logger
}

// NewServer returns a server for cat. A nil logger logs to slog.Default().
func NewServer(cat *catalog.Catalog, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		catalog: cat,
		cfg:     cfg,
		auth:    cfg.Auth,
		logger:  logger,
	}
}

// Handler returns the chi router with every route mounted.
//
//	GET    /v1/config
//	GET    /v1/namespaces                                  list namespaces
//	POST   /v1/namespaces                                  create namespace
//	GET    /v1/namespaces/{namespace}                      load properties
//	HEAD   /v1/namespaces/{namespace}                      namespace exists
//	DELETE /v1/namespaces/{namespace}                      drop namespace
//	POST   /v1/namespaces/{namespace}/properties           update properties
//	GET    /v1/namespaces/{namespace}/tables               list tables
//	POST   /v1/namespaces/{namespace}/tables               create table
//	POST   /v1/namespaces/{namespace}/register             register table
//	GET    /v1/namespaces/{namespace}/tables/{table}       load table
//	HEAD   /v1/namespaces/{namespace}/tables/{table}       table exists
//	POST   /v1/namespaces/{namespace}/tables/{table}       commit table
//	DELETE /v1/namespaces/{namespace}/tables/{table}       drop table
//	POST   /v1/namespaces/{namespace}/tables/{table}/metrics
//	POST   /v1/tables/rename
//	POST   /v1/transactions/commit
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", health)
	r.Handle("/metrics", promhttp.Handler())
	if s.cfg.AllowReset {
		r.Get("/reset", s.reset)
	}

	r.Route("/v1", func(r chi.Router) {
		if s.auth.Enabled() {
			r.Use(s.authenticate)
		}
		r.Get("/config", s.getConfig)
		s.mountCatalog(r)
		if s.cfg.Prefix != "" {
			r.Route("/"+s.cfg.Prefix, s.mountCatalog)
		}
	})

	return r
}

func (s *Server) mountCatalog(r chi.Router) {
	r.Get("/namespaces", s.listNamespaces)
	r.Post("/namespaces", s.createNamespace)
	r.Get("/namespaces/{namespace}", s.loadNamespace)
	r.Head("/namespaces/{namespace}", s.namespaceExists)
	r.Delete("/namespaces/{namespace}", s.dropNamespace)
	r.Post("/namespaces/{namespace}/properties", s.updateProperties)

	r.Get("/namespaces/{namespace}/tables", s.listTables)
	r.Post("/namespaces/{namespace}/tables", s.createTable)
	r.Post("/namespaces/{namespace}/register", s.registerTable)
	r.Get("/namespaces/{namespace}/tables/{table}", s.loadTable)
	r.Head("/namespaces/{namespace}/tables/{table}", s.tableExists)
	r.Post("/namespaces/{namespace}/tables/{table}", s.commitTable)
	r.Delete("/namespaces/{namespace}/tables/{table}", s.dropTable)
	r.Post("/namespaces/{namespace}/tables/{table}/metrics", s.reportMetrics)

	r.Post("/tables/rename", s.renameTable)
	r.Post("/transactions/commit", s.commitTransaction)
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	txn, err := s.catalog.Reset(r.Context())
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	s.logger.Info("catalog reset", "txn", txn.Id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "txn": txn.Id})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	defaults := s.cfg.Defaults
	if defaults == nil {
		defaults = map[string]string{}
	}
	overrides := map[string]string{}
	if s.cfg.Prefix != "" {
		overrides["prefix"] = s.cfg.Prefix
	}
	writeJSON(w, http.StatusOK, ConfigResponse{Defaults: defaults, Overrides: overrides})
}

// pathParam returns a decoded path parameter. chi matches against the raw
// path whenever the request escaped a character it did not have to.
func pathParam(r *http.Request, name string) (string, error) {
	value := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return value, nil
	}
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return "", errors.Join(core.ErrMalformedIdentifier, err)
	}
	return decoded, nil
}

func namespaceParam(r *http.Request) (core.Namespace, error) {
	raw, err := pathParam(r, "namespace")
	if err != nil {
		return nil, err
	}
	ns, err := core.ParseNamespace(raw)
	if err != nil {
		return nil, err
	}
	if ns.IsRoot() {
		return nil, core.ErrMalformedIdentifier
	}
	return ns, nil
}

func tableParam(r *http.Request) (core.TableIdentifier, error) {
	ns, err := namespaceParam(r)
	if err != nil {
		return core.TableIdentifier{}, err
	}
	name, err := pathParam(r, "table")
	if err != nil {
		return core.TableIdentifier{}, err
	}
	id := core.NewTableIdentifier(ns, name)
	if err := id.Validate(); err != nil {
		return core.TableIdentifier{}, err
	}
	return id, nil
}

// errorType maps a catalog error to its HTTP status and Iceberg error type.
func errorType(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNoSuchNamespace):
		return http.StatusNotFound, "NoSuchNamespaceException"
	case errors.Is(err, core.ErrNoSuchTable):
		return http.StatusNotFound, "NoSuchTableException"
	case errors.Is(err, core.ErrNamespaceNotEmpty):
		return http.StatusConflict, "NamespaceNotEmptyException"
	case errors.Is(err, core.ErrNamespaceAlreadyExists), errors.Is(err, core.ErrTableAlreadyExists):
		return http.StatusConflict, "AlreadyExistsException"
	case errors.Is(err, core.ErrCommitFailed):
		return http.StatusConflict, "CommitFailedException"
	case core.IsMalformed(err):
		return http.StatusBadRequest, "BadRequestException"
	case errors.Is(err, ps.ErrHeadContended):
		return http.StatusServiceUnavailable, "ServiceUnavailableException"
	default:
		return http.StatusInternalServerError, "InternalServerError"
	}
}

func (s *Server) writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	status, typ := errorType(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	writeError(w, status, typ, err.Error())
}

func writeError(w http.ResponseWriter, status int, typ, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorModel{Message: message, Type: typ, Code: status}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "BadRequestException", message)
}

// splitParent decodes the parent query parameter of list namespaces. Both
// the unit separator and its escaped form are accepted.
func splitParent(value string) (core.Namespace, error) {
	if strings.Contains(value, "%1F") || strings.Contains(value, "%1f") {
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return nil, errors.Join(core.ErrMalformedIdentifier, err)
		}
		value = decoded
	}
	return core.ParseNamespace(value)
}
