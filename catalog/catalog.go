package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/fileio"
	"github.com/nickyhof/CommitCatalog/metadata"
	"github.com/nickyhof/CommitCatalog/ps"
)

const (
	DefaultWarehouse         = "mem://warehouse"
	DefaultMetadataCacheSize = 1000

	// PropertyLocation on a namespace is the parent location of the
	// tables created in it.
	PropertyLocation = "location"
)

// DefaultIdentity authors catalog commits when the context carries none.
var DefaultIdentity = core.Identity{Name: "catalog", Email: "catalog@localhost"}

type Config struct {
	// Warehouse is the root location of tables created without one.
	Warehouse string
	// RequireParentNamespace makes CreateNamespace fail with
	// core.ErrNoSuchNamespace when the parent of a nested namespace has
	// not been created. Off by default: namespace names are flat.
	RequireParentNamespace bool
	// Identity is the fallback commit author.
	Identity core.Identity
	// TableConfig is returned with every loaded table, for the clients
	// reading its files.
	TableConfig map[string]string
	// MetadataCacheSize bounds the number of parsed metadata files kept.
	MetadataCacheSize int
}

// Catalog is safe for concurrent use.
type Catalog struct {
	persistence *ps.Persistence
	io          fileio.IO
	cfg         Config
	logger      *slog.Logger

	// cache maps a metadata location to its parsed, immutable contents.
	cache *lru.Cache[string, *metadata.TableMetadata]
	loads singleflight.Group
}

// New returns a catalog over persistence, reading and writing metadata
// files through io. A nil logger logs to slog.Default().
func New(persistence *ps.Persistence, io fileio.IO, cfg Config, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Warehouse == "" {
		cfg.Warehouse = DefaultWarehouse
	}
	if cfg.Identity.IsZero() {
		cfg.Identity = DefaultIdentity
	}
	if cfg.MetadataCacheSize <= 0 {
		cfg.MetadataCacheSize = DefaultMetadataCacheSize
	}

	cache, err := lru.New[string, *metadata.TableMetadata](cfg.MetadataCacheSize)
	if err != nil {
		// Only a non-positive size fails, which was ruled out above.
		panic(err)
	}

	return &Catalog{
		persistence: persistence,
		io:          io,
		cfg:         cfg,
		logger:      logger,
		cache:       cache,
	}
}

// Persistence returns the store holding the catalog's bindings.
func (c *Catalog) Persistence() *ps.Persistence {
	return c.persistence
}

// Reset publishes an empty catalog as the caller's identity. Earlier states
// stay reachable through the store's history.
func (c *Catalog) Reset(ctx context.Context) (ps.Transaction, error) {
	txn, err := c.persistence.Reset(c.identity(ctx))
	if err != nil {
		return ps.Transaction{}, err
	}
	c.logger.Debug("catalog reset", "txn", txn.Id)
	return txn, nil
}

type identityKey struct{}

// WithIdentity returns a context whose catalog commits are authored by identity.
func WithIdentity(ctx context.Context, identity core.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (core.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(core.Identity)
	return identity, ok && !identity.IsZero()
}

func (c *Catalog) identity(ctx context.Context) core.Identity {
	if identity, ok := IdentityFrom(ctx); ok {
		return identity
	}
	return c.cfg.Identity
}

// loadMetadata reads and parses the metadata file at location. Concurrent
// loads of one location share a single read, which is not canceled with
// the caller that started it.
func (c *Catalog) loadMetadata(ctx context.Context, location string) (*metadata.TableMetadata, error) {
	if md, ok := c.cache.Get(location); ok {
		return md, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.loads.DoChan(location, func() (any, error) {
		data, err := c.io.Read(shared, location)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata %s: %w", location, err)
		}
		md, err := metadata.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse metadata %s: %w", location, err)
		}
		c.cache.Add(location, md)
		return md, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*metadata.TableMetadata), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeMetadata writes md to a fresh location and primes the cache with it.
func (c *Catalog) writeMetadata(ctx context.Context, location string, md *metadata.TableMetadata) error {
	data, err := metadata.Marshal(md)
	if err != nil {
		return err
	}
	if err := c.io.WriteOnce(ctx, location, data); err != nil {
		return fmt.Errorf("failed to write metadata %s: %w", location, err)
	}
	c.cache.Add(location, md)
	return nil
}

// defaultLocation is where a table goes when the create request names no
// location: under the namespace's location property, or the warehouse.
func (c *Catalog) defaultLocation(ns core.NamespaceRecord, name string) string {
	if loc := strings.TrimSuffix(ns.Properties[PropertyLocation], "/"); loc != "" {
		return loc + "/" + name
	}
	return strings.TrimSuffix(c.cfg.Warehouse, "/") + "/" + ns.Namespace.String() + ".db/" + name
}

func (c *Catalog) tableConfig() map[string]string {
	config := make(map[string]string, len(c.cfg.TableConfig))
	for k, v := range c.cfg.TableConfig {
		config[k] = v
	}
	return config
}
