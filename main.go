package CommitCatalog

import (
	"log/slog"

	"github.com/nickyhof/CommitCatalog/catalog"
	"github.com/nickyhof/CommitCatalog/fileio"
	"github.com/nickyhof/CommitCatalog/ps"
)

// Options configure an Instance. The zero value gives an in-memory
// warehouse and the default commit author.
type Options struct {
	Catalog catalog.Config
	FileIO  fileio.Config
	Logger  *slog.Logger
}

// Instance is a catalog together with the store and file IO it runs on.
type Instance struct {
	Persistence *ps.Persistence
	IO          *fileio.Router
	Catalog     *catalog.Catalog
}

// Open builds a catalog over persistence. Unless opts sets one, loaded
// tables are returned with the FileIO client properties as their config.
func Open(persistence *ps.Persistence, opts Options) *Instance {
	io := fileio.New(opts.FileIO)

	cfg := opts.Catalog
	if cfg.TableConfig == nil {
		cfg.TableConfig = io.Properties()
	}

	return &Instance{
		Persistence: persistence,
		IO:          io,
		Catalog:     catalog.New(persistence, io, cfg, opts.Logger),
	}
}
