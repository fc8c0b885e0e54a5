// Package CommitCatalog provides an Iceberg catalog whose state lives in a
// Git repository.
//
// Every namespace and table change is one Git commit on a single branch,
// published with a compare-and-swap on the branch reference. Table
// metadata files are written once to the warehouse and a commit only moves
// a table's pointer from one metadata file to the next, so concurrent
// writers either win cleanly or fail with a retryable conflict.
//
// # Quick Start
//
//	persistence, _ := ps.NewMemoryPersistence()
//	instance := CommitCatalog.Open(persistence, CommitCatalog.Options{})
//
//	ctx := catalog.WithIdentity(context.Background(), core.Identity{Name: "App", Email: "app@example.com"})
//	instance.Catalog.CreateNamespace(ctx, core.Namespace{"db"}, nil)
//	table, _ := instance.Catalog.CreateTable(ctx, core.Namespace{"db"}, catalog.CreateTableRequest{
//		Name:   "events",
//		Schema: schema,
//	})
//
// # Supported operations
//
//   - namespaces: create, list, load and update properties, drop
//   - tables: create (optionally staged), register, load, commit, drop
//   - rename across namespaces
//   - multi-table transactions that publish atomically
//
// The catalog history doubles as an audit log: every commit records who
// made the change, and any past state can be tagged or restored.
package CommitCatalog
