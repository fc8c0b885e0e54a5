/*
Package catalog implements the table catalog: namespaces, table bindings
and the optimistic commit protocol that moves a table from one metadata
version to the next.

A table is a binding from an identifier to the location of its current
metadata file. Metadata files are immutable and written once through a
fileio.IO; the bindings and namespace records live in a ps.Persistence,
where every change is a single git commit published with a
compare-and-set of the catalog branch.

A commit runs in two halves:

  - Outside any lock: load the binding and its metadata, validate the
    requirements, apply the updates and write the new metadata file.
  - Inside ps.Persistence.Apply: check the binding still points at the
    loaded location, then swap it to the new one.

A binding that moved in between fails the commit with core.ErrCommitFailed.
The catalog never retries a conflict itself.

Usage:

	persistence, _ := ps.NewMemoryPersistence()
	cat := catalog.New(persistence, fileio.New(fileio.Config{}), catalog.Config{}, nil)

	ctx := catalog.WithIdentity(context.Background(), core.Identity{Name: "alice", Email: "alice@example.com"})
	_, err := cat.CreateNamespace(ctx, core.Namespace{"db"}, nil)
*/
package catalog
