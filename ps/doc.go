// Package ps provides the persistence layer for CommitCatalog.
//
// Catalog state (namespace records and table bindings) lives in a Git
// repository, using go-git for storage. Every mutation is one Git commit
// on the catalog branch, which gives a full history of who changed which
// binding and when.
//
// # Memory Persistence
//
// For testing or ephemeral catalogs:
//
//	persistence, err := ps.NewMemoryPersistence()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # File Persistence
//
// For a durable catalog stored as a bare repository:
//
//	persistence, err := ps.NewFilePersistence("/path/to/catalog", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Publishing
//
// Reads go through an immutable View of one commit. Writes go through
// Apply, which opens a Batch on the current head, lets the callback
// inspect state and stage changes, and publishes them as one commit by
// compare-and-setting the branch reference:
//
//	txn, err := persistence.Apply(identity, "Create namespace db", func(b *ps.Batch) error {
//	    if _, exists, err := b.Namespace(ns); err != nil || exists {
//	        return errAlreadyExists
//	    }
//	    return b.PutNamespace(core.NamespaceRecord{Namespace: ns})
//	})
//
// Everything staged by one callback becomes visible at once or not at
// all.
package ps
