// Package core provides core types used throughout CommitCatalog.
//
// The package defines the identifier model (Namespace, TableIdentifier),
// the records the catalog persists for them, the Identity used as the
// author of catalog commits, and the error taxonomy shared by every layer.
//
// # Identity
//
// Identity identifies the author of catalog changes (Git commit author):
//
//	identity := core.Identity{
//	    Name:  "John Doe",
//	    Email: "john@example.com",
//	}
//
// # Identifiers
//
// Namespaces are ordered sequences of non-empty parts. On the wire the
// parts are joined with the unit separator byte (0x1F) so that a part may
// contain dots or any other printable character:
//
//	ns, err := core.ParseNamespace("accounting\x1ftax")
//	// ns == core.Namespace{"accounting", "tax"}
//
//	id := core.NewTableIdentifier(ns, "paid")
//	fmt.Println(id) // accounting.tax.paid
//
// # Errors
//
// Operations report the sentinel errors in errors.go, wrapped with
// context. Match them with errors.Is:
//
//	if errors.Is(err, core.ErrCommitFailed) {
//	    // reload and retry
//	}
package core
