package CommitCatalog

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nickyhof/CommitCatalog/catalog"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/metadata"
	"github.com/nickyhof/CommitCatalog/ps"
)

var testIdentity = core.Identity{Name: "test", Email: "test@test.com"}

// TestFunc is the signature for test functions that work with any persistence
type TestFunc func(t *testing.T, instance *Instance)

// runWithBothPersistence runs a test function with both memory and file persistence
func runWithBothPersistence(t *testing.T, testFunc TestFunc) {
	t.Run("Memory", func(t *testing.T) {
		persistence, err := ps.NewMemoryPersistence()
		if err != nil {
			t.Fatalf("Failed to initialize memory persistence: %v", err)
		}
		testFunc(t, Open(persistence, Options{}))
	})

	t.Run("File", func(t *testing.T) {
		dir := t.TempDir()
		persistence, err := ps.NewFilePersistence(filepath.Join(dir, "catalog"), nil)
		if err != nil {
			t.Fatalf("Failed to initialize file persistence: %v", err)
		}
		testFunc(t, Open(persistence, Options{
			Catalog: catalog.Config{Warehouse: filepath.Join(dir, "warehouse")},
		}))
	})
}

func testContext() context.Context {
	return catalog.WithIdentity(context.Background(), testIdentity)
}

func testSchema() metadata.Schema {
	return metadata.Schema{
		Fields: []metadata.Field{
			{ID: 1, Name: "id", Required: true, Type: json.RawMessage(`"long"`)},
			{ID: 2, Name: "ts", Type: json.RawMessage(`"timestamptz"`)},
		},
	}
}

// TestIntegrationWorkflow tests a complete catalog workflow
func TestIntegrationWorkflow(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, instance *Instance) {
		ctx := testContext()
		cat := instance.Catalog

		for _, ns := range []core.Namespace{{"sales"}, {"sales", "eu"}, {"archive"}} {
			if _, err := cat.CreateNamespace(ctx, ns, map[string]string{"owner": "team"}); err != nil {
				t.Fatalf("CreateNamespace(%s) failed: %v", ns, err)
			}
		}

		eu := core.Namespace{"sales", "eu"}
		orders, err := cat.CreateTable(ctx, eu, catalog.CreateTableRequest{Name: "orders", Schema: testSchema()})
		if err != nil {
			t.Fatalf("CreateTable failed: %v", err)
		}
		id := orders.Identifier

		// A chain of commits, each asserting the state it was built on.
		location := *orders.MetadataLocation
		for i, key := range []string{"a", "b", "c"} {
			loaded, err := cat.LoadTable(ctx, id)
			if err != nil {
				t.Fatalf("LoadTable failed: %v", err)
			}
			result, err := cat.CommitTable(ctx, catalog.CommitRequest{
				Identifier:   id,
				Requirements: []metadata.Requirement{metadata.AssertTableUUID{UUID: loaded.Metadata.TableUUID}},
				Updates:      []metadata.Update{metadata.SetProperties{Updates: map[string]string{key: "1"}}},
			})
			if err != nil {
				t.Fatalf("CommitTable %d failed: %v", i, err)
			}
			if v := metadata.ParseMetadataVersion(result.MetadataLocation); v != i+1 {
				t.Errorf("Expected version %d, got %d", i+1, v)
			}
			if len(result.Metadata.MetadataLog) == 0 ||
				result.Metadata.MetadataLog[len(result.Metadata.MetadataLog)-1].MetadataFile != location {
				t.Errorf("Expected %s to be the last metadata-log entry", location)
			}
			location = result.MetadataLocation
		}

		// A commit prepared against an old version is rejected.
		_, err = cat.CommitTable(ctx, catalog.CommitRequest{
			Identifier:   id,
			Requirements: []metadata.Requirement{metadata.AssertTableUUID{UUID: "not-the-uuid"}},
			Updates:      []metadata.Update{metadata.SetProperties{Updates: map[string]string{"stale": "1"}}},
		})
		if !errors.Is(err, core.ErrCommitFailed) {
			t.Fatalf("Expected a commit failure, got %v", err)
		}

		archived := core.NewTableIdentifier(core.Namespace{"archive"}, "orders_2024")
		if err := cat.RenameTable(ctx, id, archived); err != nil {
			t.Fatalf("RenameTable failed: %v", err)
		}
		if _, err := cat.LoadTable(ctx, id); !errors.Is(err, core.ErrNoSuchTable) {
			t.Errorf("Expected the old name to be gone, got %v", err)
		}
		renamed, err := cat.LoadTable(ctx, archived)
		if err != nil {
			t.Fatalf("LoadTable after rename failed: %v", err)
		}
		if *renamed.MetadataLocation != location {
			t.Errorf("Expected rename to keep %s, got %s", location, *renamed.MetadataLocation)
		}

		if err := cat.DropNamespace(ctx, eu); err != nil {
			t.Fatalf("DropNamespace failed: %v", err)
		}
		namespaces, err := cat.ListNamespaces(ctx, core.Namespace{"sales"})
		if err != nil {
			t.Fatalf("ListNamespaces failed: %v", err)
		}
		if len(namespaces) != 0 {
			t.Errorf("Expected no children of sales, got %v", namespaces)
		}

		// Every mutation is one commit by the caller.
		history, err := instance.Persistence.TransactionsFrom(instance.Persistence.LatestTransaction().Id)
		if err != nil {
			t.Fatalf("TransactionsFrom failed: %v", err)
		}
		// init + 3 namespaces + create + 3 commits + rename + drop
		if len(history) != 10 {
			t.Errorf("Expected 10 commits, got %d", len(history))
		}
		for _, txn := range history[:len(history)-1] {
			if txn.Author != testIdentity.String() {
				t.Errorf("Expected %s to be authored by %s, got %s", txn.Id, testIdentity, txn.Author)
			}
		}
	})
}

// TestIntegrationTransaction commits two tables atomically and checks that a
// failing change leaves both untouched.
func TestIntegrationTransaction(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, instance *Instance) {
		ctx := testContext()
		cat := instance.Catalog

		ns := core.Namespace{"db"}
		if _, err := cat.CreateNamespace(ctx, ns, nil); err != nil {
			t.Fatalf("CreateNamespace failed: %v", err)
		}
		var ids []core.TableIdentifier
		for _, name := range []string{"left", "right"} {
			table, err := cat.CreateTable(ctx, ns, catalog.CreateTableRequest{Name: name, Schema: testSchema()})
			if err != nil {
				t.Fatalf("CreateTable(%s) failed: %v", name, err)
			}
			ids = append(ids, table.Identifier)
		}

		change := func(id core.TableIdentifier, reqs ...metadata.Requirement) catalog.CommitRequest {
			return catalog.CommitRequest{
				Identifier:   id,
				Requirements: reqs,
				Updates:      []metadata.Update{metadata.SetProperties{Updates: map[string]string{"run": "1"}}},
			}
		}

		err := cat.CommitTransaction(ctx, []catalog.CommitRequest{
			change(ids[0]),
			change(ids[1], metadata.AssertTableUUID{UUID: "wrong"}),
		})
		if !errors.Is(err, core.ErrCommitFailed) {
			t.Fatalf("Expected the transaction to fail, got %v", err)
		}
		for _, id := range ids {
			table, err := cat.LoadTable(ctx, id)
			if err != nil {
				t.Fatalf("LoadTable failed: %v", err)
			}
			if _, ok := table.Metadata.Properties["run"]; ok {
				t.Errorf("Expected %s to be untouched by the failed transaction", id)
			}
		}

		if err := cat.CommitTransaction(ctx, []catalog.CommitRequest{change(ids[0]), change(ids[1])}); err != nil {
			t.Fatalf("CommitTransaction failed: %v", err)
		}
		for _, id := range ids {
			table, err := cat.LoadTable(ctx, id)
			if err != nil {
				t.Fatalf("LoadTable failed: %v", err)
			}
			if table.Metadata.Properties["run"] != "1" {
				t.Errorf("Expected %s to carry the transaction's update", id)
			}
		}
	})
}

// TestIntegrationRestore restores the catalog to an earlier commit.
func TestIntegrationRestore(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, instance *Instance) {
		ctx := testContext()
		cat := instance.Catalog

		if _, err := cat.CreateNamespace(ctx, core.Namespace{"keep"}, nil); err != nil {
			t.Fatalf("CreateNamespace failed: %v", err)
		}
		checkpoint := instance.Persistence.LatestTransaction()
		if _, err := cat.CreateNamespace(ctx, core.Namespace{"discard"}, nil); err != nil {
			t.Fatalf("CreateNamespace failed: %v", err)
		}

		if _, err := instance.Persistence.Restore(checkpoint, testIdentity); err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		namespaces, err := cat.ListNamespaces(ctx, nil)
		if err != nil {
			t.Fatalf("ListNamespaces failed: %v", err)
		}
		if diff := cmp.Diff([]core.Namespace{{"keep"}}, namespaces); diff != "" {
			t.Errorf("Namespaces after restore mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestFilePersistenceReopen(t *testing.T) {
	dir := t.TempDir()
	repoDir := filepath.Join(dir, "catalog")
	opts := Options{Catalog: catalog.Config{Warehouse: filepath.Join(dir, "warehouse")}}
	ctx := testContext()

	persistence, err := ps.NewFilePersistence(repoDir, nil)
	if err != nil {
		t.Fatalf("Failed to initialize file persistence: %v", err)
	}
	first := Open(persistence, opts)
	if _, err := first.Catalog.CreateNamespace(ctx, core.Namespace{"db"}, nil); err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}
	created, err := first.Catalog.CreateTable(ctx, core.Namespace{"db"}, catalog.CreateTableRequest{
		Name:   "events",
		Schema: testSchema(),
	})
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	persistence, err = ps.NewFilePersistence(repoDir, nil)
	if err != nil {
		t.Fatalf("Failed to reopen file persistence: %v", err)
	}
	second := Open(persistence, opts)
	loaded, err := second.Catalog.LoadTable(ctx, created.Identifier)
	if err != nil {
		t.Fatalf("LoadTable after reopen failed: %v", err)
	}
	if *loaded.MetadataLocation != *created.MetadataLocation {
		t.Errorf("Expected %s, got %s", *created.MetadataLocation, *loaded.MetadataLocation)
	}
	if loaded.Metadata.TableUUID != created.Metadata.TableUUID {
		t.Errorf("Expected table uuid %s, got %s", created.Metadata.TableUUID, loaded.Metadata.TableUUID)
	}
}
