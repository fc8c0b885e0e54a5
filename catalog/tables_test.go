package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/fileio"
	"github.com/nickyhof/CommitCatalog/metadata"
	"github.com/nickyhof/CommitCatalog/ps"
)

func TestCreateAndLoadTable(t *testing.T) {
	c := newTestCatalog(t, Config{TableConfig: map[string]string{"s3.region": "us-east-1"}})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")

	created := mustCreateTable(t, c, ns, "events")
	if created.MetadataLocation == nil {
		t.Fatal("Expected a metadata location")
	}
	if !strings.HasPrefix(*created.MetadataLocation, "mem://warehouse/db.db/events/metadata/00000-") {
		t.Errorf("Unexpected metadata location %s", *created.MetadataLocation)
	}
	if created.Metadata.Location != "mem://warehouse/db.db/events" {
		t.Errorf("Unexpected table location %s", created.Metadata.Location)
	}

	loaded, err := c.LoadTable(ctx, created.Identifier)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if *loaded.MetadataLocation != *created.MetadataLocation {
		t.Errorf("Expected location %s, got %s", *created.MetadataLocation, *loaded.MetadataLocation)
	}
	if diff := cmp.Diff(created.Metadata, loaded.Metadata); diff != "" {
		t.Errorf("Loaded metadata mismatch (-want +got):\n%s", diff)
	}
	if loaded.Config["s3.region"] != "us-east-1" {
		t.Errorf("Expected table config to be returned, got %v", loaded.Config)
	}

	tables, err := c.ListTables(ctx, ns)
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if diff := cmp.Diff([]core.TableIdentifier{created.Identifier}, tables); diff != "" {
		t.Errorf("ListTables mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateTableLocations(t *testing.T) {
	c := newTestCatalog(t, Config{Warehouse: "s3://bucket/warehouse/"})
	ctx := testContext()

	if _, err := c.CreateNamespace(ctx, core.Namespace{"custom"}, map[string]string{PropertyLocation: "mem://elsewhere/"}); err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}
	table, err := c.CreateTable(ctx, core.Namespace{"custom"}, CreateTableRequest{Name: "t", Schema: testSchema(), StageCreate: true})
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if table.Metadata.Location != "mem://elsewhere/t" {
		t.Errorf("Expected namespace location to be used, got %s", table.Metadata.Location)
	}

	mustCreateNamespace(t, c, "plain")
	table, err = c.CreateTable(ctx, core.Namespace{"plain"}, CreateTableRequest{Name: "t", Schema: testSchema(), StageCreate: true})
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if table.Metadata.Location != "s3://bucket/warehouse/plain.db/t" {
		t.Errorf("Expected warehouse location, got %s", table.Metadata.Location)
	}

	table, err = c.CreateTable(ctx, core.Namespace{"plain"}, CreateTableRequest{Name: "u", Location: "mem://explicit/u", Schema: testSchema()})
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if !strings.HasPrefix(*table.MetadataLocation, "mem://explicit/u/metadata/") {
		t.Errorf("Expected explicit location, got %s", *table.MetadataLocation)
	}
}

func TestCreateTableConflicts(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	mustCreateTable(t, c, ns, "events")

	_, err := c.CreateTable(ctx, ns, CreateTableRequest{Name: "events", Schema: testSchema()})
	if !errors.Is(err, core.ErrTableAlreadyExists) {
		t.Errorf("Expected ErrTableAlreadyExists, got %v", err)
	}

	_, err = c.CreateTable(ctx, ns, CreateTableRequest{Name: "events", Schema: testSchema(), StageCreate: true})
	if !errors.Is(err, core.ErrTableAlreadyExists) {
		t.Errorf("Expected ErrTableAlreadyExists for a staged create, got %v", err)
	}

	_, err = c.CreateTable(ctx, core.Namespace{"missing"}, CreateTableRequest{Name: "t", Schema: testSchema()})
	if !errors.Is(err, core.ErrNoSuchNamespace) {
		t.Errorf("Expected ErrNoSuchNamespace, got %v", err)
	}
}

func TestStagedCreate(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	before := c.Persistence().LatestTransaction()

	staged, err := c.CreateTable(ctx, ns, CreateTableRequest{
		Name:        "staged",
		Schema:      testSchema(),
		Properties:  map[string]string{"owner": "etl"},
		StageCreate: true,
	})
	if err != nil {
		t.Fatalf("Staged CreateTable failed: %v", err)
	}
	if staged.MetadataLocation != nil {
		t.Errorf("Expected no metadata location for a staged table, got %s", *staged.MetadataLocation)
	}
	if staged.Metadata == nil || staged.Metadata.Properties["owner"] != "etl" {
		t.Fatalf("Expected staged metadata, got %+v", staged.Metadata)
	}
	if got := c.Persistence().LatestTransaction(); got.Id != before.Id {
		t.Errorf("Staged create must not publish a catalog commit, got %q", got.Message)
	}

	if _, err := c.LoadTable(ctx, staged.Identifier); !errors.Is(err, core.ErrNoSuchTable) {
		t.Errorf("Expected staged table to be invisible to LoadTable, got %v", err)
	}
	tables, err := c.ListTables(ctx, ns)
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("Expected staged table to be invisible to ListTables, got %v", tables)
	}

	updates, err := metadata.InitialUpdates(metadata.CreateOptions{
		Schema:     testSchema(),
		Location:   staged.Metadata.Location,
		Properties: map[string]string{"owner": "etl"},
	})
	if err != nil {
		t.Fatalf("InitialUpdates failed: %v", err)
	}
	updates = append(updates, metadata.SetProperties{Updates: map[string]string{"stage": "done"}})

	result, err := c.CommitTable(ctx, CommitRequest{
		Identifier:   staged.Identifier,
		Requirements: []metadata.Requirement{metadata.AssertCreate{}},
		Updates:      updates,
	})
	if err != nil {
		t.Fatalf("Committing the staged create failed: %v", err)
	}
	if metadata.ParseMetadataVersion(result.MetadataLocation) != 0 {
		t.Errorf("Expected the first version of the table, got %s", result.MetadataLocation)
	}

	loaded, err := c.LoadTable(ctx, staged.Identifier)
	if err != nil {
		t.Fatalf("LoadTable after commit failed: %v", err)
	}
	if loaded.Metadata.Properties["stage"] != "done" || loaded.Metadata.Properties["owner"] != "etl" {
		t.Errorf("Unexpected properties %v", loaded.Metadata.Properties)
	}

	// A second assert-create commit finds the table and loses.
	_, err = c.CommitTable(ctx, CommitRequest{
		Identifier:   staged.Identifier,
		Requirements: []metadata.Requirement{metadata.AssertCreate{}},
		Updates:      updates,
	})
	var commitErr *core.CommitFailedError
	if !errors.As(err, &commitErr) || commitErr.Requirement != metadata.KindAssertCreate {
		t.Errorf("Expected assert-create to fail, got %v", err)
	}
}

func TestRegisterTable(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	source := mustCreateTable(t, c, ns, "source")

	registered, err := c.RegisterTable(ctx, ns, "copy", *source.MetadataLocation)
	if err != nil {
		t.Fatalf("RegisterTable failed: %v", err)
	}
	if *registered.MetadataLocation != *source.MetadataLocation {
		t.Errorf("Expected registered table to point at %s, got %s", *source.MetadataLocation, *registered.MetadataLocation)
	}
	if registered.Metadata.TableUUID != source.Metadata.TableUUID {
		t.Error("Expected registered table to share the metadata")
	}

	if _, err := c.RegisterTable(ctx, ns, "copy", *source.MetadataLocation); !errors.Is(err, core.ErrTableAlreadyExists) {
		t.Errorf("Expected ErrTableAlreadyExists, got %v", err)
	}
	if _, err := c.RegisterTable(ctx, core.Namespace{"missing"}, "t", *source.MetadataLocation); !errors.Is(err, core.ErrNoSuchNamespace) {
		t.Errorf("Expected ErrNoSuchNamespace, got %v", err)
	}
	if _, err := c.RegisterTable(ctx, ns, "bad", "mem://nowhere/00000-x.metadata.json"); !errors.Is(err, core.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for unreadable metadata, got %v", err)
	}
}

func TestRegisterTableMalformedMetadata(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")

	location := "mem://warehouse/db/bad/metadata/00000-x.metadata.json"
	if err := c.io.WriteOnce(ctx, location, []byte(`{"table-uuid":"x"}`)); err != nil {
		t.Fatalf("WriteOnce failed: %v", err)
	}
	_, err := c.RegisterTable(ctx, ns, "bad", location)
	if !errors.Is(err, core.ErrInvalidRequest) || !errors.Is(err, metadata.ErrMalformedMetadata) {
		t.Errorf("Expected ErrInvalidRequest wrapping ErrMalformedMetadata, got %v", err)
	}
}

// unavailableIO fails every read the way an unreachable object store does.
type unavailableIO struct{}

var _ fileio.IO = unavailableIO{}

var errUnavailable = errors.New("connection reset by peer")

func (unavailableIO) Read(ctx context.Context, location string) ([]byte, error) {
	return nil, errUnavailable
}

func (unavailableIO) WriteOnce(ctx context.Context, location string, data []byte) error {
	return errUnavailable
}

func TestRegisterTableReadFailure(t *testing.T) {
	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create memory persistence: %v", err)
	}
	c := New(persistence, unavailableIO{}, Config{}, nil)
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")

	_, err = c.RegisterTable(ctx, ns, "t", "s3://bucket/t/metadata/00000-x.metadata.json")
	if !errors.Is(err, errUnavailable) {
		t.Errorf("Expected the read error to be kept, got %v", err)
	}
	if core.IsMalformed(err) {
		t.Errorf("A failed read is not a malformed request: %v", err)
	}
}

func TestDropTable(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	table := mustCreateTable(t, c, ns, "events")

	if err := c.DropTable(ctx, table.Identifier); err != nil {
		t.Fatalf("DropTable failed: %v", err)
	}
	if exists, _ := c.TableExists(ctx, table.Identifier); exists {
		t.Error("Expected table to be gone")
	}
	if err := c.DropTable(ctx, table.Identifier); !errors.Is(err, core.ErrNoSuchTable) {
		t.Errorf("Expected ErrNoSuchTable, got %v", err)
	}

	// Dropping removes only the binding; the name can be reused.
	mustCreateTable(t, c, ns, "events")
}

func TestListTablesMissingNamespace(t *testing.T) {
	c := newTestCatalog(t, Config{})

	if _, err := c.ListTables(testContext(), core.Namespace{"missing"}); !errors.Is(err, core.ErrNoSuchNamespace) {
		t.Errorf("Expected ErrNoSuchNamespace, got %v", err)
	}
}
