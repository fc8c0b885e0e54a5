package catalog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/metadata"
	"github.com/nickyhof/CommitCatalog/ps"
)

func TestCommitTransaction(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	t1 := mustCreateTable(t, c, ns, "t1")
	t2 := mustCreateTable(t, c, ns, "t2")
	before, err := c.Persistence().TransactionsFrom(c.Persistence().LatestTransaction().Id)
	if err != nil {
		t.Fatalf("TransactionsFrom failed: %v", err)
	}

	err = c.CommitTransaction(ctx, []CommitRequest{
		appendSnapshot(t1.Identifier, nil, 1, 1),
		appendSnapshot(t2.Identifier, nil, 2, 1),
	})
	if err != nil {
		t.Fatalf("CommitTransaction failed: %v", err)
	}

	for _, id := range []core.TableIdentifier{t1.Identifier, t2.Identifier} {
		loaded, err := c.LoadTable(ctx, id)
		if err != nil {
			t.Fatalf("LoadTable(%s) failed: %v", id, err)
		}
		if loaded.Metadata.CurrentSnapshotID == nil {
			t.Errorf("Expected %s to have a current snapshot", id)
		}
		if v := metadata.ParseMetadataVersion(*loaded.MetadataLocation); v != 1 {
			t.Errorf("Expected %s at version 1, got %d", id, v)
		}
	}

	after, err := c.Persistence().TransactionsFrom(c.Persistence().LatestTransaction().Id)
	if err != nil {
		t.Fatalf("TransactionsFrom failed: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Errorf("Expected both tables to publish in one catalog commit, got %d commits", len(after)-len(before))
	}
}

func TestCommitTransactionAllOrNothing(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	t1 := mustCreateTable(t, c, ns, "t1")
	t2 := mustCreateTable(t, c, ns, "t2")

	bad := appendSnapshot(t2.Identifier, int64p(99), 2, 1)
	err := c.CommitTransaction(ctx, []CommitRequest{
		appendSnapshot(t1.Identifier, nil, 1, 1),
		bad,
	})
	var commitErr *core.CommitFailedError
	if !errors.As(err, &commitErr) {
		t.Fatalf("Expected a *core.CommitFailedError, got %v", err)
	}
	if !commitErr.Table.Equal(t2.Identifier) {
		t.Errorf("Expected the failure to name %s, got %s", t2.Identifier, commitErr.Table)
	}

	for _, table := range []Table{t1, t2} {
		loaded, err := c.LoadTable(ctx, table.Identifier)
		if err != nil {
			t.Fatalf("LoadTable failed: %v", err)
		}
		if *loaded.MetadataLocation != *table.MetadataLocation {
			t.Errorf("Expected %s to be unchanged, got %s", table.Identifier, *loaded.MetadataLocation)
		}
	}
}

func TestCommitTransactionWithStagedCreate(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	existing := mustCreateTable(t, c, ns, "existing")

	staged, err := c.CreateTable(ctx, ns, CreateTableRequest{Name: "ctas", Schema: testSchema(), StageCreate: true})
	if err != nil {
		t.Fatalf("Staged CreateTable failed: %v", err)
	}
	updates, err := metadata.InitialUpdates(metadata.CreateOptions{Schema: testSchema(), Location: staged.Metadata.Location})
	if err != nil {
		t.Fatalf("InitialUpdates failed: %v", err)
	}

	err = c.CommitTransaction(ctx, []CommitRequest{
		{
			Identifier:   staged.Identifier,
			Requirements: []metadata.Requirement{metadata.AssertCreate{}},
			Updates:      updates,
		},
		{
			Identifier: existing.Identifier,
			Updates:    []metadata.Update{metadata.SetProperties{Updates: map[string]string{"source-of": "ctas"}}},
		},
	})
	if err != nil {
		t.Fatalf("CommitTransaction failed: %v", err)
	}

	if _, err := c.LoadTable(ctx, staged.Identifier); err != nil {
		t.Errorf("Expected the staged table to be published, got %v", err)
	}
}

func TestCommitTransactionInvalid(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	table := mustCreateTable(t, c, ns, "t1")

	if err := c.CommitTransaction(ctx, nil); !errors.Is(err, core.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for an empty transaction, got %v", err)
	}

	err := c.CommitTransaction(ctx, []CommitRequest{
		appendSnapshot(table.Identifier, nil, 1, 1),
		appendSnapshot(table.Identifier, nil, 2, 1),
	})
	if !errors.Is(err, core.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for a repeated table, got %v", err)
	}

	err = c.CommitTransaction(ctx, []CommitRequest{
		appendSnapshot(core.NewTableIdentifier(ns, "missing"), nil, 1, 1),
	})
	if !errors.Is(err, core.ErrNoSuchTable) {
		t.Errorf("Expected ErrNoSuchTable, got %v", err)
	}
}

// A table that moves after the transaction loaded it fails the whole batch.
func TestCommitTransactionLosesRace(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	t1 := mustCreateTable(t, c, ns, "t1")
	t2 := mustCreateTable(t, c, ns, "t2")

	view, err := c.Persistence().Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	p1, err := c.prepare(ctx, view, appendSnapshot(t1.Identifier, nil, 1, 1))
	if err != nil {
		t.Fatalf("prepare t1 failed: %v", err)
	}
	p2, err := c.prepare(ctx, view, appendSnapshot(t2.Identifier, nil, 2, 1))
	if err != nil {
		t.Fatalf("prepare t2 failed: %v", err)
	}

	if _, err := c.CommitTable(ctx, appendSnapshot(t2.Identifier, nil, 3, 1)); err != nil {
		t.Fatalf("Interleaved commit failed: %v", err)
	}

	_, err = c.Persistence().Apply(testIdentity, "transaction", func(b *ps.Batch) error {
		for _, p := range []*pendingCommit{p1, p2} {
			if err := p.publish(b); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, core.ErrCommitFailed) {
		t.Fatalf("Expected ErrCommitFailed, got %v", err)
	}

	loaded, err := c.LoadTable(ctx, t1.Identifier)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if *loaded.MetadataLocation != *t1.MetadataLocation {
		t.Errorf("Expected t1 to be unchanged, got %s", *loaded.MetadataLocation)
	}
}

// A change that only asserts requirements still guards the batch: when its
// table moves before publish, nothing is published.
func TestCommitTransactionRequirementOnlyLosesRace(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	t1 := mustCreateTable(t, c, ns, "t1")
	t2 := mustCreateTable(t, c, ns, "t2")

	view, err := c.Persistence().Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	p1, err := c.prepare(ctx, view, CommitRequest{
		Identifier:   t1.Identifier,
		Requirements: []metadata.Requirement{metadata.AssertRefSnapshotID{Ref: metadata.MainBranch}},
	})
	if err != nil {
		t.Fatalf("prepare t1 failed: %v", err)
	}
	if !p1.noop {
		t.Fatal("Expected a requirement-only change to stage no metadata")
	}
	p2, err := c.prepare(ctx, view, appendSnapshot(t2.Identifier, nil, 2, 1))
	if err != nil {
		t.Fatalf("prepare t2 failed: %v", err)
	}

	if _, err := c.CommitTable(ctx, appendSnapshot(t1.Identifier, nil, 1, 1)); err != nil {
		t.Fatalf("Interleaved commit failed: %v", err)
	}

	_, err = c.Persistence().Apply(testIdentity, "transaction", func(b *ps.Batch) error {
		for _, p := range []*pendingCommit{p1, p2} {
			if err := p.publish(b); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, core.ErrCommitFailed) {
		t.Fatalf("Expected ErrCommitFailed, got %v", err)
	}

	loaded, err := c.LoadTable(ctx, t2.Identifier)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if *loaded.MetadataLocation != *t2.MetadataLocation {
		t.Errorf("Expected t2 to be unchanged, got %s", *loaded.MetadataLocation)
	}
}

func TestCommitTransactionRequirementOnly(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	t1 := mustCreateTable(t, c, ns, "t1")
	t2 := mustCreateTable(t, c, ns, "t2")

	err := c.CommitTransaction(ctx, []CommitRequest{
		{
			Identifier:   t1.Identifier,
			Requirements: []metadata.Requirement{metadata.AssertTableUUID{UUID: t1.Metadata.TableUUID}},
		},
		appendSnapshot(t2.Identifier, nil, 1, 1),
	})
	if err != nil {
		t.Fatalf("CommitTransaction failed: %v", err)
	}

	first, err := c.LoadTable(ctx, t1.Identifier)
	if err != nil {
		t.Fatalf("LoadTable t1 failed: %v", err)
	}
	if *first.MetadataLocation != *t1.MetadataLocation {
		t.Errorf("Expected t1 to stay at %s, got %s", *t1.MetadataLocation, *first.MetadataLocation)
	}
	second, err := c.LoadTable(ctx, t2.Identifier)
	if err != nil {
		t.Fatalf("LoadTable t2 failed: %v", err)
	}
	if v := metadata.ParseMetadataVersion(*second.MetadataLocation); v != 1 {
		t.Errorf("Expected t2 at version 1, got %s", *second.MetadataLocation)
	}
}

// Tables of one transaction are built in parallel from one catalog state.
func TestCommitTransactionManyTables(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")

	var changes []CommitRequest
	var ids []core.TableIdentifier
	for i := 0; i < 16; i++ {
		table := mustCreateTable(t, c, ns, fmt.Sprintf("t%02d", i))
		ids = append(ids, table.Identifier)
		changes = append(changes, appendSnapshot(table.Identifier, nil, int64(i+1), 1))
	}

	if err := c.CommitTransaction(ctx, changes); err != nil {
		t.Fatalf("CommitTransaction failed: %v", err)
	}
	for i, id := range ids {
		table, err := c.LoadTable(ctx, id)
		if err != nil {
			t.Fatalf("LoadTable(%s) failed: %v", id, err)
		}
		if got := table.Metadata.CurrentSnapshotID; got == nil || *got != int64(i+1) {
			t.Errorf("Expected %s at snapshot %d, got %v", id, i+1, got)
		}
	}
}
