package catalog

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/metadata"
)

func TestCommitTableVersions(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	table := mustCreateTable(t, c, ns, "events")

	first, err := c.CommitTable(ctx, appendSnapshot(table.Identifier, nil, 1, 1))
	if err != nil {
		t.Fatalf("First commit failed: %v", err)
	}
	if v := metadata.ParseMetadataVersion(first.MetadataLocation); v != 1 {
		t.Errorf("Expected version 1, got %d (%s)", v, first.MetadataLocation)
	}
	if first.Metadata.CurrentSnapshotID == nil || *first.Metadata.CurrentSnapshotID != 1 {
		t.Errorf("Expected current snapshot 1, got %v", first.Metadata.CurrentSnapshotID)
	}

	second, err := c.CommitTable(ctx, appendSnapshot(table.Identifier, int64p(1), 2, 2))
	if err != nil {
		t.Fatalf("Second commit failed: %v", err)
	}
	if v := metadata.ParseMetadataVersion(second.MetadataLocation); v != 2 {
		t.Errorf("Expected version 2, got %d (%s)", v, second.MetadataLocation)
	}

	log := second.Metadata.MetadataLog
	if len(log) != 2 || log[0].MetadataFile != *table.MetadataLocation || log[1].MetadataFile != first.MetadataLocation {
		t.Errorf("Unexpected metadata log %+v", log)
	}

	view, err := c.Persistence().Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	binding, _, err := view.Table(table.Identifier)
	if err != nil {
		t.Fatalf("Table failed: %v", err)
	}
	if binding.MetadataLocation != second.MetadataLocation || binding.PreviousMetadataLocation != first.MetadataLocation {
		t.Errorf("Unexpected binding %+v", binding)
	}
}

func TestCommitWithoutUpdatesIsNoOp(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	table := mustCreateTable(t, c, ns, "events")
	before := c.Persistence().LatestTransaction()

	result, err := c.CommitTable(ctx, CommitRequest{
		Identifier:   table.Identifier,
		Requirements: []metadata.Requirement{metadata.AssertTableUUID{UUID: table.Metadata.TableUUID}},
	})
	if err != nil {
		t.Fatalf("CommitTable failed: %v", err)
	}
	if result.MetadataLocation != *table.MetadataLocation {
		t.Errorf("Expected location to stay %s, got %s", *table.MetadataLocation, result.MetadataLocation)
	}
	if got := c.Persistence().LatestTransaction(); got.Id != before.Id {
		t.Errorf("Expected no catalog commit, got %q", got.Message)
	}
}

func TestCommitMissingTable(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ns := mustCreateNamespace(t, c, "db")

	_, err := c.CommitTable(testContext(), appendSnapshot(core.NewTableIdentifier(ns, "missing"), nil, 1, 1))
	if !errors.Is(err, core.ErrNoSuchTable) {
		t.Errorf("Expected ErrNoSuchTable, got %v", err)
	}
}

func TestCommitInvalidUpdate(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	table := mustCreateTable(t, c, ns, "events")

	_, err := c.CommitTable(ctx, CommitRequest{
		Identifier: table.Identifier,
		Updates: []metadata.Update{
			metadata.SetProperties{Updates: map[string]string{"k": "v"}},
			metadata.SetCurrentSchema{SchemaID: 42},
		},
	})
	if !errors.Is(err, core.ErrInvalidUpdate) {
		t.Fatalf("Expected ErrInvalidUpdate, got %v", err)
	}
	if errors.Is(err, core.ErrCommitFailed) {
		t.Error("An invalid update is not a conflict")
	}

	loaded, err := c.LoadTable(ctx, table.Identifier)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if _, ok := loaded.Metadata.Properties["k"]; ok {
		t.Error("A failed commit must not be partially applied")
	}
}

// Two writers load the same version; the second to commit must lose even
// though its updates are valid on their own.
func TestConcurrentCommitConflict(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	table := mustCreateTable(t, c, ns, "events")

	loadA, err := c.LoadTable(ctx, table.Identifier)
	if err != nil {
		t.Fatalf("LoadTable A failed: %v", err)
	}
	loadB, err := c.LoadTable(ctx, table.Identifier)
	if err != nil {
		t.Fatalf("LoadTable B failed: %v", err)
	}

	if _, err := c.CommitTable(ctx, appendSnapshot(loadA.Identifier, loadA.Metadata.CurrentSnapshotID, 10, 1)); err != nil {
		t.Fatalf("Commit A failed: %v", err)
	}

	_, err = c.CommitTable(ctx, appendSnapshot(loadB.Identifier, loadB.Metadata.CurrentSnapshotID, 20, 1))
	if !errors.Is(err, core.ErrCommitFailed) {
		t.Fatalf("Expected commit B to fail with ErrCommitFailed, got %v", err)
	}

	var commitErr *core.CommitFailedError
	if !errors.As(err, &commitErr) {
		t.Fatalf("Expected a *core.CommitFailedError, got %T", err)
	}
	if commitErr.Requirement != metadata.KindAssertRefSnapshotID {
		t.Errorf("Expected failed requirement %s, got %q", metadata.KindAssertRefSnapshotID, commitErr.Requirement)
	}
	if !commitErr.Table.Equal(table.Identifier) {
		t.Errorf("Expected failure for %s, got %s", table.Identifier, commitErr.Table)
	}

	loaded, err := c.LoadTable(ctx, table.Identifier)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if *loaded.Metadata.CurrentSnapshotID != 10 {
		t.Errorf("Expected A's snapshot to be current, got %d", *loaded.Metadata.CurrentSnapshotID)
	}
}

// A writer whose requirements held when it validated still loses if the
// binding moved before it published.
func TestCommitLosesCompareAndSwap(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	table := mustCreateTable(t, c, ns, "events")

	view, err := c.Persistence().Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	stale, err := c.prepare(ctx, view, CommitRequest{
		Identifier: table.Identifier,
		Updates:    []metadata.Update{metadata.SetProperties{Updates: map[string]string{"writer": "stale"}}},
	})
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	if _, err := c.CommitTable(ctx, CommitRequest{
		Identifier: table.Identifier,
		Updates:    []metadata.Update{metadata.SetProperties{Updates: map[string]string{"writer": "winner"}}},
	}); err != nil {
		t.Fatalf("Winning commit failed: %v", err)
	}

	_, err = c.Persistence().Apply(testIdentity, stale.message(), stale.publish)
	var commitErr *core.CommitFailedError
	if !errors.As(err, &commitErr) {
		t.Fatalf("Expected a *core.CommitFailedError, got %v", err)
	}
	if commitErr.Requirement != "" {
		t.Errorf("A lost swap names no requirement, got %q", commitErr.Requirement)
	}
}

func TestConcurrentCommitsOnSameTable(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")
	table := mustCreateTable(t, c, ns, "events")

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.CommitTable(ctx, appendSnapshot(table.Identifier, nil, int64(100+i), 1))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, core.ErrCommitFailed):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("Expected exactly one winner, got %d", won)
	}
}

func TestConcurrentCommitsOnDifferentTables(t *testing.T) {
	c := newTestCatalog(t, Config{})
	ctx := testContext()
	ns := mustCreateNamespace(t, c, "db")

	const tables = 8
	ids := make([]core.TableIdentifier, tables)
	for i := range ids {
		ids[i] = mustCreateTable(t, c, ns, fmt.Sprintf("t%d", i)).Identifier
	}

	var wg sync.WaitGroup
	errs := make(chan error, tables)
	for _, id := range ids {
		wg.Add(1)
		go func(id core.TableIdentifier) {
			defer wg.Done()
			_, err := c.CommitTable(ctx, appendSnapshot(id, nil, 1, 1))
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Commits on unrelated tables must not conflict, got %v", err)
		}
	}
}
