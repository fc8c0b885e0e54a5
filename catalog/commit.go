package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/metadata"
	"github.com/nickyhof/CommitCatalog/metrics"
	"github.com/nickyhof/CommitCatalog/ps"
)

// CommitRequest is a set of requirements to check and updates to apply to
// one table.
type CommitRequest struct {
	Identifier   core.TableIdentifier
	Requirements []metadata.Requirement
	Updates      []metadata.Update
}

type CommitResult struct {
	MetadataLocation string
	Metadata         *metadata.TableMetadata
}

// pendingCommit is a validated commit whose metadata is ready to publish.
type pendingCommit struct {
	id     core.TableIdentifier
	create bool
	// baseLocation is the binding the commit was validated against, empty
	// for a create.
	baseLocation string
	location     string
	md           *metadata.TableMetadata
	// noop is set when the request changed nothing; nothing is written.
	noop bool
}

// CommitTable validates req against the current table metadata, writes the
// updated metadata and swaps the table's binding to it. A requirement that
// does not hold, or a binding that moved since it was loaded, fails with a
// *core.CommitFailedError. Conflicts are never retried here.
func (c *Catalog) CommitTable(ctx context.Context, req CommitRequest) (result CommitResult, err error) {
	defer c.observeCommit(time.Now(), req.Identifier, &err)

	view, err := c.persistence.Head()
	if err != nil {
		return CommitResult{}, err
	}
	pending, err := c.prepare(ctx, view, req)
	if err != nil {
		return CommitResult{}, err
	}
	if pending.noop {
		return CommitResult{MetadataLocation: pending.location, Metadata: pending.md}, nil
	}

	if err := c.writeMetadata(ctx, pending.location, pending.md); err != nil {
		return CommitResult{}, err
	}

	txn, err := c.persistence.Apply(c.identity(ctx), pending.message(), pending.publish)
	if err != nil {
		return CommitResult{}, err
	}

	if pending.create {
		metrics.TablesCreated.Inc()
	}
	c.logger.Debug("table committed", "table", pending.id.String(), "metadata_location", pending.location, "txn", txn.Id)
	return CommitResult{MetadataLocation: pending.location, Metadata: pending.md}, nil
}

// resolvedCommit is a commit request together with the binding it was
// resolved against.
type resolvedCommit struct {
	req     CommitRequest
	binding core.TableBinding
	found   bool
	create  bool
}

// prepare loads the table from s, checks the requirements and applies the
// updates, without writing anything.
func (c *Catalog) prepare(ctx context.Context, s store, req CommitRequest) (*pendingCommit, error) {
	r, err := resolve(s, req)
	if err != nil {
		return nil, err
	}
	return c.build(ctx, r)
}

// resolve reads the table binding, and for a create the namespace, from s.
// A store must not be read from several goroutines at once.
func resolve(s store, req CommitRequest) (resolvedCommit, error) {
	id := req.Identifier
	if err := id.Validate(); err != nil {
		return resolvedCommit{}, err
	}

	binding, found, err := s.Table(id)
	if err != nil {
		return resolvedCommit{}, err
	}
	create := metadata.HasAssertCreate(req.Requirements)
	if !found && !create {
		return resolvedCommit{}, fmt.Errorf("%w: %s", core.ErrNoSuchTable, id)
	}

	if create && !found {
		if _, exists, err := s.Namespace(id.Namespace); err != nil {
			return resolvedCommit{}, err
		} else if !exists {
			return resolvedCommit{}, fmt.Errorf("%w: %s", core.ErrNoSuchNamespace, id.Namespace)
		}
	}
	return resolvedCommit{req: req, binding: binding, found: found, create: create}, nil
}

// build loads the base metadata of r, checks the requirements and applies
// the updates. It reads only metadata files and is safe to run for several
// tables in parallel.
func (c *Catalog) build(ctx context.Context, r resolvedCommit) (*pendingCommit, error) {
	id, binding := r.req.Identifier, r.binding

	var base *metadata.TableMetadata
	if r.found {
		var err error
		if base, err = c.loadMetadata(ctx, binding.MetadataLocation); err != nil {
			return nil, err
		}
	}

	if err := metadata.Validate(r.req.Requirements, base); err != nil {
		var reqErr *metadata.RequirementError
		if errors.As(err, &reqErr) {
			return nil, &core.CommitFailedError{Table: id, Requirement: reqErr.Kind, Reason: reqErr.Reason}
		}
		return nil, err
	}

	builder := metadata.NewBuilder(base, binding.MetadataLocation)
	if err := builder.ApplyAll(r.req.Updates); err != nil {
		return nil, err
	}
	md, err := builder.Build()
	if err != nil {
		return nil, err
	}

	if r.found && len(builder.Changes()) == 0 {
		return &pendingCommit{id: id, baseLocation: binding.MetadataLocation, location: binding.MetadataLocation, md: base, noop: true}, nil
	}

	version := 0
	if r.found {
		version = metadata.NextMetadataVersion(binding.MetadataLocation)
	}
	return &pendingCommit{
		id:           id,
		create:       r.create,
		baseLocation: binding.MetadataLocation,
		location:     metadata.NewMetadataLocation(md, version),
		md:           md,
	}, nil
}

// check verifies that the binding is still the one the commit was
// prepared against.
func (p *pendingCommit) check(s store) error {
	binding, found, err := s.Table(p.id)
	if err != nil {
		return err
	}

	switch {
	case p.create && found:
		return &core.CommitFailedError{Table: p.id, Reason: "table was created concurrently"}
	case p.create:
		if _, exists, err := s.Namespace(p.id.Namespace); err != nil {
			return err
		} else if !exists {
			return fmt.Errorf("%w: %s", core.ErrNoSuchNamespace, p.id.Namespace)
		}
		return nil
	case !found:
		return &core.CommitFailedError{Table: p.id, Reason: "table was dropped or renamed concurrently"}
	case binding.MetadataLocation != p.baseLocation:
		return &core.CommitFailedError{
			Table:  p.id,
			Reason: fmt.Sprintf("metadata location changed from %s to %s", p.baseLocation, binding.MetadataLocation),
		}
	}
	return nil
}

// publish swaps the binding. It runs inside ps.Persistence.Apply. A noop
// stages nothing but still fails when the binding moved, since its
// requirements were checked against the binding it was prepared from.
func (p *pendingCommit) publish(b *ps.Batch) error {
	if err := p.check(b); err != nil {
		return err
	}
	if p.noop {
		return nil
	}
	return b.PutTable(core.TableBinding{
		Identifier:               p.id,
		MetadataLocation:         p.location,
		PreviousMetadataLocation: p.baseLocation,
	})
}

func (p *pendingCommit) message() string {
	if p.create {
		return fmt.Sprintf("Create table %s", p.id)
	}
	return fmt.Sprintf("Commit table %s", p.id)
}

func (c *Catalog) observeCommit(start time.Time, id core.TableIdentifier, err *error) {
	metrics.CommitDuration.Observe(time.Since(start).Seconds())

	switch {
	case *err == nil:
		metrics.Commits.WithLabelValues(metrics.ResultCommitted).Inc()
	case errors.Is(*err, core.ErrCommitFailed):
		metrics.Commits.WithLabelValues(metrics.ResultConflict).Inc()
		c.logger.Warn("commit conflict", "table", id.String(), "error", *err)
	default:
		metrics.Commits.WithLabelValues(metrics.ResultError).Inc()
	}
}
