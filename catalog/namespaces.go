package catalog

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/metrics"
	"github.com/nickyhof/CommitCatalog/ps"
)

// PropertiesUpdate is the outcome of UpdateNamespaceProperties. The three
// key sets are disjoint and sorted.
type PropertiesUpdate struct {
	Updated []string
	Removed []string
	Missing []string
}

func validateNamespace(ns core.Namespace) error {
	if ns.IsRoot() {
		return fmt.Errorf("%w: empty namespace", core.ErrMalformedIdentifier)
	}
	return ns.Validate()
}

func (c *Catalog) CreateNamespace(ctx context.Context, ns core.Namespace, properties map[string]string) (core.NamespaceRecord, error) {
	if err := validateNamespace(ns); err != nil {
		return core.NamespaceRecord{}, err
	}

	rec := core.NamespaceRecord{Namespace: ns, Properties: maps.Clone(properties)}
	if rec.Properties == nil {
		rec.Properties = map[string]string{}
	}

	txn, err := c.persistence.Apply(c.identity(ctx), fmt.Sprintf("Create namespace %s", ns), func(b *ps.Batch) error {
		if _, exists, err := b.Namespace(ns); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s", core.ErrNamespaceAlreadyExists, ns)
		}

		if parent, ok := ns.Parent(); ok && c.cfg.RequireParentNamespace && !parent.IsRoot() {
			if _, exists, err := b.Namespace(parent); err != nil {
				return err
			} else if !exists {
				return fmt.Errorf("%w: parent %s of %s", core.ErrNoSuchNamespace, parent, ns)
			}
		}

		return b.PutNamespace(rec)
	})
	if err != nil {
		return core.NamespaceRecord{}, err
	}

	metrics.NamespaceOperations.WithLabelValues("create").Inc()
	c.logger.Debug("namespace created", "namespace", ns.String(), "txn", txn.Id)
	return rec, nil
}

// ListNamespaces returns the namespaces one level below parent, sorted. A
// namespace whose nested children exist is listed even if it was never
// created itself, since parents are not enforced by default.
func (c *Catalog) ListNamespaces(ctx context.Context, parent core.Namespace) ([]core.Namespace, error) {
	if err := parent.Validate(); err != nil {
		return nil, err
	}

	view, err := c.persistence.Head()
	if err != nil {
		return nil, err
	}
	all, err := view.Namespaces()
	if err != nil {
		return nil, err
	}

	var (
		children []core.Namespace
		seen     = map[string]bool{}
		present  = parent.IsRoot()
	)
	for _, ns := range all {
		if !ns.HasPrefix(parent) {
			continue
		}
		present = true
		if ns.Level() <= parent.Level() {
			continue
		}

		child := ns[:parent.Level()+1]
		if key := child.Encode(); !seen[key] {
			seen[key] = true
			children = append(children, slices.Clone(child))
		}
	}
	if !present {
		return nil, fmt.Errorf("%w: %s", core.ErrNoSuchNamespace, parent)
	}

	slices.SortFunc(children, func(a, b core.Namespace) int {
		return slices.Compare(a, b)
	})
	return children, nil
}

func (c *Catalog) LoadNamespaceProperties(ctx context.Context, ns core.Namespace) (core.NamespaceRecord, error) {
	if err := validateNamespace(ns); err != nil {
		return core.NamespaceRecord{}, err
	}

	view, err := c.persistence.Head()
	if err != nil {
		return core.NamespaceRecord{}, err
	}
	rec, exists, err := view.Namespace(ns)
	if err != nil {
		return core.NamespaceRecord{}, err
	}
	if !exists {
		return core.NamespaceRecord{}, fmt.Errorf("%w: %s", core.ErrNoSuchNamespace, ns)
	}
	return rec, nil
}

func (c *Catalog) NamespaceExists(ctx context.Context, ns core.Namespace) (bool, error) {
	if err := validateNamespace(ns); err != nil {
		return false, err
	}

	view, err := c.persistence.Head()
	if err != nil {
		return false, err
	}
	_, exists, err := view.Namespace(ns)
	return exists, err
}

// DropNamespace removes an empty namespace. A namespace holding tables or
// nested namespaces fails with core.ErrNamespaceNotEmpty.
func (c *Catalog) DropNamespace(ctx context.Context, ns core.Namespace) error {
	if err := validateNamespace(ns); err != nil {
		return err
	}

	txn, err := c.persistence.Apply(c.identity(ctx), fmt.Sprintf("Drop namespace %s", ns), func(b *ps.Batch) error {
		if _, exists, err := b.Namespace(ns); err != nil {
			return err
		} else if !exists {
			return fmt.Errorf("%w: %s", core.ErrNoSuchNamespace, ns)
		}

		tables, err := b.Tables(ns)
		if err != nil {
			return err
		}
		if len(tables) > 0 {
			return fmt.Errorf("%w: %s contains %d tables", core.ErrNamespaceNotEmpty, ns, len(tables))
		}

		all, err := b.Namespaces()
		if err != nil {
			return err
		}
		for _, other := range all {
			if other.Level() > ns.Level() && other.HasPrefix(ns) {
				return fmt.Errorf("%w: %s contains namespace %s", core.ErrNamespaceNotEmpty, ns, other)
			}
		}

		b.DeleteNamespace(ns)
		return nil
	})
	if err != nil {
		return err
	}

	metrics.NamespaceOperations.WithLabelValues("drop").Inc()
	c.logger.Debug("namespace dropped", "namespace", ns.String(), "txn", txn.Id)
	return nil
}

// UpdateNamespaceProperties removes and upserts properties in one write.
// A key may not be both removed and updated.
func (c *Catalog) UpdateNamespaceProperties(ctx context.Context, ns core.Namespace, removals []string, updates map[string]string) (PropertiesUpdate, error) {
	if err := validateNamespace(ns); err != nil {
		return PropertiesUpdate{}, err
	}
	removals = sortedUnique(slices.Clone(removals))
	for _, key := range removals {
		if _, ok := updates[key]; ok {
			return PropertiesUpdate{}, fmt.Errorf("%w: property %q is both removed and updated", core.ErrInvalidRequest, key)
		}
	}

	var result PropertiesUpdate
	txn, err := c.persistence.Apply(c.identity(ctx), fmt.Sprintf("Update properties of namespace %s", ns), func(b *ps.Batch) error {
		result = PropertiesUpdate{}

		rec, exists, err := b.Namespace(ns)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", core.ErrNoSuchNamespace, ns)
		}

		props := maps.Clone(rec.Properties)
		if props == nil {
			props = map[string]string{}
		}

		for _, key := range removals {
			if _, ok := props[key]; ok {
				delete(props, key)
				result.Removed = append(result.Removed, key)
			} else {
				result.Missing = append(result.Missing, key)
			}
		}
		for key, value := range updates {
			if old, ok := props[key]; !ok || old != value {
				props[key] = value
				result.Updated = append(result.Updated, key)
			}
		}

		result.Updated = sortedUnique(result.Updated)
		result.Removed = sortedUnique(result.Removed)
		result.Missing = sortedUnique(result.Missing)

		if len(result.Updated) == 0 && len(result.Removed) == 0 {
			return nil
		}
		return b.PutNamespace(core.NamespaceRecord{Namespace: ns, Properties: props})
	})
	if err != nil {
		return PropertiesUpdate{}, err
	}

	metrics.NamespaceOperations.WithLabelValues("update-properties").Inc()
	c.logger.Debug("namespace properties updated", "namespace", ns.String(),
		"updated", len(result.Updated), "removed", len(result.Removed), "txn", txn.Id)
	return result, nil
}

func sortedUnique(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}
