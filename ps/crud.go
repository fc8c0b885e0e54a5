package ps

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/nickyhof/CommitCatalog/core"
)

// Catalog layout inside the repository:
//
//	namespaces/<namespace>.json         core.NamespaceRecord
//	tables/<namespace>/<table>.json     core.TableBinding
//
// Names are path-escaped, with dots escaped too, so any part is a
// single safe tree entry.
const (
	namespacesDir = "namespaces"
	tablesDir     = "tables"
	recordSuffix  = ".json"
)

func escapeName(name string) string {
	return strings.ReplaceAll(url.PathEscape(name), ".", "%2E")
}

func unescapeName(name string) (string, error) {
	return url.PathUnescape(name)
}

// NamespacePath is the repository path of a namespace record.
func NamespacePath(ns core.Namespace) string {
	return namespacesDir + "/" + escapeName(ns.Encode()) + recordSuffix
}

// TablesPath is the repository directory holding a namespace's tables.
func TablesPath(ns core.Namespace) string {
	return tablesDir + "/" + escapeName(ns.Encode())
}

// TablePath is the repository path of a table binding.
func TablePath(id core.TableIdentifier) string {
	return TablesPath(id.Namespace) + "/" + escapeName(id.Name) + recordSuffix
}

// records decodes catalog records from any Reader.
type records struct {
	r Reader
}

// Namespace loads a namespace record. The second result is false when the
// namespace does not exist.
func (c records) Namespace(ns core.Namespace) (core.NamespaceRecord, bool, error) {
	var rec core.NamespaceRecord
	found, err := c.read(NamespacePath(ns), &rec)
	return rec, found, err
}

// Namespaces lists every namespace in the catalog, sorted by encoded form.
func (c records) Namespaces() ([]core.Namespace, error) {
	entries, err := c.r.ListEntries(namespacesDir)
	if err != nil {
		return nil, err
	}

	namespaces := make([]core.Namespace, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, recordSuffix) {
			continue
		}
		encoded, err := unescapeName(strings.TrimSuffix(entry.Name, recordSuffix))
		if err != nil {
			return nil, fmt.Errorf("corrupt namespace entry %q: %w", entry.Name, err)
		}
		ns, err := core.ParseNamespace(encoded)
		if err != nil {
			return nil, fmt.Errorf("corrupt namespace entry %q: %w", entry.Name, err)
		}
		namespaces = append(namespaces, ns)
	}

	sort.Slice(namespaces, func(i, j int) bool {
		return namespaces[i].Encode() < namespaces[j].Encode()
	})
	return namespaces, nil
}

// Table loads a table binding. The second result is false when the table
// does not exist.
func (c records) Table(id core.TableIdentifier) (core.TableBinding, bool, error) {
	var binding core.TableBinding
	found, err := c.read(TablePath(id), &binding)
	return binding, found, err
}

// Tables lists the tables bound in a namespace, sorted by name.
func (c records) Tables(ns core.Namespace) ([]core.TableIdentifier, error) {
	entries, err := c.r.ListEntries(TablesPath(ns))
	if err != nil {
		return nil, err
	}

	tables := make([]core.TableIdentifier, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, recordSuffix) {
			continue
		}
		name, err := unescapeName(strings.TrimSuffix(entry.Name, recordSuffix))
		if err != nil {
			return nil, fmt.Errorf("corrupt table entry %q: %w", entry.Name, err)
		}
		tables = append(tables, core.NewTableIdentifier(ns, name))
	}

	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Name < tables[j].Name
	})
	return tables, nil
}

func (c records) read(path string, v any) (bool, error) {
	data, err := c.r.ReadFile(path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return true, nil
}

// PutNamespace stages a namespace record.
func (b *Batch) PutNamespace(rec core.NamespaceRecord) error {
	if rec.Properties == nil {
		rec.Properties = map[string]string{}
	}
	return b.put(NamespacePath(rec.Namespace), rec)
}

// DeleteNamespace stages the removal of a namespace record.
func (b *Batch) DeleteNamespace(ns core.Namespace) {
	b.AddDelete(NamespacePath(ns))
}

// PutTable stages a table binding.
func (b *Batch) PutTable(binding core.TableBinding) error {
	return b.put(TablePath(binding.Identifier), binding)
}

// DeleteTable stages the removal of a table binding.
func (b *Batch) DeleteTable(id core.TableIdentifier) {
	b.AddDelete(TablePath(id))
}

func (b *Batch) put(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	b.AddWrite(path, append(data, '\n'))
	return nil
}
