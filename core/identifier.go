package core

import (
	"fmt"
	"slices"
	"strings"
)

// NamespaceSeparator joins namespace parts in their encoded form.
const NamespaceSeparator = "\x1f"

// Namespace is an ordered sequence of name parts. The empty Namespace is
// the root, which is never addressable as a namespace of its own.
type Namespace []string

// ParseNamespace decodes a separator-joined namespace path. The empty
// string is the root namespace; an explicitly empty part is malformed.
func ParseNamespace(path string) (Namespace, error) {
	if path == "" {
		return Namespace{}, nil
	}

	parts := strings.Split(path, NamespaceSeparator)
	ns := Namespace(parts)
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	return ns, nil
}

// NewNamespace builds a namespace from parts, rejecting empty parts.
func NewNamespace(parts ...string) (Namespace, error) {
	ns := Namespace(slices.Clone(parts))
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	return ns, nil
}

// Validate checks that no part is empty.
func (ns Namespace) Validate() error {
	for i, part := range ns {
		if part == "" {
			return fmt.Errorf("%w: empty namespace part at position %d", ErrMalformedIdentifier, i)
		}
	}
	return nil
}

// Encode joins the parts with NamespaceSeparator. It is the inverse of
// ParseNamespace.
func (ns Namespace) Encode() string {
	return strings.Join(ns, NamespaceSeparator)
}

// String renders the namespace dotted, for messages and logs.
func (ns Namespace) String() string {
	return strings.Join(ns, ".")
}

func (ns Namespace) IsRoot() bool {
	return len(ns) == 0
}

func (ns Namespace) Level() int {
	return len(ns)
}

func (ns Namespace) Equal(other Namespace) bool {
	return slices.Equal(ns, other)
}

// HasPrefix reports whether prefix is equal to, or an ancestor of, ns.
func (ns Namespace) HasPrefix(prefix Namespace) bool {
	if len(prefix) > len(ns) {
		return false
	}
	return slices.Equal(ns[:len(prefix)], prefix)
}

// Child returns a new namespace one level below ns.
func (ns Namespace) Child(part string) Namespace {
	child := make(Namespace, len(ns), len(ns)+1)
	copy(child, ns)
	return append(child, part)
}

// Parent returns the enclosing namespace. The second result is false for
// the root namespace, which has no parent.
func (ns Namespace) Parent() (Namespace, bool) {
	if len(ns) == 0 {
		return nil, false
	}
	return slices.Clone(ns[:len(ns)-1]), true
}

// TableIdentifier names a table inside a namespace.
type TableIdentifier struct {
	Namespace Namespace `json:"namespace"`
	Name      string    `json:"name"`
}

func NewTableIdentifier(ns Namespace, name string) TableIdentifier {
	return TableIdentifier{Namespace: slices.Clone(ns), Name: name}
}

// Validate checks that the identifier has a non-root namespace made of
// non-empty parts and a non-empty name.
func (id TableIdentifier) Validate() error {
	if id.Namespace.IsRoot() {
		return fmt.Errorf("%w: table %q has no namespace", ErrMalformedIdentifier, id.Name)
	}
	if err := id.Namespace.Validate(); err != nil {
		return err
	}
	if id.Name == "" {
		return fmt.Errorf("%w: empty table name in %s", ErrMalformedIdentifier, id.Namespace)
	}
	return nil
}

func (id TableIdentifier) Equal(other TableIdentifier) bool {
	return id.Name == other.Name && id.Namespace.Equal(other.Namespace)
}

// String renders the identifier dotted, for messages and logs.
func (id TableIdentifier) String() string {
	if id.Namespace.IsRoot() {
		return id.Name
	}
	return id.Namespace.String() + "." + id.Name
}

// Key is a collision-free map key for the identifier.
func (id TableIdentifier) Key() string {
	return id.Namespace.Encode() + "\x00" + id.Name
}
