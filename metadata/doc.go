// Package metadata models immutable Iceberg table metadata and the
// closed sets of commit updates and requirements that act on it.
//
// A TableMetadata value is never modified after it is built. New versions
// are produced by a Builder, which deep-copies its base and applies
// updates strictly in order:
//
//	b := metadata.NewBuilder(current, currentLocation)
//	for _, u := range updates {
//	    if err := b.Apply(u); err != nil {
//	        return err
//	    }
//	}
//	next, err := b.Build()
//
// Requirements are checked against the metadata a commit is based on,
// where nil stands for a table that does not exist yet:
//
//	if err := metadata.Validate(requirements, current); err != nil {
//	    return err // *RequirementError
//	}
package metadata
