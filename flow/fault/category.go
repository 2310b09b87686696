// Package fault provides error categorization for the workflow runtime.
//
// Every error that crosses a recovery boundary is assigned a Category.
// Categories drive downstream policy: retry engines consult them to decide
// whether an attempt is worth repeating, and the recovery manager uses them
// to choose between retry, rollback, and abort.
package fault

// Category classifies an error for recovery and retry decisions.
type Category string

const (
	// CategoryTransient covers errors expected to clear on their own:
	// network blips, connection resets, temporary unavailability.
	CategoryTransient Category = "transient"

	// CategoryStateInvalid indicates workflow state that no longer satisfies
	// an invariant. Usually recovered by rolling back to a checkpoint.
	CategoryStateInvalid Category = "state_invalid"

	// CategoryResource covers exhaustion: memory, disk, quotas, rate limits.
	CategoryResource Category = "resource"

	// CategoryDependency indicates a failure in an external collaborator
	// (service, database, API) the step depends on.
	CategoryDependency Category = "dependency"

	// CategoryLogical indicates a bug or bad input: validation failures,
	// type mismatches, assertion failures. Retrying will not help.
	CategoryLogical Category = "logical"

	// CategorySecurity indicates an authentication or integrity failure.
	// Never retried.
	CategorySecurity Category = "security"

	// CategoryPermission indicates an authorization failure. Never retried.
	CategoryPermission Category = "permission"

	// CategoryTimeout indicates an operation exceeded its deadline.
	CategoryTimeout Category = "timeout"

	// CategoryUnknown is the fallback when no matcher applies.
	CategoryUnknown Category = "unknown"
)

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryTransient, CategoryStateInvalid, CategoryResource,
		CategoryDependency, CategoryLogical, CategorySecurity,
		CategoryPermission, CategoryTimeout, CategoryUnknown:
		return true
	}
	return false
}

// Fatal reports whether errors of this category must never be retried.
func (c Category) Fatal() bool {
	return c == CategorySecurity || c == CategoryPermission
}
