package fault

import "fmt"

// AccessError is returned when a permission check rejects an operation.
// Access errors are never retried and never rolled back.
type AccessError struct {
	Name      string
	Requestor string
	Message   string
}

func (e *AccessError) Error() string {
	if e.Requestor != "" {
		return "access denied for " + e.Requestor + " on " + e.Name + ": " + e.Message
	}
	return "access denied on " + e.Name + ": " + e.Message
}

// ValidationError is returned when a value fails a type check or a
// registered validator. The target is never partially mutated.
type ValidationError struct {
	Name    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Name != "" {
		return "validation failed for " + e.Name + ": " + e.Message
	}
	return "validation failed: " + e.Message
}

// NotFoundError is returned when a named entity does not exist or has
// expired.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " not found: " + e.Name
}

// StateError indicates workflow state that violates an invariant.
type StateError struct {
	Message string
}

func (e *StateError) Error() string {
	return "invalid state: " + e.Message
}

// DependencyError wraps a failure from an external collaborator.
type DependencyError struct {
	Dependency string
	Cause      error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Dependency, e.Cause)
}

func (e *DependencyError) Unwrap() error { return e.Cause }

// SecurityError indicates an authentication or integrity failure.
type SecurityError struct {
	Message string
}

func (e *SecurityError) Error() string {
	return "security violation: " + e.Message
}
