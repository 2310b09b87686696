package state

import (
	"time"
)

// Scope defines where a variable is visible.
type Scope string

const (
	// ScopeLocal variables belong to a single step.
	ScopeLocal Scope = "local"

	// ScopeWorkflow variables are shared across steps of one workflow.
	ScopeWorkflow Scope = "workflow"

	// ScopeGlobal variables are shared across workflows. Writes serialize
	// through the owning store's mutex.
	ScopeGlobal Scope = "global"
)

// Permission controls who may mutate a variable.
type Permission string

const (
	// PermReadOnly rejects every write after the initial value at creation.
	PermReadOnly Permission = "read_only"

	// PermReadWrite allows any requestor to write.
	PermReadWrite Permission = "read_write"

	// PermPrivate allows only the owner to write.
	PermPrivate Permission = "private"

	// PermShared allows any requestor to write, like read_write, but marks
	// the variable as intentionally shared across agents.
	PermShared Permission = "shared"

	// PermProtected allows the owner plus requestors on the access list.
	PermProtected Permission = "protected"
)

// Validator checks a candidate value before commit. Returning an error
// rejects the write with a ValidationError.
type Validator func(value interface{}) error

// Variable is one named, typed entry in a Store.
//
// The value kind is recorded at creation. Subsequent writes must carry a
// value of the same kind unless AllowCoerce is set, in which case the
// conversions in Coerce are attempted first.
type Variable struct {
	Name        string
	Value       interface{}
	Default     interface{}
	Type        Kind
	AllowCoerce bool

	Scope      Scope
	Permission Permission
	Owner      string
	AccessList []string
	Tags       []string

	// TTL bounds the variable's lifetime, measured from UpdatedAt.
	// Zero means no expiry. Expired variables behave as absent.
	TTL time.Duration

	CreatedAt time.Time
	UpdatedAt time.Time

	// Validator, when set, runs against every candidate value after hook
	// validation and before commit.
	Validator Validator `json:"-"`
}

// Expired reports whether the variable's TTL has elapsed at time now.
func (v *Variable) Expired(now time.Time) bool {
	return v.TTL > 0 && now.Sub(v.UpdatedAt) > v.TTL
}

// writable reports whether requestor may mutate this variable.
func (v *Variable) writable(requestor string) bool {
	switch v.Permission {
	case PermReadOnly:
		return false
	case PermPrivate:
		return requestor == v.Owner
	case PermProtected:
		if requestor == v.Owner {
			return true
		}
		for _, id := range v.AccessList {
			if id == requestor {
				return true
			}
		}
		return false
	default:
		// read_write, shared, and unset permissions accept all writers.
		return true
	}
}

// clone returns a shallow copy safe to hand to callers outside the lock.
func (v *Variable) clone() *Variable {
	cp := *v
	cp.AccessList = append([]string(nil), v.AccessList...)
	cp.Tags = append([]string(nil), v.Tags...)
	return &cp
}

// ChangeEvent records one successful mutation of a variable.
type ChangeEvent struct {
	Name      string      `json:"name"`
	Old       interface{} `json:"old"`
	New       interface{} `json:"new"`
	Requestor string      `json:"requestor"`
	Timestamp time.Time   `json:"timestamp"`
}

// Group names a set of variables for bulk operations. A group references
// variables by name; it does not own them, and deleting a variable does not
// remove it from groups it belongs to.
type Group struct {
	Name        string
	Description string
	Variables   map[string]bool
}
