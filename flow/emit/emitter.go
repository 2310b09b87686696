package emit

// Emitter receives observability events from the runtime.
//
// Implementations must be safe for concurrent use, must not block the
// caller, and must not panic. Failures are handled internally (logged or
// dropped); an Emitter never propagates errors back into workflow
// execution.
//
// The runtime treats a nil Emitter as "discard everything", so components
// guard every Emit call with a nil check.
type Emitter interface {
	Emit(event Event)
}

// Multi fans events out to several emitters in order.
type Multi []Emitter

// Emit sends the event to every non-nil emitter in the slice.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
