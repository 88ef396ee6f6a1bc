package schema

// Action is the kind of mutation a change or sync message describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// EntityKind names the record type a change refers to.
type EntityKind string

const (
	KindActivity    EntityKind = "activity"
	KindLedgerEntry EntityKind = "ledgerEntry"
	KindActiveTimer EntityKind = "activeTimer"
	KindGoal        EntityKind = "goal"
)

// IsValid reports whether k is a known entity kind.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindActivity, KindLedgerEntry, KindActiveTimer, KindGoal:
		return true
	}
	return false
}

// Change describes a committed local mutation.
// Entity holds the record snapshot and is nil for deletes.
type Change struct {
	Action Action
	Kind   EntityKind
	ID     string
	Entity any
}

// ChangeObserver receives committed local mutations.
type ChangeObserver interface {
	Observe(Change)
}

// ObserverFunc adapts a function to ChangeObserver.
type ObserverFunc func(Change)

// Observe implements ChangeObserver.
func (f ObserverFunc) Observe(c Change) { f(c) }
