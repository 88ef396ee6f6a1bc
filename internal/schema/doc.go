// Package schema defines the records exchanged between the local replica and its peer.
//
// # Overview
//
// Every device keeps its own copy of these records. Nothing is shared in
// memory between devices; replicas converge only by exchanging sync messages
// that carry the JSON forms defined here.
//
// # Records
//
//   - Activity: user-defined thing to track time against (UUID identity)
//   - LedgerEntry: accumulated duration for one activity on one calendar day
//   - Goal: a daily or weekly target for an activity
//   - ActiveTimerRecord: the single persisted running-timer row of a device
//
// # Ledger Identity
//
// Ledger entries are keyed by (activity id, day). Days are calendar dates in
// the device's configured location, stored as "2006-01-02". On the wire the
// pair is folded into one identifier:
//
//	8a1c9e40-3f0b-4d55-9a43-5d6b1f7c2e10/2026-10-15
//
// # Changes
//
// Local mutations are described by a Change (action, entity kind, id and the
// entity snapshot). Components that mutate the replica report changes to a
// ChangeObserver; the sync coordinator is the production observer.
//
// # Validation
//
// Validate methods return errors wrapping ErrValidation so callers can tell
// rejected input apart from storage failures:
//
//	if errors.Is(err, schema.ErrValidation) {
//	    // show the message to the user
//	}
package schema
