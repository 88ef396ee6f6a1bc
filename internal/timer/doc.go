// Package timer implements the device's single activity timer.
//
// # State machine
//
// The engine is either Idle or Running{activity, start time, start day}.
// Start while Running performs an implicit Stop first, so a device never has
// two running timers.
//
//	Idle    --Start/Resume--> Running
//	Running --Start---------> Running (previous session committed)
//	Running --Stop----------> Idle    (session committed to the ledger)
//	any     --Reset---------> Idle    (nothing committed)
//
// # Drift-free elapsed time
//
// Only the wall-clock start instant is stored. Elapsed time is recomputed as
// now minus start on every read, so suspension gaps and process restarts do
// not lose or invent time. A clock that moves backwards yields zero, never a
// negative duration.
//
// # Persistence ordering
//
// Every transition writes the active-timer record first and updates memory
// only after the write succeeds. A failed write leaves the engine exactly as
// it was.
//
// # Example
//
//	engine := timer.New(timer.Config{Store: db, Recorder: ledger})
//	if _, err := engine.Restore(ctx); err != nil {
//	    return err
//	}
//	if _, err := engine.Start(ctx, activityID, time.Now()); err != nil {
//	    return err
//	}
//	// ...
//	session, err := engine.Stop(ctx)
package timer
