package timer_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/ledger"
	"github.com/davidchanminpark/time-my-life/internal/store"
	"github.com/davidchanminpark/time-my-life/internal/timer"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

// Example demonstrates timing a session and reading it back from the ledger.
func Example() {
	dir, err := os.MkdirTemp("", "tml-timer-example")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer os.RemoveAll(dir)

	db, err := store.Open(filepath.Join(dir, "replica.db"))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		fmt.Println(err)
		return
	}

	ctx := context.Background()
	clock := &stepClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	l := ledger.New(db, time.UTC)
	engine := timer.New(timer.Config{
		Store:    db,
		Recorder: l,
		Clock:    clock,
		Location: time.UTC,
		Logger:   log.New(io.Discard, "", 0),
	})

	if _, err := engine.Start(ctx, "piano", clock.now); err != nil {
		fmt.Println(err)
		return
	}
	clock.now = clock.now.Add(45 * time.Minute)

	session, err := engine.Stop(ctx)
	if err != nil {
		fmt.Println(err)
		return
	}
	entry, _ := l.Read(ctx, "piano", clock.now)

	fmt.Println(session.Day, session.Elapsed)
	fmt.Println(entry.Duration)
	// Output:
	// 2026-10-15 45m0s
	// 45m0s
}
