// Package bundle moves replica state between devices as a JSONL file of
// sync messages, one message per line.
//
// A bundle is written by Export on one device and applied on the other by
// Import, either from the CLI or by the daemon's inbox watcher. Every line is
// a create message, so importing is idempotent and carries the full ledger,
// which the websocket resync does not.
package bundle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/peersync"
	"github.com/davidchanminpark/time-my-life/internal/schema"
)

// Extension is the file extension of bundles.
const Extension = ".jsonl"

// ImportedSuffix is appended to a bundle's name once it has been imported.
const ImportedSuffix = ".imported"

// maxLineSize bounds a single message line.
const maxLineSize = 1 << 20

// Source lists everything a bundle carries. *store.DB implements it.
type Source interface {
	ListActivities(ctx context.Context) ([]*schema.Activity, error)
	ListGoals(ctx context.Context, activityID string) ([]*schema.Goal, error)
	ListAllLedgerEntries(ctx context.Context) ([]*schema.LedgerEntry, error)
}

// Applier applies one inbound message. *peersync.Coordinator implements it.
type Applier interface {
	Apply(ctx context.Context, m *peersync.Message) error
}

// ExportResult contains statistics about an export
type ExportResult struct {
	Activities    int
	Goals         int
	LedgerEntries int
}

// Total returns the number of messages written.
func (r *ExportResult) Total() int {
	return r.Activities + r.Goals + r.LedgerEntries
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Applied int
	Skipped int
	Errors  []string
}

// Export writes a create message for every activity, goal and ledger entry
// in src to path. Activities come first so the peer knows them before their
// goals and entries.
func Export(ctx context.Context, src Source, path string, origin time.Time) (*ExportResult, error) {
	activities, err := src.ListActivities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	goals, err := src.ListGoals(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	entries, err := src.ListAllLedgerEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	var changes []schema.Change
	for _, a := range activities {
		changes = append(changes, schema.Change{Action: schema.ActionCreate, Kind: schema.KindActivity, ID: a.ID, Entity: a})
	}
	for _, g := range goals {
		changes = append(changes, schema.Change{Action: schema.ActionCreate, Kind: schema.KindGoal, ID: g.ID, Entity: g})
	}
	for _, e := range entries {
		changes = append(changes, schema.Change{Action: schema.ActionCreate, Kind: schema.KindLedgerEntry, ID: e.ID(), Entity: e})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	// Written to a temp file first so a watcher never sees a partial bundle.
	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create bundle: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, c := range changes {
		m, err := peersync.NewMessage(c, origin)
		if err == nil {
			var line []byte
			if line, err = m.Encode(); err == nil {
				_, err = w.Write(append(line, '\n'))
			}
		}
		if err != nil {
			f.Close()
			_ = os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to write %s %s: %w", c.Kind, c.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write bundle: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}

	return &ExportResult{
		Activities:    len(activities),
		Goals:         len(goals),
		LedgerEntries: len(entries),
	}, nil
}

// Read returns the messages in a bundle. Lines that are not valid messages
// are reported in the second return value, by line number.
func Read(path string) ([]*peersync.Message, []string, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()

	var msgs []*peersync.Message
	var bad []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		m, err := peersync.DecodeMessage(line)
		if err != nil {
			bad = append(bad, fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	return msgs, bad, nil
}

// Import applies every message in the bundle at path, in file order.
// Malformed lines and messages are skipped and reported. A persistence
// failure stops the import.
func Import(ctx context.Context, dst Applier, path string) (*ImportResult, error) {
	msgs, bad, err := Read(path)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Skipped: len(bad), Errors: bad}
	for _, m := range msgs {
		if err := dst.Apply(ctx, m); err != nil {
			if errors.Is(err, peersync.ErrMalformedMessage) {
				result.Skipped++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", m, err))
				continue
			}
			return result, fmt.Errorf("failed to apply %s: %w", m, err)
		}
		result.Applied++
	}
	return result, nil
}

// MarkImported renames an imported bundle so it is not picked up again.
func MarkImported(path string) (string, error) {
	dest := path + ImportedSuffix
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to mark bundle imported: %w", err)
	}
	return dest, nil
}
