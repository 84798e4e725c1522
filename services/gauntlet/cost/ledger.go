// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cost

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultLedgerPath is the documented location of the cost ledger.
const DefaultLedgerPath = "~/.gauntlet/ledger.csv"

// ledgerHeader is written once when a ledger file is created.
var ledgerHeader = []string{"timestamp", "run_id", "estimated_cost", "actual_cost", "status"}

// Entry is one row of the cost ledger.
type Entry struct {
	// Timestamp is when the run terminated.
	Timestamp time.Time

	// RunID identifies the orchestrator run.
	RunID string

	// EstimatedCost is the pre-flight estimate in dollars; zero for
	// runs that terminated before the budget check.
	EstimatedCost float64

	// ActualCost is the recorded cost in dollars; zero when no
	// generation call was made.
	ActualCost float64

	// Status is the terminal workflow status name.
	Status string
}

// Ledger is an append-only sink for run cost entries.
//
// Implementations never rewrite prior rows. Callers are expected to
// log and swallow Append errors: cost recording must not fail a run.
type Ledger interface {
	// Append writes one entry.
	Append(entry Entry) error
}

// FileLedger appends CSV rows to a flat file.
//
// Coordination with concurrent runs relies on the filesystem's
// O_APPEND semantics; the ledger itself holds no shared in-process
// state beyond a mutex serializing this process's writes.
type FileLedger struct {
	mu   sync.Mutex
	path string
}

// NewFileLedger creates a ledger writing to path (supports a leading
// ~). The parent directory is created on first use, not here: ledger
// construction must never fail a run either.
func NewFileLedger(path string) *FileLedger {
	if path == "" {
		path = DefaultLedgerPath
	}
	return &FileLedger{path: expandPath(path)}
}

// Path returns the resolved ledger path.
func (l *FileLedger) Path() string {
	return l.path
}

// Append writes one CSV row, creating the file (with header) first if
// needed.
func (l *FileLedger) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0750); err != nil {
		return fmt.Errorf("cost: create ledger dir: %w", err)
	}

	_, statErr := os.Stat(l.path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("cost: open ledger: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(ledgerHeader); err != nil {
			return fmt.Errorf("cost: write ledger header: %w", err)
		}
	}
	row := []string{
		entry.Timestamp.UTC().Format(time.RFC3339),
		entry.RunID,
		strconv.FormatFloat(entry.EstimatedCost, 'f', 6, 64),
		strconv.FormatFloat(entry.ActualCost, 'f', 6, 64),
		entry.Status,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("cost: write ledger row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("cost: flush ledger: %w", err)
	}
	return nil
}

// MemoryLedger is an in-memory Ledger for tests and dry runs.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []Entry

	// FailWith, when non-nil, is returned by every Append. Used to
	// exercise the swallow-ledger-errors contract.
	FailWith error
}

// Append records the entry in memory.
func (l *MemoryLedger) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWith != nil {
		return l.FailWith
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (l *MemoryLedger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
