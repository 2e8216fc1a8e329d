package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// auditColumnOrder lists the fixed fields auditEvent always attaches to a
// dispatched event, in the order they should appear as CSV columns. Any
// other key present in the event (a decoded ABI argument) is appended after
// these, sorted alphabetically, so every row for a given contract/event pair
// keeps a stable column layout even though the ABI-derived keys vary.
var auditColumnOrder = []string{
	"contract_name", "event_name", "block_number", "log_index", "address", "tx_hash", "timestamp",
}

// openAuditFile wraps one contract/event pair's CSV file, its writer, and
// the header order fixed at creation time.
type openAuditFile struct {
	file    *os.File
	writer  *csv.Writer
	headers []string
}

// CSVSink is an append-only audit trail: one CSV file per (contract, event)
// pair under outputDir, named "<contract>_<event>.csv". The header row is
// derived once per file from auditColumnOrder plus whatever extra keys the
// first event for that pair carries, and every later row follows that same
// column order regardless of which keys it actually has.
//
// Sink.Write is only ever called from the scanner's single dispatch loop,
// but the mutex keeps CSVSink safe to reuse from a second caller (e.g. a
// manual audit backfill) without requiring a redesign.
type CSVSink struct {
	outputDir string
	mu        sync.Mutex
	open      map[string]*openAuditFile
}

// NewCSVSink builds a sink writing CSV files under outputDir, creating the
// directory tree if needed.
func NewCSVSink(outputDir string) (*CSVSink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create csv output directory %s: %w", outputDir, err)
	}
	return &CSVSink{
		outputDir: outputDir,
		open:      make(map[string]*openAuditFile),
	}, nil
}

// Write appends evt as one CSV row, lazily opening (and header-priming) the
// file for its contract/event pair. Events missing contract_name or
// event_name fall back to "unknown" rather than being dropped, since a
// malformed event is still worth an audit trail entry.
func (s *CSVSink) Write(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contractName, _ := evt["contract_name"].(string)
	if contractName == "" {
		contractName = "unknown"
	}
	eventName, _ := evt["event_name"].(string)
	if eventName == "" {
		eventName = "unknown"
	}
	key := contractName + "_" + eventName

	f, ok := s.open[key]
	if !ok {
		var err error
		f, err = s.openFile(key, evt)
		if err != nil {
			return err
		}
		s.open[key] = f
	}

	row := make([]string, len(f.headers))
	for i, h := range f.headers {
		if v, ok := evt[h]; ok {
			row[i] = fmt.Sprint(v)
		}
	}
	if err := f.writer.Write(row); err != nil {
		return fmt.Errorf("sink: write row to %s.csv: %w", key, err)
	}
	f.writer.Flush()
	return f.writer.Error()
}

// openFile opens (creating if absent) the CSV file for key, writing a
// header row derived from evt's keys only if the file is new (zero-length
// after open, which also covers a just-created file).
func (s *CSVSink) openFile(key string, evt Event) (*openAuditFile, error) {
	path := filepath.Join(s.outputDir, key+".csv")
	raw, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}

	info, err := raw.Stat()
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("sink: stat %s: %w", path, err)
	}

	w := csv.NewWriter(raw)
	headers := auditHeaders(evt)

	if info.Size() == 0 {
		if err := w.Write(headers); err != nil {
			raw.Close()
			return nil, fmt.Errorf("sink: write header for %s: %w", path, err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			raw.Close()
			return nil, fmt.Errorf("sink: flush header for %s: %w", path, err)
		}
	}

	return &openAuditFile{file: raw, writer: w, headers: headers}, nil
}

// auditHeaders orders evt's keys with the fixed audit fields first (in
// auditColumnOrder), followed by any remaining keys sorted alphabetically.
func auditHeaders(evt Event) []string {
	seen := make(map[string]bool, len(evt))
	headers := make([]string, 0, len(evt))

	for _, k := range auditColumnOrder {
		if _, ok := evt[k]; ok {
			headers = append(headers, k)
			seen[k] = true
		}
	}

	var extra []string
	for k := range evt {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(headers, extra...)
}
