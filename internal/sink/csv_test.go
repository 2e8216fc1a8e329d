package sink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return rows
}

func TestCSVSinkWritesHeaderOnceThenRows(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}

	evt1 := Event{"contract_name": "Token", "event_name": "Transfer", "value": "10"}
	evt2 := Event{"contract_name": "Token", "event_name": "Transfer", "value": "20"}

	if err := s.Write(evt1); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if err := s.Write(evt2); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	rows := readCSV(t, filepath.Join(dir, "Token_Transfer.csv"))
	if len(rows) != 3 {
		t.Fatalf("got %d rows (including header), want 3", len(rows))
	}
	// fixed audit columns come first (contract_name, event_name), then the
	// remaining keys sorted alphabetically (value)
	want := []string{"contract_name", "event_name", "value"}
	for i, h := range want {
		if rows[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], h)
		}
	}
}

func TestCSVSinkSeparatesFilesPerContractAndEvent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}

	if err := s.Write(Event{"contract_name": "Token", "event_name": "Transfer"}); err != nil {
		t.Fatalf("Write Token.Transfer: %v", err)
	}
	if err := s.Write(Event{"contract_name": "Token", "event_name": "Approval"}); err != nil {
		t.Fatalf("Write Token.Approval: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "Token_Transfer.csv")); err != nil {
		t.Errorf("expected Token_Transfer.csv to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Token_Approval.csv")); err != nil {
		t.Errorf("expected Token_Approval.csv to exist: %v", err)
	}
}

func TestCSVSinkFallsBackToUnknownForMissingNames(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}

	if err := s.Write(Event{"value": "1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "unknown_unknown.csv")); err != nil {
		t.Errorf("expected unknown_unknown.csv for an event with no names: %v", err)
	}
}
