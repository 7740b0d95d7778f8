// internal/output/output_test.go
package output

import (
	"path/filepath"
	"testing"
)

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.csv")
	header := []string{"a", "b"}
	rows := [][]string{{"1", "x,y"}, {"2", `quoted "text"`}}

	if err := WriteCSV(path, header, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	gotHeader, gotRows, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(gotHeader) != 2 || gotHeader[0] != "a" {
		t.Errorf("header = %v", gotHeader)
	}
	if len(gotRows) != 2 || gotRows[0][1] != "x,y" || gotRows[1][1] != `quoted "text"` {
		t.Errorf("rows = %v", gotRows)
	}
}

func TestCSVOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.csv")
	if err := WriteCSV(path, []string{"a"}, [][]string{{"1"}, {"2"}}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if err := WriteCSV(path, []string{"a"}, [][]string{{"3"}}); err != nil {
		t.Fatalf("WriteCSV overwrite: %v", err)
	}
	_, rows, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "3" {
		t.Errorf("rows = %v, want replacement", rows)
	}
}
