package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFootprintBytes(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "scribe.db")
	write := func(path, data string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(db, "hello")
	write(db+"-wal", "abc")

	index := filepath.Join(dir, "index")
	if err := os.Mkdir(index, 0755); err != nil {
		t.Fatal(err)
	}
	write(filepath.Join(index, "a"), "ab")

	tests := []struct {
		name  string
		db    string
		extra []string
		want  int64
	}{
		{"database with wal", db, nil, 8},
		{"with index directory", db, []string{index}, 10},
		{"missing paths", filepath.Join(dir, "none.db"), []string{filepath.Join(dir, "gone")}, 0},
		{"empty database path", "", []string{index, ""}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FootprintBytes(tt.db, tt.extra...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d bytes, want %d", got, tt.want)
			}
		})
	}
}
