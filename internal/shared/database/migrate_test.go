package database

import (
	"reflect"
	"testing"
	"testing/fstest"
)

func TestPending(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_seals.sql": {Data: []byte("SELECT 1")},
		"migrations/001_flows.sql": {Data: []byte("SELECT 1")},
		"migrations/README.md":     {Data: []byte("notes")},
	}

	tests := []struct {
		name    string
		applied []string
		want    []string
	}{
		{"Fresh database", nil, []string{"001_flows.sql", "002_seals.sql"}},
		{"Partially applied", []string{"001_flows"}, []string{"002_seals.sql"}},
		{"Up to date", []string{"001_flows", "002_seals"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pending(fsys, tt.applied)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := Pending(migrationsFS, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(files) == 0 || files[0] != "001_flows.sql" {
		t.Errorf("Expected embedded flow migration first, got %v", files)
	}
}
