package migrate

import (
	"testing"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion int
		wantName    string
		wantErr     bool
	}{
		{"001_initial_schema.sql", 1, "initial_schema", false},
		{"012_add_retention_index.sql", 12, "add_retention_index", false},
		{"001_name_with_underscores.sql", 1, "name_with_underscores", false},
		{"invalid.sql", 0, "", true},
		{"abc_name.sql", 0, "", true},
		{"001.sql", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, err := parseFilename(tt.filename)

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s, got nil", tt.filename)
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error for %s: %v", tt.filename, err)
				return
			}

			if version != tt.wantVersion {
				t.Errorf("version: got %d, want %d", version, tt.wantVersion)
			}
			if name != tt.wantName {
				t.Errorf("name: got %s, want %s", name, tt.wantName)
			}
		})
	}
}

func TestAvailableMigrations(t *testing.T) {
	migrations, err := availableMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(migrations) == 0 {
		t.Fatal("expected at least one migration, got none")
	}

	if migrations[0].version != 1 {
		t.Errorf("first migration version: got %d, want 1", migrations[0].version)
	}

	for i := 1; i < len(migrations); i++ {
		if migrations[i].version <= migrations[i-1].version {
			t.Errorf("migrations not sorted: %d comes after %d",
				migrations[i].version, migrations[i-1].version)
		}
	}

	for _, m := range migrations {
		if m.sql == "" {
			t.Errorf("migration %d (%s) has empty SQL", m.version, m.name)
		}
	}
}
