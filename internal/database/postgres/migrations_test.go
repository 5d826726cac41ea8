package postgres

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_SortedWithChecksums(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_second.sql": {Data: []byte("SELECT 2;")},
		"m/001_first.sql":  {Data: []byte("SELECT 1;")},
		"m/README.md":      {Data: []byte("ignored")},
	}

	got, err := loadMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(got))
	}
	if got[0].Version != "001_first.sql" || got[1].Version != "002_second.sql" {
		t.Errorf("unexpected order: %s, %s", got[0].Version, got[1].Version)
	}
	if got[0].SQL != "SELECT 1;" {
		t.Errorf("SQL = %q", got[0].SQL)
	}
	if len(got[0].Checksum) != 64 {
		t.Errorf("checksum should be 64 hex characters, got %q", got[0].Checksum)
	}
	if got[0].Checksum == got[1].Checksum {
		t.Error("different files should have different checksums")
	}
}

func TestLoadMigrations_Embedded(t *testing.T) {
	got, err := loadMigrations(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected embedded migrations")
	}
	if got[0].Version != "001_initial.sql" {
		t.Errorf("first migration = %s; want 001_initial.sql", got[0].Version)
	}
}
