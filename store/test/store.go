package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrygo/assetvault/internal/profile"
	"github.com/hrygo/assetvault/store"
	"github.com/hrygo/assetvault/store/db"
)

// NewTestingStore returns a migrated store backed by the driver named in DRIVER.
// SQLite is used when DRIVER is unset.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	p := getTestingProfile(t)
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(dbDriver, p)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func getTestingProfile(t *testing.T) *profile.Profile {
	dir := t.TempDir()
	driver := getDriverFromEnv()
	p := &profile.Profile{
		Mode:           "dev",
		Data:           dir,
		Driver:         driver,
		VectorBackend:  "memory",
		QueueBackend:   "memory",
		StorageBackend: "local",
	}
	switch driver {
	case "postgres":
		p.DSN = GetPostgresDSN(t)
		p.VectorBackend = "pgvector"
	default:
		p.DSN = filepath.Join(dir, "assetvault_test.db")
	}
	return p
}

func getDriverFromEnv() string {
	driver := os.Getenv("DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}
