package migrate_test

import (
	"context"
	"testing"

	"voicetrack/internal/db"
	"voicetrack/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, err := migrate.Current(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh db version = %d, %v", v, err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if applied == 0 {
		t.Fatalf("expected migrations to run on a fresh db")
	}
	again, err := migrate.Migrate(ctx, conn)
	if err != nil || again != 0 {
		t.Fatalf("second migrate applied=%d err=%v", again, err)
	}
	latest, err := migrate.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	current, err := migrate.Current(ctx, conn)
	if err != nil || current != latest {
		t.Fatalf("current=%d latest=%d err=%v", current, latest, err)
	}
	for _, table := range []string{"projects", "stages", "tasks", "project_data", "events", "project_configs"} {
		var name string
		if err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
