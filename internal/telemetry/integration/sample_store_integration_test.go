package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	telemetry "telemetry-cloud/internal/telemetry/domain"
	telemetrypostgres "telemetry-cloud/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestSampleStorePostgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "telemetry_samples") {
		t.Skip("telemetry_samples missing; run migrations")
	}

	ctx := context.Background()
	unitID := "unit-it-sample"
	variable := "temperature"

	_, _ = db.ExecContext(ctx, `DELETE FROM telemetry_samples WHERE unit_id = $1`, unitID)

	store := telemetrypostgres.NewSampleStore(db)
	base := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)

	batch := []telemetry.Sample{
		{UnitID: unitID, Variable: variable, CollectedAt: base, Value: 20},
		{UnitID: unitID, Variable: variable, CollectedAt: base.Add(10 * time.Minute), Value: 22},
		{UnitID: unitID, Variable: variable, CollectedAt: base.Add(20 * time.Minute), Value: 24},
	}
	if err := store.Insert(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Reinserting the same batch must be a no-op, not an error.
	if err := store.Insert(ctx, batch); err != nil {
		t.Fatalf("reinsert: %v", err)
	}

	got, err := store.Query(ctx, unitID, variable, base, base.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("query returned %d samples, want 2 (exclusive upper bound)", len(got))
	}
	if !got[0].CollectedAt.Before(got[1].CollectedAt) {
		t.Fatalf("query not ordered ascending: %v then %v", got[0].CollectedAt, got[1].CollectedAt)
	}

	latest, err := store.Latest(ctx, unitID, variable)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Value != 24 {
		t.Fatalf("latest = %+v, want value 24", latest)
	}
	if missing, err := store.Latest(ctx, unitID, "no-such-variable"); err != nil || missing != nil {
		t.Fatalf("latest miss = %+v, %v; want nil, nil", missing, err)
	}

	earliest, ok, err := store.Earliest(ctx, []string{unitID, "unit-it-absent"})
	if err != nil {
		t.Fatalf("earliest: %v", err)
	}
	if !ok || !earliest.Equal(base) {
		t.Fatalf("earliest = %v ok=%v, want %v true", earliest, ok, base)
	}
	if _, ok, err := store.Earliest(ctx, []string{"unit-it-absent"}); err != nil || ok {
		t.Fatalf("earliest of absent unit ok=%v err=%v, want false nil", ok, err)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
