package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"telemetry-cloud/internal/eventing"
	eventingrepo "telemetry-cloud/internal/eventing/infrastructure/postgres"
	telemetryevents "telemetry-cloud/internal/telemetry/application/events"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openEventingDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if !tableExists(db, "event_outbox") ||
		!tableExists(db, "processed_events") ||
		!tableExists(db, "dead_letter_events") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM processed_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM dead_letter_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")
	return db
}

func TestOutboxIdempotentConsumer(t *testing.T) {
	db := openEventingDB(t)
	ctx := context.Background()

	baseBus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(telemetryevents.SampleBatchReceived{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, "site-test", baseBus)

	count := 0
	eventing.Subscribe(baseBus, eventing.EventTypeOf[telemetryevents.SampleBatchReceived](), "consumer-a", func(ctx context.Context, event any) error {
		count++
		return nil
	}, processedStore)

	payload := telemetryevents.SampleBatchReceived{
		SiteID:     "site-test",
		BlockIDs:   []string{"block-1"},
		UnitIDs:    []string{"unit-1"},
		OccurredAt: time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC),
	}

	evtCtx := eventing.WithEventID(ctx, "evt-dup-001")
	if err := publisher.Publish(evtCtx, payload); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	if err := publisher.Publish(evtCtx, payload); err != nil {
		t.Fatalf("publish duplicate: %v", err)
	}

	_ = dispatcher.Dispatch(ctx, 10)

	if count != 1 {
		t.Fatalf("expected handler once, got %d", count)
	}
}

func TestOutboxDLQOnFailure(t *testing.T) {
	db := openEventingDB(t)
	ctx := context.Background()

	baseBus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(telemetryevents.SampleBatchReceived{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, "site-test", baseBus)

	eventing.Subscribe(baseBus, eventing.EventTypeOf[telemetryevents.SampleBatchReceived](), "consumer-fail", func(ctx context.Context, event any) error {
		return errors.New("boom")
	}, processedStore)

	payload := telemetryevents.SampleBatchReceived{
		SiteID:     "site-test",
		BlockIDs:   []string{"block-2"},
		OccurredAt: time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC),
	}
	if err := publisher.Publish(ctx, payload); err != nil {
		t.Fatalf("publish event: %v", err)
	}

	_ = dispatcher.Dispatch(ctx, 10)

	var dlqCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letter_events").Scan(&dlqCount); err != nil {
		t.Fatalf("count dlq: %v", err)
	}
	if dlqCount != 1 {
		t.Fatalf("expected 1 dlq record, got %d", dlqCount)
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
