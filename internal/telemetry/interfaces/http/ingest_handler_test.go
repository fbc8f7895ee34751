package http_test

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telemetry-cloud/internal/eventing"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	masterdatamem "telemetry-cloud/internal/masterdata/infrastructure/memory"
	"telemetry-cloud/internal/telemetry/application/events"
	telemetry "telemetry-cloud/internal/telemetry/domain"
	telemetrymem "telemetry-cloud/internal/telemetry/infrastructure/memory"
	ingesthttp "telemetry-cloud/internal/telemetry/interfaces/http"
)

type recordingToucher struct {
	touched [][]string
}

func (t *recordingToucher) Touch(blockIDs ...string) {
	t.touched = append(t.touched, blockIDs)
}

type recordingRecorder struct {
	samples []telemetry.Sample
}

func (r *recordingRecorder) Record(samples []telemetry.Sample) {
	r.samples = append(r.samples, samples...)
}

func newIngestFixture(t *testing.T) (*ingesthttp.IngestHandler, *telemetrymem.SampleStore, *recordingToucher, *recordingRecorder, *eventing.InMemoryBus) {
	t.Helper()
	units := masterdatamem.NewUnitRepository()
	for _, unit := range []*masterdata.Unit{
		{ID: "u1", BlockID: "b1", Name: "Boiler 1", ClassCode: "boiler", Ordinality: 1, Active: true},
		{ID: "u2", BlockID: "b2", Name: "Pump 1", ClassCode: "pump", Ordinality: 1, Active: true},
	} {
		if err := units.Save(context.Background(), unit); err != nil {
			t.Fatalf("save unit: %v", err)
		}
	}
	store := telemetrymem.NewSampleStore()
	toucher := &recordingToucher{}
	recorder := &recordingRecorder{}
	bus := eventing.NewInMemoryBus()
	handler, err := ingesthttp.NewIngestHandler(store, units, log.New(testWriter{t}, "", 0),
		ingesthttp.WithRecorder(recorder),
		ingesthttp.WithToucher(toucher),
		ingesthttp.WithEventBus(bus),
	)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, store, toucher, recorder, bus
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func TestIngestPersistsAndTouchesBlocks(t *testing.T) {
	handler, store, toucher, recorder, bus := newIngestFixture(t)

	var received *events.SampleBatchReceived
	bus.Subscribe(eventing.EventTypeOf[events.SampleBatchReceived](), func(ctx context.Context, event any) error {
		if batch, ok := event.(events.SampleBatchReceived); ok {
			received = &batch
		}
		return nil
	})

	body := `{"samples":[
		{"unitId":"u1","variable":"pressure","ts":1718000000,"value":42.5},
		{"unitId":"u2","variable":"flow","ts":1718000000,"value":7}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	samples, err := store.Query(context.Background(), "u1", "pressure",
		time.Unix(1717999999, 0), time.Unix(1718000001, 0))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(samples) != 1 || samples[0].Value != 42.5 {
		t.Fatalf("expected persisted sample, got %+v", samples)
	}
	if len(recorder.samples) != 2 {
		t.Fatalf("expected 2 recorded samples, got %d", len(recorder.samples))
	}
	if len(toucher.touched) != 1 {
		t.Fatalf("expected one touch, got %d", len(toucher.touched))
	}
	if got := toucher.touched[0]; len(got) != 2 || got[0] != "b1" || got[1] != "b2" {
		t.Fatalf("expected touched blocks [b1 b2], got %v", got)
	}
	if received == nil {
		t.Fatal("expected batch event")
	}
	if len(received.BlockIDs) != 2 || len(received.UnitIDs) != 2 {
		t.Fatalf("unexpected event payload: %+v", received)
	}
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	handler, _, toucher, _, _ := newIngestFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"samples":[]}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`not-json`))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if len(toucher.touched) != 0 {
		t.Fatalf("expected no touches on rejection, got %v", toucher.touched)
	}
}

func TestIngestUnknownUnitStillPersists(t *testing.T) {
	handler, store, toucher, _, _ := newIngestFixture(t)

	body := `{"samples":[{"unitId":"ghost","variable":"pressure","ts":1718000000,"value":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	latest, err := store.Latest(context.Background(), "ghost", "pressure")
	if err != nil || latest == nil {
		t.Fatalf("expected persisted sample, got %v err %v", latest, err)
	}
	if len(toucher.touched) != 0 {
		t.Fatalf("expected no block touches for unknown unit, got %v", toucher.touched)
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	handler, _, _, _, _ := newIngestFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}
