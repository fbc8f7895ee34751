package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"telemetry-cloud/internal/eventing"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	"telemetry-cloud/internal/observability/metrics"
	"telemetry-cloud/internal/telemetry/application/events"
	telemetry "telemetry-cloud/internal/telemetry/domain"
)

// SampleRecorder feeds freshly ingested samples into the last-known
// value memo.
type SampleRecorder interface {
	Record(samples []telemetry.Sample)
}

// BlockToucher marks blocks dirty for the next live-cache tick.
type BlockToucher interface {
	Touch(blockIDs ...string)
}

// IngestHandler accepts gateway sample batches.
type IngestHandler struct {
	writer   telemetry.SampleWriter
	units    masterdata.UnitRepository
	recorder SampleRecorder
	toucher  BlockToucher
	bus      eventing.EventBus
	logger   *log.Logger
}

// IngestOption configures the handler.
type IngestOption func(*IngestHandler)

// WithRecorder wires the last-known value memo.
func WithRecorder(recorder SampleRecorder) IngestOption {
	return func(h *IngestHandler) { h.recorder = recorder }
}

// WithToucher wires the live-cache dirty marker.
func WithToucher(toucher BlockToucher) IngestOption {
	return func(h *IngestHandler) { h.toucher = toucher }
}

// WithEventBus wires batch-received event publishing.
func WithEventBus(bus eventing.EventBus) IngestOption {
	return func(h *IngestHandler) { h.bus = bus }
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(writer telemetry.SampleWriter, units masterdata.UnitRepository, logger *log.Logger, opts ...IngestOption) (*IngestHandler, error) {
	if writer == nil {
		return nil, errors.New("ingest: nil sample writer")
	}
	if units == nil {
		return nil, errors.New("ingest: nil unit repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &IngestHandler{writer: writer, units: units, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP ingests a sample batch.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("ingest: read body error: %v", err)
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("ingest: decode error: %v", err)
		metrics.IncIngestError("decode")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	samples, err := req.toSamples()
	if err != nil {
		h.logger.Printf("ingest: invalid payload: %v", err)
		metrics.IncIngestError("payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.writer.Insert(r.Context(), samples); err != nil {
		h.logger.Printf("ingest: insert error: %v", err)
		metrics.IncIngestError("insert")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}

	if h.recorder != nil {
		h.recorder.Record(samples)
	}
	blockIDs, unitIDs := h.resolveBlocks(r.Context(), samples)
	if h.toucher != nil && len(blockIDs) > 0 {
		h.toucher.Touch(blockIDs...)
	}
	if h.bus != nil {
		event := events.SampleBatchReceived{
			BlockIDs:   blockIDs,
			UnitIDs:    unitIDs,
			OccurredAt: time.Now().UTC(),
		}
		if err := h.bus.Publish(r.Context(), event); err != nil {
			h.logger.Printf("ingest: publish error: %v", err)
		}
	}
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(started))

	resp := map[string]any{"inserted": len(samples)}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

// resolveBlocks maps the batch's units to their owning blocks. Unknown
// units are logged and skipped; the batch itself is already persisted.
func (h *IngestHandler) resolveBlocks(ctx context.Context, samples []telemetry.Sample) ([]string, []string) {
	unitSet := make(map[string]struct{})
	for _, sample := range samples {
		unitSet[sample.UnitID] = struct{}{}
	}
	blockSet := make(map[string]struct{})
	unitIDs := make([]string, 0, len(unitSet))
	for unitID := range unitSet {
		unitIDs = append(unitIDs, unitID)
		unit, err := h.units.Get(ctx, unitID)
		if err != nil {
			h.logger.Printf("ingest: resolve unit %s: %v", unitID, err)
			continue
		}
		if unit == nil {
			h.logger.Printf("ingest: unknown unit %s", unitID)
			continue
		}
		blockSet[unit.BlockID] = struct{}{}
	}
	blockIDs := make([]string, 0, len(blockSet))
	for blockID := range blockSet {
		blockIDs = append(blockIDs, blockID)
	}
	sort.Strings(blockIDs)
	sort.Strings(unitIDs)
	return blockIDs, unitIDs
}

type ingestRequest struct {
	Samples []ingestSample `json:"samples"`
}

type ingestSample struct {
	UnitID   string  `json:"unitId"`
	Variable string  `json:"variable"`
	TS       int64   `json:"ts"`
	Value    float64 `json:"value"`
}

func (r ingestRequest) toSamples() ([]telemetry.Sample, error) {
	if len(r.Samples) == 0 {
		return nil, errors.New("no samples")
	}
	samples := make([]telemetry.Sample, 0, len(r.Samples))
	for _, in := range r.Samples {
		ts, err := parseTimestamp(in.TS)
		if err != nil {
			return nil, err
		}
		sample := telemetry.Sample{
			UnitID:      in.UnitID,
			Variable:    in.Variable,
			CollectedAt: ts,
			Value:       in.Value,
		}
		if err := sample.Validate(); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
