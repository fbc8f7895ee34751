package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	analyticsapp "telemetry-cloud/internal/analytics/application"
	"telemetry-cloud/internal/analytics/domain/statistic"
	consumptionapp "telemetry-cloud/internal/consumption/application"
	consumption "telemetry-cloud/internal/consumption/domain"
	"telemetry-cloud/internal/livecache"
	"telemetry-cloud/internal/reports"
)

// StatisticsHandler serves rolled-up statistics queries.
type StatisticsHandler struct {
	records statistic.Repository
}

// NewStatisticsHandler constructs a statistics query handler.
func NewStatisticsHandler(records statistic.Repository) *StatisticsHandler {
	return &StatisticsHandler{records: records}
}

// ServeHTTP handles GET /api/v1/statistics.
func (h *StatisticsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.records == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	unitID := r.URL.Query().Get("unit_id")
	variable := r.URL.Query().Get("variable")
	if unitID == "" || variable == "" {
		http.Error(w, "unit_id and variable are required", http.StatusBadRequest)
		return
	}
	kind, year, err := parsePeriodQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.records.List(r.Context(), unitID, variable, kind, year)
	if err != nil {
		http.Error(w, "query statistics error", http.StatusInternalServerError)
		return
	}

	rows := make([]statisticRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, statisticRow{
			UnitID:   record.UnitID,
			Variable: record.Variable,
			Year:     record.Key.Year,
			Kind:     string(record.Key.Kind),
			Index:    record.Key.Index,
			Count:    record.Stats.Count,
			Mean:     record.Stats.Mean,
			Min:      record.Stats.Min,
			Max:      record.Stats.Max,
			StdDev:   record.Stats.StdDev,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

type statisticRow struct {
	UnitID   string  `json:"unit_id"`
	Variable string  `json:"variable"`
	Year     int     `json:"year"`
	Kind     string  `json:"kind"`
	Index    int     `json:"index"`
	Count    int64   `json:"count"`
	Mean     float64 `json:"mean"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	StdDev   float64 `json:"std_dev"`
}

// ConsumptionHandler serves rolled-up consumption queries.
type ConsumptionHandler struct {
	records consumption.Repository
}

// NewConsumptionHandler constructs a consumption query handler.
func NewConsumptionHandler(records consumption.Repository) *ConsumptionHandler {
	return &ConsumptionHandler{records: records}
}

// ServeHTTP handles GET /api/v1/consumption.
func (h *ConsumptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.records == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	resource, err := parseIntQuery(r, "resource")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		http.Error(w, "item_id is required", http.StatusBadRequest)
		return
	}
	kind, year, err := parsePeriodQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.records.List(r.Context(), resource, itemID, kind, year)
	if err != nil {
		http.Error(w, "query consumption error", http.StatusInternalServerError)
		return
	}

	rows := make([]consumptionRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, consumptionRow{
			Resource:    record.Resource,
			ItemID:      record.ItemID,
			Year:        record.Key.Year,
			Kind:        string(record.Key.Kind),
			Index:       record.Key.Index,
			Consumption: record.Consumption,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

type consumptionRow struct {
	Resource    int     `json:"resource"`
	ItemID      string  `json:"item_id"`
	Year        int     `json:"year"`
	Kind        string  `json:"kind"`
	Index       int     `json:"index"`
	Consumption float64 `json:"consumption"`
}

// RollupHandler triggers rollup runs on demand.
type RollupHandler struct {
	statistics  *analyticsapp.RollupService
	consumption *consumptionapp.RollupService
}

// NewRollupHandler constructs a rollup trigger handler.
func NewRollupHandler(statistics *analyticsapp.RollupService, consumptionService *consumptionapp.RollupService) *RollupHandler {
	return &RollupHandler{statistics: statistics, consumption: consumptionService}
}

// ServeHTTP handles POST /api/v1/rollup/statistics and
// POST /api/v1/rollup/consumption.
func (h *RollupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	switch r.URL.Path {
	case "/api/v1/rollup/statistics":
		h.runStatistics(w, r)
	case "/api/v1/rollup/consumption":
		h.runConsumption(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *RollupHandler) runStatistics(w http.ResponseWriter, r *http.Request) {
	if h.statistics == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	unitID := r.URL.Query().Get("unit_id")
	variable := r.URL.Query().Get("variable")
	if unitID != "" && variable != "" {
		summary, err := h.statistics.RunUnit(r.Context(), unitID, variable)
		if err != nil {
			writeRollupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runSummaryBody{HoursComputed: summary.HoursComputed, GapsSkipped: summary.GapsSkipped})
		return
	}
	if err := h.statistics.RunAll(r.Context()); err != nil {
		http.Error(w, "rollup error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *RollupHandler) runConsumption(w http.ResponseWriter, r *http.Request) {
	if h.consumption == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	blockID := r.URL.Query().Get("block_id")
	if blockID != "" {
		resource, err := parseIntQuery(r, "resource")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		summary, err := h.consumption.RunBlock(r.Context(), blockID, resource)
		if err != nil {
			writeRollupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runSummaryBody{HoursComputed: summary.HoursComputed, GapsSkipped: summary.GapsSkipped})
		return
	}
	if err := h.consumption.RunAll(r.Context()); err != nil {
		http.Error(w, "rollup error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type runSummaryBody struct {
	HoursComputed int `json:"hours_computed"`
	GapsSkipped   int `json:"gaps_skipped"`
}

func writeRollupError(w http.ResponseWriter, err error) {
	if errors.Is(err, analyticsapp.ErrRollupInProgress) || errors.Is(err, consumptionapp.ErrRollupInProgress) {
		http.Error(w, "rollup already running", http.StatusConflict)
		return
	}
	if errors.Is(err, analyticsapp.ErrUnknownUnit) || errors.Is(err, consumptionapp.ErrUnknownBlock) {
		http.Error(w, "unknown id", http.StatusNotFound)
		return
	}
	http.Error(w, "rollup error", http.StatusInternalServerError)
}

// RecomputeHandler deletes a series and rebuilds it from raw samples.
type RecomputeHandler struct {
	statistics *analyticsapp.RollupService
}

// NewRecomputeHandler constructs a recompute handler.
func NewRecomputeHandler(statistics *analyticsapp.RollupService) *RecomputeHandler {
	return &RecomputeHandler{statistics: statistics}
}

// ServeHTTP handles POST /api/v1/recompute/statistics.
func (h *RecomputeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.statistics == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	unitID := r.URL.Query().Get("unit_id")
	variable := r.URL.Query().Get("variable")
	if unitID == "" || variable == "" {
		http.Error(w, "unit_id and variable are required", http.StatusBadRequest)
		return
	}

	summary, err := h.statistics.Recompute(r.Context(), unitID, variable)
	if err != nil {
		writeRollupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runSummaryBody{HoursComputed: summary.HoursComputed, GapsSkipped: summary.GapsSkipped})
}

// RemoveHourHandler removes one hourly consumption record and applies
// the symmetric correction to the coarser tiers.
type RemoveHourHandler struct {
	consumption *consumptionapp.RollupService
}

// NewRemoveHourHandler constructs a removal handler.
func NewRemoveHourHandler(consumptionService *consumptionapp.RollupService) *RemoveHourHandler {
	return &RemoveHourHandler{consumption: consumptionService}
}

// ServeHTTP handles DELETE /api/v1/consumption/hourly.
func (h *RemoveHourHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.consumption == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	resource, err := parseIntQuery(r, "resource")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	unitID := r.URL.Query().Get("unit_id")
	if unitID == "" {
		http.Error(w, "unit_id is required", http.StatusBadRequest)
		return
	}
	year, err := parseIntQuery(r, "year")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hour, err := parseIntQuery(r, "hour")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.consumption.RemoveHour(r.Context(), resource, unitID, year, hour); err != nil {
		if errors.Is(err, consumption.ErrNoRecord) {
			http.Error(w, "hourly record not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, consumptionapp.ErrUnknownItem) {
			http.Error(w, "unknown item", http.StatusNotFound)
			return
		}
		http.Error(w, "remove hour error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LiveHandler serves the live site tree snapshot.
type LiveHandler struct {
	cache *livecache.Cache
}

// NewLiveHandler constructs a live snapshot handler.
func NewLiveHandler(cache *livecache.Cache) *LiveHandler {
	return &LiveHandler{cache: cache}
}

// ServeHTTP handles GET /api/v1/live.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.cache == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	snapshot, err := h.cache.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "snapshot error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// RefreshHandler rebuilds the live tree from masterdata.
type RefreshHandler struct {
	cache *livecache.Cache
}

// NewRefreshHandler constructs a refresh handler.
func NewRefreshHandler(cache *livecache.Cache) *RefreshHandler {
	return &RefreshHandler{cache: cache}
}

// ServeHTTP handles POST /api/v1/live/refresh.
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.cache == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	if err := h.cache.Refresh(r.Context()); err != nil {
		http.Error(w, "refresh error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// ReportsHandler serves export documents.
type ReportsHandler struct {
	exporter *reports.Exporter
}

// NewReportsHandler constructs a reports handler.
func NewReportsHandler(exporter *reports.Exporter) *ReportsHandler {
	return &ReportsHandler{exporter: exporter}
}

// ServeHTTP handles GET /api/v1/reports/statistics.xlsx and
// GET /api/v1/reports/consumption.pdf.
func (h *ReportsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.exporter == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	switch r.URL.Path {
	case "/api/v1/reports/statistics.xlsx":
		h.statisticsXLSX(w, r)
	case "/api/v1/reports/consumption.pdf":
		h.consumptionPDF(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *ReportsHandler) statisticsXLSX(w http.ResponseWriter, r *http.Request) {
	unitID := r.URL.Query().Get("unit_id")
	variable := r.URL.Query().Get("variable")
	if unitID == "" || variable == "" {
		http.Error(w, "unit_id and variable are required", http.StatusBadRequest)
		return
	}
	kind, year, err := parsePeriodQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := h.exporter.StatisticsXLSX(r.Context(), unitID, variable, kind, year)
	if err != nil {
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="statistics.xlsx"`)
	_, _ = w.Write(data)
}

func (h *ReportsHandler) consumptionPDF(w http.ResponseWriter, r *http.Request) {
	resource, err := parseIntQuery(r, "resource")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		http.Error(w, "item_id is required", http.StatusBadRequest)
		return
	}
	kind, year, err := parsePeriodQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := h.exporter.ConsumptionPDF(r.Context(), resource, itemID, kind, year)
	if err != nil {
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="consumption.pdf"`)
	_, _ = w.Write(data)
}

func parsePeriodQuery(r *http.Request) (statistic.PeriodKind, int, error) {
	kind := statistic.PeriodKind(r.URL.Query().Get("kind"))
	if !kind.IsValid() {
		return "", 0, errors.New("kind must be hour, day, week, month or year")
	}
	year, err := parseIntQuery(r, "year")
	if err != nil {
		return "", 0, err
	}
	return kind, year, nil
}

func parseIntQuery(r *http.Request, key string) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, errors.New(key + " is required")
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
