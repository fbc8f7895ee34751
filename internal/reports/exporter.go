package reports

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"telemetry-cloud/internal/analytics/domain/statistic"
	consumption "telemetry-cloud/internal/consumption/domain"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	"telemetry-cloud/internal/observability/metrics"
)

// Exporter queries rolled-up series and renders export documents.
type Exporter struct {
	statistics  statistic.Repository
	consumption consumption.Repository
	units       masterdata.UnitRepository
	resources   masterdata.ResourceRepository
	clock       statistic.Clock
	logger      *log.Logger
}

// ExporterOption configures the exporter.
type ExporterOption func(*Exporter)

// WithExporterClock overrides the clock.
func WithExporterClock(clock statistic.Clock) ExporterOption {
	return func(e *Exporter) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithExporterLogger overrides the logger.
func WithExporterLogger(logger *log.Logger) ExporterOption {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExporter constructs an exporter.
func NewExporter(statistics statistic.Repository, consumptionRecords consumption.Repository, units masterdata.UnitRepository, resources masterdata.ResourceRepository, opts ...ExporterOption) (*Exporter, error) {
	if statistics == nil {
		return nil, errors.New("reports: nil statistic repository")
	}
	if consumptionRecords == nil {
		return nil, errors.New("reports: nil consumption repository")
	}
	if units == nil {
		return nil, errors.New("reports: nil unit repository")
	}
	if resources == nil {
		return nil, errors.New("reports: nil resource repository")
	}
	e := &Exporter{
		statistics:  statistics,
		consumption: consumptionRecords,
		units:       units,
		resources:   resources,
		clock:       statistic.SystemClock{},
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// StatisticsXLSX builds the statistics workbook for one unit variable
// series.
func (e *Exporter) StatisticsXLSX(ctx context.Context, unitID, variable string, kind statistic.PeriodKind, year int) ([]byte, error) {
	started := e.clock.Now()
	data, err := e.statisticsXLSX(ctx, unitID, variable, kind, year)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(started))
		return nil, err
	}
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(started))
	return data, nil
}

func (e *Exporter) statisticsXLSX(ctx context.Context, unitID, variable string, kind statistic.PeriodKind, year int) ([]byte, error) {
	if !kind.IsValid() {
		return nil, statistic.ErrInvalidKind
	}
	unit, err := e.units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	unitName := unitID
	if unit != nil {
		unitName = unit.Name
	}

	records, err := e.statistics.List(ctx, unitID, variable, kind, year)
	if err != nil {
		return nil, err
	}
	rows := make([]StatisticsRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, StatisticsRow{
			Period: periodLabel(record.Key),
			Stats:  record.Stats,
		})
	}

	return BuildStatisticsXLSX(StatisticsReport{
		Title:       "Statistics Report",
		UnitName:    unitName,
		Variable:    variable,
		PeriodKind:  kind,
		Year:        year,
		GeneratedAt: e.clock.Now().UTC().Format(time.RFC3339),
		Rows:        rows,
	})
}

// ConsumptionPDF builds the consumption summary PDF for one item
// series.
func (e *Exporter) ConsumptionPDF(ctx context.Context, resource int, itemID string, kind statistic.PeriodKind, year int) ([]byte, error) {
	started := e.clock.Now()
	data, err := e.consumptionPDF(ctx, resource, itemID, kind, year)
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(started))
		return nil, err
	}
	metrics.ObserveExport("pdf", metrics.ResultSuccess, time.Since(started))
	return data, nil
}

func (e *Exporter) consumptionPDF(ctx context.Context, resource int, itemID string, kind statistic.PeriodKind, year int) ([]byte, error) {
	if !kind.IsValid() {
		return nil, statistic.ErrInvalidKind
	}
	resourceName := fmt.Sprintf("resource %d", resource)
	measurementUnit := ""
	if res, err := e.resources.Get(ctx, resource); err != nil {
		return nil, err
	} else if res != nil {
		resourceName = res.Name
		measurementUnit = res.MeasurementUnit
	}
	itemName := itemID
	if unit, err := e.units.Get(ctx, itemID); err == nil && unit != nil {
		itemName = unit.Name
	}

	records, err := e.consumption.List(ctx, resource, itemID, kind, year)
	if err != nil {
		return nil, err
	}
	rows := make([]ConsumptionRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, ConsumptionRow{
			Period:      periodLabel(record.Key),
			Consumption: record.Consumption,
		})
	}

	return BuildConsumptionPDF(ConsumptionReport{
		Title:           "Consumption Report",
		ItemName:        itemName,
		ResourceName:    resourceName,
		MeasurementUnit: measurementUnit,
		PeriodKind:      kind,
		Year:            year,
		GeneratedAt:     e.clock.Now().UTC().Format(time.RFC3339),
		Rows:            rows,
	})
}

// periodLabel renders a period key as a human-readable label.
func periodLabel(key statistic.PeriodKey) string {
	switch key.Kind {
	case statistic.KindHour:
		return statistic.HourStart(key.Year, key.Index).Format("2006-01-02 15:00")
	case statistic.KindDay:
		day := time.Date(key.Year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, key.Index-1)
		return day.Format("2006-01-02")
	case statistic.KindWeek:
		return fmt.Sprintf("%d-W%02d", key.Year, key.Index)
	case statistic.KindMonth:
		return fmt.Sprintf("%d-%02d", key.Year, key.Index)
	case statistic.KindYear:
		return fmt.Sprintf("%d", key.Year)
	default:
		return fmt.Sprintf("%d/%s/%d", key.Year, key.Kind, key.Index)
	}
}
