package reports_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"telemetry-cloud/internal/analytics/domain/statistic"
	analyticsmem "telemetry-cloud/internal/analytics/infrastructure/memory"
	consumption "telemetry-cloud/internal/consumption/domain"
	consumptionmem "telemetry-cloud/internal/consumption/infrastructure/memory"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	masterdatamem "telemetry-cloud/internal/masterdata/infrastructure/memory"
	"telemetry-cloud/internal/reports"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newExporterFixture(t *testing.T) (*reports.Exporter, *analyticsmem.StatisticRepository, *consumptionmem.ConsumptionRepository) {
	t.Helper()
	stats := analyticsmem.NewStatisticRepository()
	records := consumptionmem.NewConsumptionRepository()
	units := masterdatamem.NewUnitRepository()
	resources := masterdatamem.NewResourceRepository()
	ctx := context.Background()
	if err := units.Save(ctx, &masterdata.Unit{ID: "u1", BlockID: "b1", Name: "Boiler 1", ClassCode: "boiler", Active: true}); err != nil {
		t.Fatalf("save unit: %v", err)
	}
	if err := resources.Save(ctx, &masterdata.Resource{Code: masterdata.ResourceElectricity, Name: "Electricity", MeasurementUnit: "kWh"}); err != nil {
		t.Fatalf("save resource: %v", err)
	}
	exporter, err := reports.NewExporter(stats, records, units, resources,
		reports.WithExporterClock(fixedClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}))
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	return exporter, stats, records
}

func TestStatisticsXLSXContainsSeries(t *testing.T) {
	exporter, stats, _ := newExporterFixture(t)
	ctx := context.Background()

	for day := 1; day <= 3; day++ {
		record := &statistic.Record{
			UnitID:   "u1",
			Variable: "pressure",
			Key:      statistic.PeriodKey{Year: 2024, Kind: statistic.KindDay, Index: day},
			Stats:    statistic.Singleton(float64(40 + day)),
		}
		if err := stats.SaveTier(ctx, []*statistic.Record{record}); err != nil {
			t.Fatalf("save record: %v", err)
		}
	}

	data, err := exporter.StatisticsXLSX(ctx, "u1", "pressure", statistic.KindDay, 2024)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer workbook.Close()

	unitName, err := workbook.GetCellValue("summary", "B3")
	if err != nil || unitName != "Boiler 1" {
		t.Fatalf("expected unit name, got %q err %v", unitName, err)
	}
	period, err := workbook.GetCellValue("series", "A2")
	if err != nil || period != "2024-01-01" {
		t.Fatalf("expected first day label, got %q err %v", period, err)
	}
	rows, err := workbook.GetRows("series")
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(rows))
	}
}

func TestConsumptionPDFRenders(t *testing.T) {
	exporter, _, records := newExporterFixture(t)
	ctx := context.Background()

	batch := []*consumption.Record{
		{Resource: masterdata.ResourceElectricity, ItemID: "u1", Key: statistic.PeriodKey{Year: 2024, Kind: statistic.KindMonth, Index: 5}, Consumption: 120.5},
		{Resource: masterdata.ResourceElectricity, ItemID: "u1", Key: statistic.PeriodKey{Year: 2024, Kind: statistic.KindMonth, Index: 6}, Consumption: 98.25},
	}
	if err := records.SaveBatch(ctx, batch); err != nil {
		t.Fatalf("save batch: %v", err)
	}

	data, err := exporter.ConsumptionPDF(ctx, masterdata.ResourceElectricity, "u1", statistic.KindMonth, 2024)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(data) == 0 || !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected PDF bytes, got %d bytes", len(data))
	}
}

func TestExportRejectsInvalidKind(t *testing.T) {
	exporter, _, _ := newExporterFixture(t)
	if _, err := exporter.StatisticsXLSX(context.Background(), "u1", "pressure", "decade", 2024); err == nil {
		t.Fatal("expected error for invalid kind")
	}
}
