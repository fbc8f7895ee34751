package reports

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"telemetry-cloud/internal/analytics/domain/statistic"
)

// ConsumptionReport is the input for a consumption summary PDF.
type ConsumptionReport struct {
	Title           string
	ItemName        string
	ResourceName    string
	MeasurementUnit string
	PeriodKind      statistic.PeriodKind
	Year            int
	GeneratedAt     string
	Rows            []ConsumptionRow
}

// ConsumptionRow is one period of a consumption series.
type ConsumptionRow struct {
	Period      string
	Consumption float64
}

// BuildConsumptionPDF renders a consumption summary PDF.
func BuildConsumptionPDF(report ConsumptionReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, report.Title)
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Item: %s", report.ItemName))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Resource: %s", report.ResourceName))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Granularity: %s", report.PeriodKind))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Year: %d", report.Year))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt))
	pdf.Ln(8)

	var total float64
	for _, row := range report.Rows {
		total += row.Consumption
	}
	pdf.Cell(0, 6, fmt.Sprintf("Total (%s): %.3f", report.MeasurementUnit, total))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Period", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, fmt.Sprintf("Consumption (%s)", report.MeasurementUnit), "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, row := range report.Rows {
		pdf.CellFormat(60, 6, row.Period, "1", 0, "C", false, 0, "")
		pdf.CellFormat(60, 6, fmt.Sprintf("%.3f", row.Consumption), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
