package reports

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"telemetry-cloud/internal/analytics/domain/statistic"
)

// StatisticsReport is the input for a statistics workbook.
type StatisticsReport struct {
	Title       string
	UnitName    string
	Variable    string
	PeriodKind  statistic.PeriodKind
	Year        int
	GeneratedAt string
	Rows        []StatisticsRow
}

// StatisticsRow is one period of a statistics series.
type StatisticsRow struct {
	Period string
	Stats  statistic.Statistics
}

// BuildStatisticsXLSX renders a statistics workbook with a summary
// sheet and one row per period.
func BuildStatisticsXLSX(report StatisticsReport) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	seriesSheet := "series"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(seriesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", report.Title)
	_ = f.SetCellValue(summarySheet, "A3", "Unit")
	_ = f.SetCellValue(summarySheet, "B3", report.UnitName)
	_ = f.SetCellValue(summarySheet, "A4", "Variable")
	_ = f.SetCellValue(summarySheet, "B4", report.Variable)
	_ = f.SetCellValue(summarySheet, "A5", "Granularity")
	_ = f.SetCellValue(summarySheet, "B5", string(report.PeriodKind))
	_ = f.SetCellValue(summarySheet, "A6", "Year")
	_ = f.SetCellValue(summarySheet, "B6", report.Year)
	_ = f.SetCellValue(summarySheet, "A7", "Periods")
	_ = f.SetCellValue(summarySheet, "B7", len(report.Rows))
	_ = f.SetCellValue(summarySheet, "A8", "Generated")
	_ = f.SetCellValue(summarySheet, "B8", report.GeneratedAt)

	_ = f.SetCellValue(seriesSheet, "A1", "Period")
	_ = f.SetCellValue(seriesSheet, "B1", "Count")
	_ = f.SetCellValue(seriesSheet, "C1", "Mean")
	_ = f.SetCellValue(seriesSheet, "D1", "Min")
	_ = f.SetCellValue(seriesSheet, "E1", "Max")
	_ = f.SetCellValue(seriesSheet, "F1", "StdDev")
	for i, row := range report.Rows {
		line := i + 2
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("A%d", line), row.Period)
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("B%d", line), row.Stats.Count)
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("C%d", line), row.Stats.Mean)
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("D%d", line), row.Stats.Min)
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("E%d", line), row.Stats.Max)
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("F%d", line), row.Stats.StdDev)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
