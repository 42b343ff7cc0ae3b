package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/firewatch/internal/models"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// Content types of the export formats.
const (
	ContentTypeJSON = "application/json"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Export is the downloadable summary document.
type Export struct {
	DateRange     string     `json:"dateRange"`
	Statistics    Statistics `json:"statistics"`
	ReadingsCount int        `json:"readingsCount"`
	AlertsCount   int        `json:"alertsCount"`
}

// ExportOf builds the summary document of a report.
func ExportOf(r Report) Export {
	return Export{
		DateRange:     r.Range.Label(),
		Statistics:    r.Statistics,
		ReadingsCount: len(r.Readings),
		AlertsCount:   len(r.Alerts),
	}
}

// FileName returns fire-detection-report-YYYY-MM-DD.<ext> for the export date.
func FileName(at time.Time, ext string) string {
	return fmt.Sprintf("fire-detection-report-%s.%s", at.Format(FileDateLayout), ext)
}

// ExportJSON encodes the summary document with two-space indentation.
func ExportJSON(r Report) ([]byte, error) {
	data, err := json.MarshalIndent(ExportOf(r), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}

const (
	summarySheet  = "Summary"
	readingsSheet = "Readings"
)

var readingHeaders = []string{
	"Timestamp", "Source", "Temperature (°C)", "Humidity (%)", "CO2 (ppm)", "CO (ppm)", "H2 (ppm)", "Risk",
}

// ExportXLSX renders a workbook with a Summary sheet and a Readings sheet.
func ExportXLSX(r Report) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(readingsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FDE7E1"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	exp := ExportOf(r)
	summary := [][]interface{}{
		{"Fire Detection Report", ""},
		{"Date Range", exp.DateRange},
		{"Period", string(r.Period)},
		{"Total Readings", exp.Statistics.TotalReadings},
		{"Average Temperature (°C)", round2(exp.Statistics.AvgTemperature)},
		{"Average Humidity (%)", round2(exp.Statistics.AvgHumidity)},
		{"Risk Detections", exp.Statistics.RiskDetections},
		{"Alerts Generated", exp.Statistics.AlertsGenerated},
		{"Safe", r.Distribution.Safe},
		{"Warning", r.Distribution.Warning},
		{"Danger", r.Distribution.Danger},
	}
	for i, row := range summary {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A1", headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 28); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "B", "B", 40); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	headers := make([]interface{}, len(readingHeaders))
	for i, h := range readingHeaders {
		headers[i] = h
	}
	if err := setRow(f, readingsSheet, 1, headers); err != nil {
		f.Close()
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(readingHeaders), 1)
	if err := f.SetCellStyle(readingsSheet, "A1", last, headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, reading := range r.Readings {
		level := ""
		if i < len(r.Chart) {
			level = models.RiskLevel(r.Chart[i].Risk).String()
		}
		row := []interface{}{
			reading.Timestamp.Format(time.RFC3339),
			reading.Source,
			cellValue(reading.Temperature),
			cellValue(reading.Humidity),
			cellValue(reading.CO2Level),
			cellValue(reading.COLevel),
			cellValue(reading.H2Level),
			level,
		}
		if err := setRow(f, readingsSheet, i+2, row); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := f.SetPanes(readingsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	// Write to bytes buffer
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

// cellValue leaves missing measurements blank.
func cellValue(m models.Measurement) interface{} {
	if !m.Valid {
		return nil
	}
	return m.Value
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
