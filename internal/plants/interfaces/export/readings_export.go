package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	plants "irrigation-cloud/internal/plants/domain"
)

const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"

	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePDF  = "application/pdf"
)

// Row is the flattened shape of one reading in every export format.
type Row struct {
	ID          int64     `json:"id"`
	RecordedAt  time.Time `json:"recorded_at"`
	Moisture    *float64  `json:"moisture_level"`
	PumpStatus  bool      `json:"pump_status"`
	IsAutomated bool      `json:"is_automated"`
}

// Rows flattens readings for export.
func Rows(readings []plants.MoistureReading) []Row {
	rows := make([]Row, 0, len(readings))
	for _, reading := range readings {
		rows = append(rows, Row{
			ID:          reading.ID,
			RecordedAt:  reading.RecordedAt,
			Moisture:    reading.MoistureLevel,
			PumpStatus:  reading.PumpStatus,
			IsAutomated: reading.IsAutomated,
		})
	}
	return rows
}

// BuildReadingsPDF renders a minimal PDF report for a plant.
func BuildReadingsPDF(plant *plants.Plant, from, to time.Time, readings []plants.MoistureReading) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Moisture Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Plant: %s", plant.Name))
	pdf.Ln(5)
	if plant.Location != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Location: %s", plant.Location))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Threshold: %.1f%%", plant.MoistureThreshold))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s - %s", from.Format(time.RFC3339), to.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(55, 6, "Recorded", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Moisture (%)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Pump", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Automated", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, row := range Rows(readings) {
		moisture, pump := "-", "-"
		if row.Moisture != nil {
			moisture = fmt.Sprintf("%.1f", *row.Moisture)
		} else {
			pump = onOff(row.PumpStatus)
		}
		pdf.CellFormat(55, 6, row.RecordedAt.Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, moisture, "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, pump, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, yesNo(row.IsAutomated), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReadingsXLSX renders a workbook with a summary and a readings sheet.
func BuildReadingsXLSX(plant *plants.Plant, from, to time.Time, readings []plants.MoistureReading) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	readingsSheet := "readings"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(readingsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Moisture Report")
	_ = f.SetCellValue(summarySheet, "A3", "Plant")
	_ = f.SetCellValue(summarySheet, "B3", plant.Name)
	_ = f.SetCellValue(summarySheet, "A4", "Location")
	_ = f.SetCellValue(summarySheet, "B4", plant.Location)
	_ = f.SetCellValue(summarySheet, "A5", "Threshold (%)")
	_ = f.SetCellValue(summarySheet, "B5", plant.MoistureThreshold)
	_ = f.SetCellValue(summarySheet, "A6", "From")
	_ = f.SetCellValue(summarySheet, "B6", from.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A7", "To")
	_ = f.SetCellValue(summarySheet, "B7", to.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A8", "Readings")
	_ = f.SetCellValue(summarySheet, "B8", len(readings))

	_ = f.SetCellValue(readingsSheet, "A1", "Recorded")
	_ = f.SetCellValue(readingsSheet, "B1", "Moisture (%)")
	_ = f.SetCellValue(readingsSheet, "C1", "Pump")
	_ = f.SetCellValue(readingsSheet, "D1", "Automated")
	for i, row := range Rows(readings) {
		line := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", line), row.RecordedAt.Format(time.RFC3339))
		if row.Moisture != nil {
			_ = f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", line), *row.Moisture)
		} else {
			_ = f.SetCellValue(readingsSheet, fmt.Sprintf("C%d", line), onOff(row.PumpStatus))
		}
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("D%d", line), row.IsAutomated)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
