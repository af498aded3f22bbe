package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

// Summary heads a price table export.
type Summary struct {
	ReferenceMonth     string
	ReferenceTableCode int
	GeneratedAt        time.Time
	RowCount           int
}

// Row is one exported price observation.
type Row struct {
	Manufacturer    string
	Model           string
	ManufactureYear string
	FuelType        string
	FipeCode        string
	VehicleType     string
	Value           float64
}

// BuildPriceTablePDF renders a minimal PDF for a reference month.
func BuildPriceTablePDF(summary Summary, rows []Row) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Vehicle Price Table")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Reference Month: %s", summary.ReferenceMonth))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Reference Table: %d", summary.ReferenceTableCode))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", summary.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Rows: %d", summary.RowCount))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Manufacturer", "1", 0, "C", false, 0, "")
	pdf.CellFormat(80, 6, "Model", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Year", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Fuel", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "FIPE Code", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range rows {
		pdf.CellFormat(45, 6, row.Manufacturer, "1", 0, "L", false, 0, "")
		pdf.CellFormat(80, 6, row.Model, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, row.ManufactureYear, "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, row.FuelType, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, row.FipeCode, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, row.VehicleType, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", row.Value), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildPriceTableXLSX renders a minimal XLSX for a reference month.
func BuildPriceTableXLSX(summary Summary, rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	pricesSheet := "prices"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(pricesSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Vehicle Price Table")
	_ = f.SetCellValue(summarySheet, "A3", "Reference Month")
	_ = f.SetCellValue(summarySheet, "B3", summary.ReferenceMonth)
	_ = f.SetCellValue(summarySheet, "A4", "Reference Table")
	_ = f.SetCellValue(summarySheet, "B4", summary.ReferenceTableCode)
	_ = f.SetCellValue(summarySheet, "A5", "Generated")
	_ = f.SetCellValue(summarySheet, "B5", summary.GeneratedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Rows")
	_ = f.SetCellValue(summarySheet, "B6", summary.RowCount)

	_ = f.SetCellValue(pricesSheet, "A1", "Manufacturer")
	_ = f.SetCellValue(pricesSheet, "B1", "Model")
	_ = f.SetCellValue(pricesSheet, "C1", "Year")
	_ = f.SetCellValue(pricesSheet, "D1", "Fuel")
	_ = f.SetCellValue(pricesSheet, "E1", "FIPE Code")
	_ = f.SetCellValue(pricesSheet, "F1", "Type")
	_ = f.SetCellValue(pricesSheet, "G1", "Value")
	for i, row := range rows {
		line := i + 2
		_ = f.SetCellValue(pricesSheet, fmt.Sprintf("A%d", line), row.Manufacturer)
		_ = f.SetCellValue(pricesSheet, fmt.Sprintf("B%d", line), row.Model)
		_ = f.SetCellValue(pricesSheet, fmt.Sprintf("C%d", line), row.ManufactureYear)
		_ = f.SetCellValue(pricesSheet, fmt.Sprintf("D%d", line), row.FuelType)
		_ = f.SetCellValue(pricesSheet, fmt.Sprintf("E%d", line), row.FipeCode)
		_ = f.SetCellValue(pricesSheet, fmt.Sprintf("F%d", line), row.VehicleType)
		_ = f.SetCellValue(pricesSheet, fmt.Sprintf("G%d", line), row.Value)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
