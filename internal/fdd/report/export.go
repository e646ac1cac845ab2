package report

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "summary"
	eventsSheet  = "events"
)

// BuildPDF renders the fault report as a PDF.
func BuildPDF(rep FaultReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "AHU Fault Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("From: %s", formatTime(rep.From)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("To: %s", formatTime(rep.To)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", formatTime(rep.GeneratedAt)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Equipment", "1", 0, "C", false, 0, "")
	pdf.CellFormat(15, 6, "Rule", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Raised", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Cleared", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Active (h)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Active now", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, s := range rep.Summaries {
		pdf.CellFormat(30, 6, s.EquipmentID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(15, 6, string(s.RuleID), "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", s.Raised), "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", s.Cleared), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", s.ActiveFor.Hours()), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, yesNo(s.ActiveAtEnd), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Equipment", "1", 0, "C", false, 0, "")
	pdf.CellFormat(15, 6, "Rule", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "From", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "To", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, e := range rep.Events {
		pdf.CellFormat(50, 6, formatTime(e.At), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, e.EquipmentID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(15, 6, string(e.RuleID), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, string(e.From), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, string(e.To), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders the fault report as a workbook with a summary and an events sheet.
func BuildXLSX(rep FaultReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(eventsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "AHU Fault Report")
	_ = f.SetCellValue(summarySheet, "A2", "From")
	_ = f.SetCellValue(summarySheet, "B2", formatTime(rep.From))
	_ = f.SetCellValue(summarySheet, "A3", "To")
	_ = f.SetCellValue(summarySheet, "B3", formatTime(rep.To))
	_ = f.SetCellValue(summarySheet, "A4", "Generated")
	_ = f.SetCellValue(summarySheet, "B4", formatTime(rep.GeneratedAt))

	headers := []string{"Equipment", "Rule", "Fault", "Raised", "Cleared", "Active (h)", "Active now"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 6)
		_ = f.SetCellValue(summarySheet, cell, h)
	}
	for i, s := range rep.Summaries {
		row := i + 7
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), s.EquipmentID)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), string(s.RuleID))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), s.RuleName)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), s.Raised)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("E%d", row), s.Cleared)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("F%d", row), s.ActiveFor.Hours())
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("G%d", row), yesNo(s.ActiveAtEnd))
	}

	_ = f.SetCellValue(eventsSheet, "A1", "Event ID")
	_ = f.SetCellValue(eventsSheet, "B1", "Time")
	_ = f.SetCellValue(eventsSheet, "C1", "Equipment")
	_ = f.SetCellValue(eventsSheet, "D1", "Rule")
	_ = f.SetCellValue(eventsSheet, "E1", "From")
	_ = f.SetCellValue(eventsSheet, "F1", "To")
	for i, e := range rep.Events {
		row := i + 2
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("A%d", row), e.ID)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("B%d", row), formatTime(e.At))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("C%d", row), e.EquipmentID)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("D%d", row), string(e.RuleID))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("E%d", row), string(e.From))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("F%d", row), string(e.To))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
