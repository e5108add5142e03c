package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	mood "workspace-mood-monitor/internal/mood/domain"
)

// ReportSummary aggregates a mood history window.
type ReportSummary struct {
	Room       string
	From       time.Time
	To         time.Time
	Count      int
	Average    float64
	Min        int
	Max        int
	LabelCount map[mood.Label]int
}

// Summarize aggregates records.
func Summarize(room string, from, to time.Time, records []mood.MoodRecord) ReportSummary {
	summary := ReportSummary{
		Room:       room,
		From:       from,
		To:         to,
		LabelCount: map[mood.Label]int{},
	}
	total := 0
	for i, rec := range records {
		if i == 0 || rec.Score < summary.Min {
			summary.Min = rec.Score
		}
		if i == 0 || rec.Score > summary.Max {
			summary.Max = rec.Score
		}
		total += rec.Score
		summary.LabelCount[rec.Label]++
	}
	summary.Count = len(records)
	if summary.Count > 0 {
		summary.Average = float64(total) / float64(summary.Count)
	}
	return summary
}

func roomTitle(room string) string {
	if room == "" {
		return "all rooms"
	}
	return room
}

// BuildMoodReportPDF renders a mood history report.
func BuildMoodReportPDF(summary ReportSummary, records []mood.MoodRecord) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Workspace Mood Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Room: %s", roomTitle(summary.Room)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("From: %s", summary.From.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("To: %s", summary.To.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Samples: %d", summary.Count))
	pdf.Ln(5)
	if summary.Count > 0 {
		pdf.Cell(0, 6, fmt.Sprintf("Average score: %.1f (min %d, max %d)", summary.Average, summary.Min, summary.Max))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Focus: %d  Neutral: %d  Tired: %d",
			summary.LabelCount[mood.LabelFocus], summary.LabelCount[mood.LabelNeutral], summary.LabelCount[mood.LabelTired]))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Observed", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Desk", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Score", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Label", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Confidence", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Color", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, rec := range records {
		pdf.CellFormat(45, 6, rec.ObservedAt.UTC().Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, rec.Desk, "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", rec.Score), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, string(rec.Label), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", rec.Confidence), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, rec.LEDColor, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildMoodReportXLSX renders a mood history workbook with summary and records sheets.
func BuildMoodReportXLSX(summary ReportSummary, records []mood.MoodRecord) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	recordsSheet := "records"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(recordsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Workspace Mood Report")
	_ = f.SetCellValue(summarySheet, "A3", "Room")
	_ = f.SetCellValue(summarySheet, "B3", roomTitle(summary.Room))
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", summary.From.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", summary.To.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Samples")
	_ = f.SetCellValue(summarySheet, "B6", summary.Count)
	_ = f.SetCellValue(summarySheet, "A7", "Average score")
	_ = f.SetCellValue(summarySheet, "B7", summary.Average)
	_ = f.SetCellValue(summarySheet, "A8", "Min score")
	_ = f.SetCellValue(summarySheet, "B8", summary.Min)
	_ = f.SetCellValue(summarySheet, "A9", "Max score")
	_ = f.SetCellValue(summarySheet, "B9", summary.Max)
	_ = f.SetCellValue(summarySheet, "A10", "Focus")
	_ = f.SetCellValue(summarySheet, "B10", summary.LabelCount[mood.LabelFocus])
	_ = f.SetCellValue(summarySheet, "A11", "Neutral")
	_ = f.SetCellValue(summarySheet, "B11", summary.LabelCount[mood.LabelNeutral])
	_ = f.SetCellValue(summarySheet, "A12", "Tired")
	_ = f.SetCellValue(summarySheet, "B12", summary.LabelCount[mood.LabelTired])

	headers := []string{"Observed", "Room", "Desk", "Device", "Score", "Label", "Confidence", "Color", "Heuristic", "Model"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(recordsSheet, cell, header)
	}
	for i, rec := range records {
		row := i + 2
		_ = f.SetCellValue(recordsSheet, fmt.Sprintf("A%d", row), rec.ObservedAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(recordsSheet, fmt.Sprintf("B%d", row), rec.Room)
		_ = f.SetCellValue(recordsSheet, fmt.Sprintf("C%d", row), rec.Desk)
		_ = f.SetCellValue(recordsSheet, fmt.Sprintf("D%d", row), rec.Device)
		_ = f.SetCellValue(recordsSheet, fmt.Sprintf("E%d", row), rec.Score)
		_ = f.SetCellValue(recordsSheet, fmt.Sprintf("F%d", row), string(rec.Label))
		_ = f.SetCellValue(recordsSheet, fmt.Sprintf("G%d", row), rec.Confidence)
		_ = f.SetCellValue(recordsSheet, fmt.Sprintf("H%d", row), rec.LEDColor)
		_ = f.SetCellValue(recordsSheet, fmt.Sprintf("I%d", row), rec.HeuristicScore)
		if rec.ModelScore != nil {
			_ = f.SetCellValue(recordsSheet, fmt.Sprintf("J%d", row), *rec.ModelScore)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
