// Package report renders a student's progress as an Excel workbook.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/mathgaling/tutor/internal/tutor"
)

// Sheet names.
const (
	SheetMastery  = "Mastery"
	SheetActivity = "Recent Activity"
)

var (
	masteryHeader  = []any{"Code", "Knowledge component", "Grade", "Mastery", "Attempts", "Status"}
	activityHeader = []any{"Answered at", "Content item", "Knowledge component", "Answer", "Correct", "Time spent (s)", "Practice"}
)

// Build renders the progress into a new workbook. The caller closes it.
func Build(p tutor.Progress) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetMastery); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetActivity); err != nil {
		f.Close()
		return nil, fmt.Errorf("add sheet: %w", err)
	}

	s, err := newStyles(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := writeMastery(f, s, p); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeActivity(f, s, p); err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   fmt.Sprintf("Progress report for student %d", p.StudentID),
		Subject: fmt.Sprintf("Grade %d", p.Grade),
		Creator: "mathgaling",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("set document properties: %w", err)
	}
	return f, nil
}

// Write renders the progress workbook to w.
func Write(w io.Writer, p tutor.Progress) error {
	f, err := Build(p)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

type styles struct {
	header   int
	percent  int
	mastered int
	datetime int
}

func newStyles(f *excelize.File) (styles, error) {
	var s styles
	var err error

	s.header, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return s, fmt.Errorf("header style: %w", err)
	}
	s.percent, err = f.NewStyle(&excelize.Style{NumFmt: 10}) // 0.00%
	if err != nil {
		return s, fmt.Errorf("percent style: %w", err)
	}
	s.mastered, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "#006100"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#C6EFCE"}, Pattern: 1},
	})
	if err != nil {
		return s, fmt.Errorf("mastered style: %w", err)
	}
	s.datetime, err = f.NewStyle(&excelize.Style{NumFmt: 22}) // m/d/yy h:mm
	if err != nil {
		return s, fmt.Errorf("datetime style: %w", err)
	}
	return s, nil
}

func writeMastery(f *excelize.File, s styles, p tutor.Progress) error {
	if err := writeHeader(f, SheetMastery, masteryHeader, s.header); err != nil {
		return err
	}

	for i, e := range p.Path {
		row := i + 2
		status := "In progress"
		switch {
		case e.Mastered:
			status = "Mastered"
		case e.Attempts == 0:
			status = "Not started"
		}
		if err := setRow(f, SheetMastery, row, []any{
			e.KnowledgeComponent.CurriculumCode,
			e.KnowledgeComponent.Name,
			e.KnowledgeComponent.GradeLevel,
			e.PMastery,
			e.Attempts,
			status,
		}); err != nil {
			return err
		}

		if err := styleCell(f, SheetMastery, 4, row, s.percent); err != nil {
			return err
		}
		if e.Mastered {
			if err := styleCell(f, SheetMastery, 6, row, s.mastered); err != nil {
				return err
			}
		}
	}

	return setWidths(f, SheetMastery, map[string]float64{"A": 12, "B": 40, "D": 10, "F": 14})
}

func writeActivity(f *excelize.File, s styles, p tutor.Progress) error {
	if err := writeHeader(f, SheetActivity, activityHeader, s.header); err != nil {
		return err
	}

	codes := make(map[int64]string, len(p.Path))
	for _, e := range p.Path {
		codes[e.KnowledgeComponent.ID] = e.KnowledgeComponent.CurriculumCode
	}

	for i, r := range p.Recent {
		row := i + 2
		kc := codes[r.KnowledgeComponentID]
		if kc == "" {
			kc = fmt.Sprint(r.KnowledgeComponentID)
		}
		var at any = r.CreatedAt
		if r.CreatedAt.IsZero() {
			at = ""
		}
		if err := setRow(f, SheetActivity, row, []any{
			at,
			r.ContentItemID,
			kc,
			r.Answer,
			yesNo(r.Correct),
			r.TimeSpent,
			yesNo(r.PracticeMode),
		}); err != nil {
			return err
		}
		if err := styleCell(f, SheetActivity, 1, row, s.datetime); err != nil {
			return err
		}
	}

	return setWidths(f, SheetActivity, map[string]float64{"A": 18, "C": 20, "D": 24})
}

func writeHeader(f *excelize.File, sheet string, header []any, style int) error {
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func styleCell(f *excelize.File, sheet string, col, row, style int) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, cell, cell, style)
}

func setWidths(f *excelize.File, sheet string, widths map[string]float64) error {
	for col, w := range widths {
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return fmt.Errorf("set %s column %s width: %w", sheet, col, err)
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
