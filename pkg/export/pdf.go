package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const pageWidth = 190.0

// RenderPDF lays t out as a bordered A4 table.
func RenderPDF(t Table) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if t.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(t.Title), "", 1, "C", false, 0, "")
	}
	if t.Subtitle != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, tr(t.Subtitle), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	width := pageWidth / float64(len(t.Columns))
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, col := range t.Columns {
		pdf.CellFormat(width, 8, tr(col), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range t.Rows {
		for _, cell := range row {
			pdf.CellFormat(width, 7, tr(cell), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(t.Summary) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "I", 9)
		for _, line := range t.Summary {
			pdf.CellFormat(0, 6, tr(line), "", 1, "L", false, 0, "")
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
