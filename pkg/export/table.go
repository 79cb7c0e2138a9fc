package export

import "fmt"

// Format identifies a transcript output encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat maps a query value to a Format, defaulting to CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

// Table is an ordered grid of cells with an optional heading and summary lines.
type Table struct {
	Title    string
	Subtitle string
	Columns  []string
	Rows     [][]string
	Summary  []string
}

func (t Table) validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("table requires at least one column")
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}

// Render encodes t in the requested format.
func Render(t Table, format Format) ([]byte, error) {
	switch format {
	case FormatPDF:
		return RenderPDF(t)
	default:
		return RenderCSV(t)
	}
}
