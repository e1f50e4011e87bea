package export

import "fmt"

// Format names a rendered file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// Dataset is an ordered table handed to a renderer.
type Dataset struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Append adds a row; missing trailing cells are left blank.
func (d *Dataset) Append(cells ...string) {
	row := make([]string, len(d.Headers))
	copy(row, cells)
	d.Rows = append(d.Rows, row)
}

// Renderer turns a dataset into file bytes.
type Renderer interface {
	Format() Format
	Render(data Dataset) ([]byte, error)
}

// NewRenderer returns the renderer of a format.
func NewRenderer(format Format) (Renderer, error) {
	switch format {
	case FormatCSV:
		return NewCSVExporter(), nil
	case FormatPDF:
		return NewPDFExporter(), nil
	case FormatXLSX:
		return NewXLSXExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func checkHeaders(data Dataset, format Format) error {
	if len(data.Headers) == 0 {
		return fmt.Errorf("%s requires at least one header", format)
	}
	return nil
}
