package export

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Report"

// XLSXExporter renders datasets into a single-sheet workbook. Cells that parse as
// numbers are written as numbers so spreadsheet formulas work on them.
type XLSXExporter struct{}

// NewXLSXExporter constructs an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Format implements Renderer.
func (e *XLSXExporter) Format() Format { return FormatXLSX }

// Render implements Renderer.
func (e *XLSXExporter) Render(data Dataset) ([]byte, error) {
	if err := checkHeaders(data, FormatXLSX); err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}
	header := make([]interface{}, len(data.Headers))
	for i, h := range data.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write xlsx headers: %w", err)
	}
	for r, row := range data.Rows {
		values := make([]interface{}, len(row))
		for i, cell := range row {
			if n, err := strconv.ParseFloat(cell, 64); err == nil {
				values[i] = n
			} else {
				values[i] = cell
			}
		}
		axis, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(xlsxSheet, axis, &values); err != nil {
			return nil, fmt.Errorf("write xlsx row %d: %w", r+1, err)
		}
	}
	if data.Title != "" {
		_ = f.SetDocProps(&excelize.DocProperties{Title: data.Title})
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
