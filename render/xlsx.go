package render

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const xlsxSheet = "Report"

// XLSX renders a single sheet workbook: title, summary lines, then the
// table. Cells of numeric columns are stored as numbers.
type XLSX struct{}

func (XLSX) Render(t Table) (Document, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return Document{}, fmt.Errorf("naming sheet: %w", err)
	}

	row := 1
	put := func(values []interface{}) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		row++
		return f.SetSheetRow(xlsxSheet, cell, &values)
	}

	if t.Title != "" {
		if err := put([]interface{}{t.Title}); err != nil {
			return Document{}, fmt.Errorf("writing title: %w", err)
		}
	}
	if t.Subtitle != "" {
		if err := put([]interface{}{t.Subtitle}); err != nil {
			return Document{}, fmt.Errorf("writing subtitle: %w", err)
		}
	}
	for _, c := range t.Summary {
		if err := put([]interface{}{c.Label, c.Value}); err != nil {
			return Document{}, fmt.Errorf("writing summary: %w", err)
		}
	}
	if row > 1 {
		row++
	}

	headerRow := row
	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := put(header); err != nil {
		return Document{}, fmt.Errorf("writing header: %w", err)
	}

	for _, r := range t.Rows {
		values := make([]interface{}, len(t.Columns))
		for i := range values {
			values[i] = t.cell(r, i)
			if t.numeric(i) {
				values[i] = cellValue(t.cell(r, i))
			}
		}
		if err := put(values); err != nil {
			return Document{}, fmt.Errorf("writing row: %w", err)
		}
	}

	if len(t.Columns) > 0 {
		bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return Document{}, fmt.Errorf("creating header style: %w", err)
		}
		first, _ := excelize.CoordinatesToCellName(1, headerRow)
		last, _ := excelize.CoordinatesToCellName(len(t.Columns), headerRow)
		if err := f.SetCellStyle(xlsxSheet, first, last, bold); err != nil {
			return Document{}, fmt.Errorf("styling header: %w", err)
		}

		lastCol, _ := excelize.ColumnNumberToName(len(t.Columns))
		if err := f.SetColWidth(xlsxSheet, "A", lastCol, 20); err != nil {
			return Document{}, fmt.Errorf("sizing columns: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return Document{}, fmt.Errorf("writing xlsx: %w", err)
	}

	return Document{
		Name:        t.Name + ".xlsx",
		ContentType: ContentTypeXLSX,
		Data:        buf.Bytes(),
	}, nil
}

func cellValue(s string) interface{} {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}
