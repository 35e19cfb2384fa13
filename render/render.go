// Package render turns report tables into downloadable documents. Every
// format takes the same Table so on-demand exports and scheduled reports
// share one layout.
package render

// Document is a rendered file.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// SummaryCard is a headline figure printed above the table.
type SummaryCard struct {
	Label string
	Value string
}

// Table is the format independent content of a report.
type Table struct {
	// Name is the file name without extension.
	Name     string
	Title    string
	Subtitle string
	Summary  []SummaryCard
	Columns  []string
	// Widths are relative column weights. Missing weights count as 1.
	Widths []float64
	// Numeric marks columns holding numbers. Formats with typed cells
	// store them as numbers.
	Numeric []bool
	Rows    [][]string
}

// Renderer produces one document format.
type Renderer interface {
	Render(t Table) (Document, error)
}

func (t Table) cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func (t Table) numeric(i int) bool {
	return i < len(t.Numeric) && t.Numeric[i]
}

func (t Table) weights() []float64 {
	w := make([]float64, len(t.Columns))
	for i := range w {
		w[i] = 1
		if i < len(t.Widths) && t.Widths[i] > 0 {
			w[i] = t.Widths[i]
		}
	}
	return w
}
