package render

import (
	"bytes"
	"strings"
)

const ContentTypeCSV = "text/csv"

// CSV renders the header and rows only. Every field is quoted and inner
// quotes are doubled.
type CSV struct{}

func (CSV) Render(t Table) (Document, error) {
	var buf bytes.Buffer
	writeCSVRecord(&buf, t.Columns)
	for _, row := range t.Rows {
		rec := make([]string, len(t.Columns))
		for i := range rec {
			rec[i] = t.cell(row, i)
		}
		writeCSVRecord(&buf, rec)
	}

	return Document{
		Name:        t.Name + ".csv",
		ContentType: ContentTypeCSV,
		Data:        buf.Bytes(),
	}, nil
}

func writeCSVRecord(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}
