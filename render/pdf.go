package render

import (
	"bytes"
	"fmt"
	"os"

	"github.com/jung-kurt/gofpdf"
)

const ContentTypePDF = "application/pdf"

const (
	pdfRowHeight  = 7.0
	pdfCardHeight = 18.0
)

// PDF renders an A4 document with optional summary cards above a table. The
// table continues on new pages as needed and repeats its header row on each.
//
// Without FontFile the core Helvetica font is used and text outside cp1252
// prints as question marks.
type PDF struct {
	// Landscape selects landscape orientation.
	Landscape bool
	// FontFile is a TrueType font used for all text when set.
	FontFile string
}

// fonts selects the font family and the text translation for pdf.
func (p PDF) fonts(pdf *gofpdf.Fpdf) (string, func(string) string, error) {
	if p.FontFile == "" {
		return "Helvetica", pdf.UnicodeTranslatorFromDescriptor(""), nil
	}
	ttf, err := os.ReadFile(p.FontFile)
	if err != nil {
		return "", nil, fmt.Errorf("loading pdf font: %w", err)
	}
	pdf.AddUTF8FontFromBytes("body", "", ttf)
	pdf.AddUTF8FontFromBytes("body", "B", ttf)
	if err := pdf.Error(); err != nil {
		return "", nil, fmt.Errorf("loading pdf font %s: %w", p.FontFile, err)
	}
	return "body", func(s string) string { return s }, nil
}

func (p PDF) Render(t Table) (Document, error) {
	orientation := "P"
	if p.Landscape {
		orientation = "L"
	}

	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(false, 0)
	family, tr, err := p.fonts(pdf)
	if err != nil {
		return Document{}, err
	}
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	bottom := 12.0
	usable := pageW - left - right

	pdf.SetFont(family, "B", 16)
	pdf.CellFormat(usable, 10, tr(t.Title), "", 1, "L", false, 0, "")
	if t.Subtitle != "" {
		pdf.SetFont(family, "", 10)
		pdf.SetTextColor(90, 90, 90)
		pdf.CellFormat(usable, 6, tr(t.Subtitle), "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}

	if len(t.Summary) > 0 {
		cardW := usable / float64(len(t.Summary))
		y := pdf.GetY() + 3
		for i, c := range t.Summary {
			x := left + float64(i)*cardW
			pdf.SetFillColor(238, 242, 247)
			pdf.Rect(x+1, y, cardW-2, pdfCardHeight, "F")

			pdf.SetXY(x+1, y+2)
			pdf.SetFont(family, "", 9)
			pdf.CellFormat(cardW-2, 5, tr(c.Label), "", 0, "C", false, 0, "")

			pdf.SetXY(x+1, y+8)
			pdf.SetFont(family, "B", 14)
			pdf.CellFormat(cardW-2, 8, tr(c.Value), "", 0, "C", false, 0, "")
		}
		pdf.SetXY(left, y+pdfCardHeight+5)
	} else {
		pdf.Ln(4)
	}

	widths := t.weights()
	var total float64
	for _, w := range widths {
		total += w
	}
	for i := range widths {
		widths[i] = widths[i] / total * usable
	}

	header := func() {
		pdf.SetFont(family, "B", 9)
		pdf.SetFillColor(52, 73, 94)
		pdf.SetTextColor(255, 255, 255)
		for i, c := range t.Columns {
			pdf.CellFormat(widths[i], pdfRowHeight, fit(pdf, tr(c), widths[i]), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(pdfRowHeight)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont(family, "", 8)
	}

	header()
	for _, row := range t.Rows {
		if pdf.GetY()+pdfRowHeight > pageH-bottom {
			pdf.AddPage()
			header()
		}
		for i := range t.Columns {
			pdf.CellFormat(widths[i], pdfRowHeight, fit(pdf, tr(t.cell(row, i)), widths[i]), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(pdfRowHeight)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Document{}, fmt.Errorf("writing pdf: %w", err)
	}

	return Document{
		Name:        t.Name + ".pdf",
		ContentType: ContentTypePDF,
		Data:        buf.Bytes(),
	}, nil
}

// fit shortens s with a trailing ellipsis until it fits a cell of width w.
func fit(pdf *gofpdf.Fpdf, s string, w float64) string {
	max := w - 2
	if pdf.GetStringWidth(s) <= max {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && pdf.GetStringWidth(string(r)+"...") > max {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}
