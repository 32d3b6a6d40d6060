package export

import (
	"bytes"
	"time"

	"github.com/go-pdf/fpdf"

	"scribe/internal/queue"
)

// pdfEpoch replaces the wall clock in document metadata.
var pdfEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

func renderPDF(segments []queue.Segment) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(pdfEpoch)
	pdf.SetModificationDate(pdfEpoch)
	pdf.SetCreator("scribe", true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)

	// Core fonts are cp1252; anything outside it renders as '?'.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, seg := range segments {
		pdf.MultiCell(0, 10, tr(Line(seg)), "", "", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
