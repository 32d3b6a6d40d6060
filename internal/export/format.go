package export

import (
	"fmt"
	"strings"

	"scribe/internal/services"
)

// Format is an export target.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatCSV  Format = "csv"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatDOCX Format = "docx"
	FormatPDF  Format = "pdf"
)

var contentTypes = map[Format]string{
	FormatTXT:  "text/plain; charset=utf-8",
	FormatCSV:  "text/csv; charset=utf-8",
	FormatSRT:  "application/x-subrip",
	FormatVTT:  "text/vtt; charset=utf-8",
	FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatPDF:  "application/pdf",
}

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatTXT, FormatCSV, FormatSRT, FormatVTT, FormatDOCX, FormatPDF}
}

// ParseFormat accepts a format name case-insensitively. Empty means txt.
func ParseFormat(value string) (Format, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return FormatTXT, nil
	}
	format := Format(value)
	if _, ok := contentTypes[format]; !ok {
		return "", services.Wrap(services.ErrValidation, "export", "parse format",
			fmt.Sprintf("unsupported format %q; use txt, csv, srt, vtt, docx or pdf", value), nil)
	}
	return format, nil
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	return contentTypes[f]
}
