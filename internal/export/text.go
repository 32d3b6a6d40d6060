package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"scribe/internal/queue"
)

// Timestamp formats milliseconds as HH:MM:SS followed by sep and the
// millisecond part.
func Timestamp(ms int64, sep byte) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := ms / 60_000 % 60
	seconds := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, seconds, sep, ms%1000)
}

// Line is the single-line form used by txt, docx and pdf.
func Line(seg queue.Segment) string {
	prefix := fmt.Sprintf("[%s - %s] ", Timestamp(seg.StartMS, '.'), Timestamp(seg.EndMS, '.'))
	return prefix + cueText(seg)
}

func cueText(seg queue.Segment) string {
	text := oneLine(seg.Text)
	if seg.Speaker == "" {
		return text
	}
	return seg.Speaker + ": " + text
}

// oneLine folds embedded line breaks so a segment never spans cues.
func oneLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func renderTXT(segments []queue.Segment) []byte {
	var buf bytes.Buffer
	for _, seg := range segments {
		buf.WriteString(Line(seg))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func renderCSV(segments []queue.Segment) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"start", "end", "speaker", "text"}); err != nil {
		return nil, err
	}
	for _, seg := range segments {
		record := []string{Timestamp(seg.StartMS, '.'), Timestamp(seg.EndMS, '.'), seg.Speaker, seg.Text}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderSRT(segments []queue.Segment) []byte {
	var buf bytes.Buffer
	for i, seg := range segments {
		buf.WriteString(strconv.Itoa(i + 1))
		buf.WriteByte('\n')
		buf.WriteString(Timestamp(seg.StartMS, ','))
		buf.WriteString(" --> ")
		buf.WriteString(Timestamp(seg.EndMS, ','))
		buf.WriteByte('\n')
		buf.WriteString(cueText(seg))
		buf.WriteString("\n\n")
	}
	return buf.Bytes()
}

func renderVTT(segments []queue.Segment) []byte {
	var buf bytes.Buffer
	buf.WriteString("WEBVTT\n\n")
	for _, seg := range segments {
		buf.WriteString(Timestamp(seg.StartMS, '.'))
		buf.WriteString(" --> ")
		buf.WriteString(Timestamp(seg.EndMS, '.'))
		buf.WriteByte('\n')
		// "-->" would end the cue timing line early in some players.
		buf.WriteString(strings.ReplaceAll(cueText(seg), "-->", "->"))
		buf.WriteString("\n\n")
	}
	return buf.Bytes()
}
