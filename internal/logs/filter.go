package logs

import (
	"encoding/json"
	"strconv"
	"strings"

	"scribe/internal/logging"
)

// Filter selects log lines by the fields internal/logging writes. Zero values
// match everything.
type Filter struct {
	JobID     int64
	RequestID string
	Component string
	// MinLevel is one of debug, info, warn, error.
	MinLevel string
}

// Empty reports whether the filter matches every line.
func (f Filter) Empty() bool {
	return f.JobID == 0 &&
		strings.TrimSpace(f.RequestID) == "" &&
		strings.TrimSpace(f.Component) == "" &&
		strings.TrimSpace(f.MinLevel) == ""
}

// Match reports whether line passes the filter. Lines that are not in either
// log format only pass an empty filter.
func (f Filter) Match(line string) bool {
	if f.Empty() {
		return true
	}
	entry, ok := parseLine(line)
	if !ok {
		return false
	}
	if f.JobID != 0 && entry.fields[logging.FieldJobID] != strconv.FormatInt(f.JobID, 10) {
		return false
	}
	if id := strings.TrimSpace(f.RequestID); id != "" && entry.fields[logging.FieldRequestID] != id {
		return false
	}
	if c := strings.TrimSpace(f.Component); c != "" && !strings.EqualFold(entry.component, c) {
		return false
	}
	if lvl := strings.TrimSpace(f.MinLevel); lvl != "" && levelRank(entry.level) < levelRank(lvl) {
		return false
	}
	return true
}

type entry struct {
	level     string
	component string
	fields    map[string]string
}

func parseLine(line string) (entry, bool) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		return parseJSONLine(line)
	}
	return parseConsoleLine(line)
}

func parseJSONLine(line string) (entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return entry{}, false
	}
	e := entry{fields: make(map[string]string, len(raw))}
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			e.fields[key] = v
		case float64:
			e.fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			e.fields[key] = strconv.FormatBool(v)
		}
	}
	e.level = e.fields["level"]
	e.component = e.fields[logging.FieldComponent]
	return e, true
}

// parseConsoleLine reads "ts LEVEL component: msg key=value ...". Quoted
// values are unquoted; message words that contain '=' are not distinguished
// from attributes.
func parseConsoleLine(line string) (entry, bool) {
	ts, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.Contains(ts, "T") {
		return entry{}, false
	}
	level, rest, _ := strings.Cut(rest, " ")
	if levelRank(level) < 0 {
		return entry{}, false
	}
	e := entry{level: level, fields: map[string]string{}}
	if head, tail, found := strings.Cut(rest, ": "); found && !strings.ContainsAny(head, " =") {
		e.component = head
		rest = tail
	}
	for len(rest) > 0 {
		var token string
		token, rest = nextToken(rest)
		key, value, found := strings.Cut(token, "=")
		if !found || key == "" {
			continue
		}
		if unquoted, err := strconv.Unquote(value); err == nil {
			value = unquoted
		}
		e.fields[key] = value
	}
	return e, true
}

// nextToken splits off one space-separated token, keeping double-quoted
// sections together.
func nextToken(s string) (string, string) {
	s = strings.TrimLeft(s, " ")
	inQuote := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inQuote:
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == ' ' && !inQuote:
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return -1
	}
}
