package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	xlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"scribe/internal/services"
)

// Auto asks the pipeline to detect the spoken language.
const Auto = "auto"

type entry struct {
	code2   string   // ISO 639-1 (2-letter)
	code3   string   // ISO 639-2 primary (3-letter)
	alt3    string   // ISO 639-2 alternate (e.g. "fre" vs "fra")
	display string   // Human-readable name
	words   []string // Full word forms (e.g. "english")
}

// languages lists the codes the upload form offers. Other valid BCP 47 base
// languages are accepted through x/text.
var languages = []entry{
	{"en", "eng", "", "English", []string{"english"}},
	{"es", "spa", "", "Spanish", []string{"spanish", "español"}},
	{"fr", "fra", "fre", "French", []string{"french", "français"}},
	{"de", "deu", "ger", "German", []string{"german", "deutsch"}},
	{"it", "ita", "", "Italian", []string{"italian"}},
	{"pt", "por", "", "Portuguese", []string{"portuguese"}},
	{"ja", "jpn", "", "Japanese", []string{"japanese"}},
	{"ko", "kor", "", "Korean", []string{"korean"}},
	{"zh", "zho", "chi", "Chinese", []string{"chinese", "mandarin"}},
	{"ru", "rus", "", "Russian", []string{"russian"}},
	{"ar", "ara", "", "Arabic", []string{"arabic"}},
	{"hi", "hin", "", "Hindi", []string{"hindi"}},
	{"nl", "nld", "dut", "Dutch", []string{"dutch"}},
	{"pl", "pol", "", "Polish", []string{"polish"}},
	{"sv", "swe", "", "Swedish", []string{"swedish"}},
	{"da", "dan", "", "Danish", []string{"danish"}},
	{"no", "nor", "", "Norwegian", []string{"norwegian"}},
	{"fi", "fin", "", "Finnish", []string{"finnish"}},
	{"tr", "tur", "", "Turkish", []string{"turkish"}},
	{"uk", "ukr", "", "Ukrainian", []string{"ukrainian"}},
}

var (
	byCode2 map[string]*entry
	byCode3 map[string]*entry
	byWord  map[string]*entry
	namer   = display.English.Languages()
	titler  = cases.Title(xlang.English)
)

func init() {
	byCode2 = make(map[string]*entry, len(languages))
	byCode3 = make(map[string]*entry, len(languages)*2)
	byWord = make(map[string]*entry, len(languages))
	for i := range languages {
		e := &languages[i]
		byCode2[e.code2] = e
		byCode3[e.code3] = e
		if e.alt3 != "" {
			byCode3[e.alt3] = e
		}
		for _, w := range e.words {
			byWord[w] = e
		}
	}
}

func lookup(code string) *entry {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	if e, ok := byCode2[code]; ok {
		return e
	}
	if e, ok := byCode3[code]; ok {
		return e
	}
	if e, ok := byWord[code]; ok {
		return e
	}
	return nil
}

// Canonical maps a code, tag or English word to its short base language code.
// Region and script subtags are dropped. ok is false when the input names no
// known language.
func Canonical(code string) (string, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	if e := lookup(code); e != nil {
		return e.code2, true
	}
	tag, err := xlang.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return "", false
	}
	base, confidence := tag.Base()
	if confidence == xlang.No || base.String() == "und" {
		return "", false
	}
	return base.String(), true
}

// NormalizeSource validates a source language. Empty input and "auto" both
// mean detect.
func NormalizeSource(code string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" || trimmed == Auto {
		return Auto, nil
	}
	canonical, ok := Canonical(trimmed)
	if !ok {
		return "", services.Wrap(services.ErrValidation, "ingest", "language", fmt.Sprintf("unknown source language %q", code), nil)
	}
	return canonical, nil
}

// NormalizeTarget validates an optional translation target. Empty input means
// no translation; "auto" is not a valid target.
func NormalizeTarget(code string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" || trimmed == "none" {
		return "", nil
	}
	canonical, ok := Canonical(trimmed)
	if !ok || trimmed == Auto {
		return "", services.Wrap(services.ErrValidation, "ingest", "language", fmt.Sprintf("unknown target language %q", code), nil)
	}
	return canonical, nil
}

// ToISO2 converts any recognized language code or word to ISO 639-1 (2-letter).
// Returns empty string for unrecognized input.
func ToISO2(code string) string {
	canonical, ok := Canonical(code)
	if !ok || len(canonical) != 2 {
		return ""
	}
	return canonical
}

// ToISO3 converts any recognized language code to ISO 639-2 (3-letter).
// Returns "und" for unrecognized input.
func ToISO3(code string) string {
	if e := lookup(code); e != nil {
		return e.code3
	}
	canonical, ok := Canonical(code)
	if !ok {
		return "und"
	}
	base, err := xlang.ParseBase(canonical)
	if err != nil {
		return "und"
	}
	return base.ISO3()
}

// DisplayName returns a human-readable English name for a code.
// Returns "Auto-detect" for auto, "Unknown" for empty input, or the upper-cased
// input when nothing matches.
func DisplayName(code string) string {
	trimmed := strings.TrimSpace(code)
	switch strings.ToLower(trimmed) {
	case "":
		return "Unknown"
	case Auto:
		return "Auto-detect"
	}
	if e := lookup(trimmed); e != nil {
		return e.display
	}
	if canonical, ok := Canonical(trimmed); ok {
		if name := namer.Name(xlang.Make(canonical)); name != "" {
			return titler.String(name)
		}
	}
	return strings.ToUpper(trimmed)
}
