package inference

import "scribe/internal/queue"

// Segment is a timed span of recognised speech.
type Segment struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
	Speaker string `json:"speaker,omitempty"`
}

// Turn is one speaker's continuous stretch as reported by diarization.
type Turn struct {
	Speaker string `json:"speaker"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Profile is the engine configuration a processing mode selects.
type Profile struct {
	Model    string `json:"model"`
	BeamSize int    `json:"beam_size"`
	Quality  string `json:"quality"`
}

var profiles = map[queue.Mode]Profile{
	queue.ModeCheetah: {Model: "small", BeamSize: 1, Quality: "fast"},
	queue.ModeDolphin: {Model: "medium", BeamSize: 3, Quality: "balanced"},
	queue.ModeWhale:   {Model: "large-v3", BeamSize: 5, Quality: "accurate"},
}

// ProfileFor returns the engine configuration for mode. Unknown modes get the
// balanced profile.
func ProfileFor(mode queue.Mode) Profile {
	if profile, ok := profiles[mode]; ok {
		return profile
	}
	return profiles[queue.ModeDolphin]
}

// DetectRequest asks for the dominant spoken language.
type DetectRequest struct {
	AudioPath string `json:"audio_path"`
}

// DetectResponse carries the detected language.
type DetectResponse struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// RestoreRequest asks the engine to write an enhanced copy of the audio.
type RestoreRequest struct {
	AudioPath  string `json:"audio_path"`
	OutputPath string `json:"output_path"`
}

// RestoreResponse names the file the engine wrote.
type RestoreResponse struct {
	OutputPath string `json:"output_path"`
}

// TranscribeRequest asks for timed segments.
type TranscribeRequest struct {
	AudioPath string  `json:"audio_path"`
	Language  string  `json:"language"`
	Mode      string  `json:"mode"`
	Profile   Profile `json:"profile"`
}

// TranscribeResponse carries raw recognised segments.
type TranscribeResponse struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// DiarizeRequest asks for speaker turns.
type DiarizeRequest struct {
	AudioPath string `json:"audio_path"`
}

// DiarizeResponse carries speaker turns in any order.
type DiarizeResponse struct {
	Turns []Turn `json:"turns"`
}

// TranslateItem is one segment's text keyed by its index.
type TranslateItem struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// TranslateRequest asks for segment text in another language.
type TranslateRequest struct {
	SourceLanguage string          `json:"source_language"`
	TargetLanguage string          `json:"target_language"`
	Segments       []TranslateItem `json:"segments"`
}

// TranslateResponse carries translated text keyed by index.
type TranslateResponse struct {
	Segments []TranslateItem `json:"segments"`
}
