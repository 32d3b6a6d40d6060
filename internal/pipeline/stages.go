package pipeline

import (
	"context"
	"fmt"
	"strings"

	"scribe/internal/inference"
	"scribe/internal/language"
	"scribe/internal/queue"
	"scribe/internal/services"
	"scribe/internal/storage"
)

// Stage names, in execution order.
const (
	StageDetect     = "detect_language"
	StageRestore    = "restore_audio"
	StageTranscribe = "transcribe"
	StageDiarize    = "diarize"
	StageTranslate  = "translate"
)

// State is the artifact threaded through the stages of one run.
type State struct {
	Job       queue.Job
	AudioPath string
	Language  string
	Segments  []inference.Segment

	workKeys []string
}

// workKey allocates a scratch blob key that is removed when the run ends.
func (s *State) workKey(name string) string {
	key := storage.WorkKey(s.Job.ID, name)
	s.workKeys = append(s.workKeys, key)
	return key
}

// Descriptor is one enabled stage. Run must be safe to call again after a
// transient failure.
type Descriptor struct {
	Name string
	Run  func(ctx context.Context, state *State) error
}

// Plan builds the ordered stage list a job needs. Optional stages are decided
// here once so the executor runs a plain sequence.
func (e *Executor) Plan(job queue.Job) []Descriptor {
	var stages []Descriptor
	if job.SourceLanguage == "" || job.SourceLanguage == queue.AutoLanguage {
		stages = append(stages, Descriptor{Name: StageDetect, Run: e.detectLanguage})
	}
	if job.RestoreAudio {
		stages = append(stages, Descriptor{Name: StageRestore, Run: e.restoreAudio})
	}
	stages = append(stages, Descriptor{Name: StageTranscribe, Run: e.transcribe})
	if job.SpeakerRecognition {
		stages = append(stages, Descriptor{Name: StageDiarize, Run: e.diarize})
	}
	if job.TargetLanguage != "" {
		stages = append(stages, Descriptor{Name: StageTranslate, Run: e.translate})
	}
	return stages
}

// StageNames lists the names in a plan.
func StageNames(plan []Descriptor) []string {
	names := make([]string, len(plan))
	for i, stage := range plan {
		names[i] = stage.Name
	}
	return names
}

func (e *Executor) detectLanguage(ctx context.Context, state *State) error {
	resp, err := e.engine.DetectLanguage(ctx, inference.DetectRequest{AudioPath: state.AudioPath})
	if err != nil {
		return err
	}
	code, ok := language.Canonical(resp.Language)
	if !ok {
		return services.Wrap(services.ErrFatal, StageDetect, "", fmt.Sprintf("engine reported unknown language %q", resp.Language), nil)
	}
	state.Language = code
	return nil
}

func (e *Executor) restoreAudio(ctx context.Context, state *State) error {
	key := state.workKey("restored.wav")
	output, err := e.blobs.Path(key)
	if err != nil {
		return services.Wrap(services.ErrFatal, StageRestore, "", "resolve work path", err)
	}
	resp, err := e.engine.Restore(ctx, inference.RestoreRequest{AudioPath: state.AudioPath, OutputPath: output})
	if err != nil {
		return err
	}
	if resp.OutputPath != "" && resp.OutputPath != output {
		return services.Wrap(services.ErrFatal, StageRestore, "", fmt.Sprintf("engine wrote %q instead of the requested work file", resp.OutputPath), nil)
	}
	exists, err := e.blobs.Exists(key)
	if err != nil {
		return services.Wrap(services.ErrTransient, StageRestore, "", "stat restored audio", err)
	}
	if !exists {
		return services.Wrap(services.ErrFatal, StageRestore, "", "engine reported success but wrote no audio", nil)
	}
	state.AudioPath = output
	return nil
}

func (e *Executor) transcribe(ctx context.Context, state *State) error {
	lang := state.Language
	if lang == "" {
		lang = queue.AutoLanguage
	}
	resp, err := e.engine.Transcribe(ctx, inference.TranscribeRequest{
		AudioPath: state.AudioPath,
		Language:  lang,
		Mode:      string(state.Job.Mode),
		Profile:   inference.ProfileFor(state.Job.Mode),
	})
	if err != nil {
		return err
	}
	if state.Language == "" {
		if code, ok := language.Canonical(resp.Language); ok {
			state.Language = code
		}
	}
	segments := NormalizeSegments(resp.Segments)
	// Speaker labels only come from the diarize stage.
	for i := range segments {
		segments[i].Speaker = ""
	}
	state.Segments = segments
	return nil
}

func (e *Executor) diarize(ctx context.Context, state *State) error {
	if len(state.Segments) == 0 {
		return nil
	}
	resp, err := e.engine.Diarize(ctx, inference.DiarizeRequest{AudioPath: state.AudioPath})
	if err != nil {
		return err
	}
	state.Segments = MergeSpeakers(state.Segments, resp.Turns)
	return nil
}

func (e *Executor) translate(ctx context.Context, state *State) error {
	target := state.Job.TargetLanguage
	if len(state.Segments) == 0 || target == state.Language {
		return nil
	}
	items := make([]inference.TranslateItem, len(state.Segments))
	for i, seg := range state.Segments {
		items[i] = inference.TranslateItem{Index: i, Text: seg.Text}
	}
	resp, err := e.engine.Translate(ctx, inference.TranslateRequest{
		SourceLanguage: state.Language,
		TargetLanguage: target,
		Segments:       items,
	})
	if err != nil {
		return err
	}
	translated := make(map[int]string, len(resp.Segments))
	for _, item := range resp.Segments {
		translated[item.Index] = strings.TrimSpace(item.Text)
	}
	out := make([]inference.Segment, len(state.Segments))
	for i, seg := range state.Segments {
		text, ok := translated[i]
		if !ok {
			return services.Wrap(services.ErrFatal, StageTranslate, "", fmt.Sprintf("engine omitted segment %d", i), nil)
		}
		seg.Text = text
		out[i] = seg
	}
	state.Segments = out
	return nil
}
