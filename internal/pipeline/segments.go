package pipeline

import (
	"sort"
	"strings"

	"scribe/internal/inference"
)

// NormalizeSegments orders raw engine output by start time, trims each
// segment so it ends no later than the next begins, drops empty or
// zero-length spans and returns a fresh slice. The result is strictly
// ordered and non-overlapping.
func NormalizeSegments(raw []inference.Segment) []inference.Segment {
	segments := make([]inference.Segment, 0, len(raw))
	for _, seg := range raw {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Text == "" {
			continue
		}
		if seg.StartMS < 0 {
			seg.StartMS = 0
		}
		segments = append(segments, seg)
	}
	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].StartMS != segments[j].StartMS {
			return segments[i].StartMS < segments[j].StartMS
		}
		return segments[i].EndMS < segments[j].EndMS
	})

	out := segments[:0]
	for i, seg := range segments {
		if i+1 < len(segments) && seg.EndMS > segments[i+1].StartMS {
			seg.EndMS = segments[i+1].StartMS
		}
		if seg.EndMS <= seg.StartMS {
			continue
		}
		if n := len(out); n > 0 && out[n-1].EndMS > seg.StartMS {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// MergeSpeakers labels each segment with the speaker whose turn overlaps it
// the most. Ties go to the turn that starts first; segments no turn touches
// keep an empty label.
func MergeSpeakers(segments []inference.Segment, turns []inference.Turn) []inference.Segment {
	ordered := make([]inference.Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.EndMS > turn.StartMS && strings.TrimSpace(turn.Speaker) != "" {
			ordered = append(ordered, turn)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartMS < ordered[j].StartMS
	})

	out := make([]inference.Segment, len(segments))
	for i, seg := range segments {
		seg.Speaker = ""
		totals := make(map[string]int64)
		firstSeen := make(map[string]int)
		for j, turn := range ordered {
			if turn.StartMS >= seg.EndMS {
				break
			}
			overlap := min(seg.EndMS, turn.EndMS) - max(seg.StartMS, turn.StartMS)
			if overlap <= 0 {
				continue
			}
			speaker := strings.TrimSpace(turn.Speaker)
			if _, ok := firstSeen[speaker]; !ok {
				firstSeen[speaker] = j
			}
			totals[speaker] += overlap
		}
		var (
			best      string
			bestTotal int64
			bestFirst int
		)
		for speaker, total := range totals {
			first := firstSeen[speaker]
			if total > bestTotal || (total == bestTotal && first < bestFirst) {
				best, bestTotal, bestFirst = speaker, total, first
			}
		}
		seg.Speaker = best
		out[i] = seg
	}
	return out
}
