package pipeline

import (
	"reflect"
	"testing"

	"scribe/internal/inference"
)

func TestNormalizeSegments(t *testing.T) {
	raw := []inference.Segment{
		{StartMS: 4000, EndMS: 6000, Text: " third "},
		{StartMS: 0, EndMS: 2500, Text: "first"},
		{StartMS: 2000, EndMS: 4500, Text: "second"},
		{StartMS: 7000, EndMS: 7000, Text: "zero length"},
		{StartMS: 8000, EndMS: 9000, Text: "   "},
		{StartMS: -50, EndMS: -10, Text: "negative"},
	}
	got := NormalizeSegments(raw)
	want := []inference.Segment{
		{StartMS: 0, EndMS: 2000, Text: "first"},
		{StartMS: 2000, EndMS: 4000, Text: "second"},
		{StartMS: 4000, EndMS: 6000, Text: "third"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeSegments:\n got %+v\nwant %+v", got, want)
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartMS < got[i-1].EndMS {
			t.Fatalf("segments %d and %d overlap", i-1, i)
		}
	}
	if raw[0].Text != " third " {
		t.Fatal("input slice was modified")
	}
}

func TestNormalizeSegmentsDropsDuplicateStarts(t *testing.T) {
	got := NormalizeSegments([]inference.Segment{
		{StartMS: 1000, EndMS: 3000, Text: "long"},
		{StartMS: 1000, EndMS: 2000, Text: "short"},
		{StartMS: 3000, EndMS: 4000, Text: "next"},
	})
	for i := range got {
		if got[i].EndMS <= got[i].StartMS {
			t.Fatalf("segment %d has non-positive length: %+v", i, got[i])
		}
		if i > 0 && got[i].StartMS < got[i-1].EndMS {
			t.Fatalf("segments overlap: %+v", got)
		}
	}
	if len(got) != 2 || got[0].Text != "long" || got[1].Text != "next" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestMergeSpeakers(t *testing.T) {
	segments := []inference.Segment{
		{StartMS: 0, EndMS: 1000, Text: "a"},
		{StartMS: 1000, EndMS: 3000, Text: "b"},
		{StartMS: 3000, EndMS: 4000, Text: "c"},
		{StartMS: 9000, EndMS: 9500, Text: "d"},
	}
	turns := []inference.Turn{
		{Speaker: "SPEAKER_01", StartMS: 1800, EndMS: 3500},
		{Speaker: "SPEAKER_00", StartMS: 0, EndMS: 1800},
		{Speaker: "SPEAKER_02", StartMS: 3500, EndMS: 4000},
		{Speaker: "", StartMS: 9000, EndMS: 9500},
	}
	got := MergeSpeakers(segments, turns)
	// c overlaps SPEAKER_01 and SPEAKER_02 for 500ms each; the earlier turn wins.
	wantSpeakers := []string{"SPEAKER_00", "SPEAKER_01", "SPEAKER_01", ""}
	for i, seg := range got {
		if seg.Speaker != wantSpeakers[i] {
			t.Fatalf("segment %d speaker = %q, want %q", i, seg.Speaker, wantSpeakers[i])
		}
		if seg.StartMS != segments[i].StartMS || seg.EndMS != segments[i].EndMS || seg.Text != segments[i].Text {
			t.Fatalf("segment %d timing or text changed: %+v", i, seg)
		}
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 100, MaxDelay: 350}
	cases := map[int]int64{1: 100, 2: 200, 3: 350, 4: 350}
	for retry, want := range cases {
		if got := policy.Delay(retry); int64(got) != want {
			t.Fatalf("Delay(%d) = %d, want %d", retry, got, want)
		}
	}
	if (RetryPolicy{}).Delay(3) != 0 {
		t.Fatal("zero policy should not wait")
	}
}
