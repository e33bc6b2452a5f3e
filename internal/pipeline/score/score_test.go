package score_test

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/saylens/saylens/internal/pipeline/align"
	"github.com/saylens/saylens/internal/pipeline/score"
	"github.com/saylens/saylens/internal/pipeline/transcribe"
	"github.com/saylens/saylens/internal/pipeline/vad"
)

// wordsWithConfidence builds n transcript words all carrying the same
// confidence. Timing is irrelevant to scoring.
func wordsWithConfidence(n int, conf float64) []transcribe.Word {
	out := make([]transcribe.Word, n)
	for i := range out {
		out[i] = transcribe.Word{Text: "word", Confidence: conf}
	}
	return out
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// assertBounded checks every numeric field of a report against its documented
// range: component and aggregate scores in [0,100], error rates in [0,1].
func assertBounded(t *testing.T, s score.Scores) {
	t.Helper()
	ranges := []struct {
		name   string
		v      float64
		lo, hi float64
	}{
		{"SEG", s.SEG, 0, 100},
		{"PROS", s.PROS, 0, 100},
		{"FLU", s.FLU, 0, 100},
		{"INT", s.INT, 0, 100},
		{"OVERALL", s.Overall, 0, 100},
		{"LexicalStress", s.LexicalStress, 0, 100},
		{"IntonationStability", s.IntonationStability, 0, 100},
		{"ArticulationRateScore", s.ArticulationRateScore, 0, 100},
		{"PausePenalty", s.PausePenalty, 0, 100},
		{"DisfluencyScore", s.DisfluencyScore, 0, 100},
		{"normGOPerr", s.NormGOPErr, 0, 100},
		{"PER", s.PER, 0, 1},
		{"WER_adjusted", s.WERAdjusted, 0, 1},
	}
	for _, r := range ranges {
		if math.IsNaN(r.v) || math.IsInf(r.v, 0) || r.v < r.lo || r.v > r.hi {
			t.Errorf("%s = %v, want in [%v, %v]", r.name, r.v, r.lo, r.hi)
		}
	}
	if s.Level == "" {
		t.Error("level is empty")
	}
}

func TestFormulaRater_EmptyTranscriptBoundedScores(t *testing.T) {
	t.Parallel()

	// A silent or fully garbled take yields an empty transcript. The raw
	// phoneme error rate then exceeds 1 (the edit distance wipes out the
	// whole reference string), which must not push SEG below zero.
	ref := "the quick brown fox jumps over the lazy dog"
	a := align.Align(ref, "")

	report, err := score.NewFormulaRater().Score(context.Background(), score.Input{
		Mode:          score.ModeReadAloud,
		ReferenceText: ref,
		Transcript:    "",
		Duration:      6,
		Segments:      nil,
		Alignment:     &a,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	s := report.Scores
	if a.PER <= 1 {
		t.Fatalf("alignment PER = %v, want > 1 for this fixture", a.PER)
	}
	assertBounded(t, s)
	if !approxEqual(s.PER, 1) {
		t.Errorf("PER = %v, want clamped to 1", s.PER)
	}
	if !approxEqual(s.SEG, 0) {
		t.Errorf("SEG = %v, want 0", s.SEG)
	}
}

func TestFormulaRater_InsertionHeavyTranscriptBoundedScores(t *testing.T) {
	t.Parallel()

	// Many inserted words push the raw adjusted WER above 1.
	ref := "hello"
	hyp := "well hello there my good friend how are you"
	a := align.Align(ref, hyp)

	report, err := score.NewFormulaRater().Score(context.Background(), score.Input{
		Mode:          score.ModeReadAloud,
		ReferenceText: ref,
		Transcript:    hyp,
		Duration:      6,
		Segments:      []vad.Segment{{Start: 0, End: 6}},
		Words:         wordsWithConfidence(9, 0.7),
		Alignment:     &a,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	assertBounded(t, report.Scores)
	if !approxEqual(report.Scores.WERAdjusted, 1) {
		t.Errorf("WER_adjusted = %v, want clamped to 1", report.Scores.WERAdjusted)
	}
}

func TestFormulaRater_AllSilenceBoundedReport(t *testing.T) {
	t.Parallel()

	// All-silence clip: no segments, no words, empty transcript. The report
	// must still be complete and every score within range.
	a := align.Align("good morning everyone", "")

	report, err := score.NewFormulaRater().Score(context.Background(), score.Input{
		Mode:          score.ModeReadAloud,
		ReferenceText: "good morning everyone",
		Transcript:    "",
		Duration:      6,
		Segments:      []vad.Segment{},
		Words:         nil,
		Alignment:     &a,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	assertBounded(t, report.Scores)
	if got, want := report.Scores.PausePenalty, 100.0; !approxEqual(got, want) {
		t.Errorf("PausePenalty = %v, want %v for an all-silence clip", got, want)
	}
}

func TestFormulaRater_PerfectReadAloud(t *testing.T) {
	t.Parallel()

	ref := "the weather is lovely today"
	a := align.Align(ref, ref)

	report, err := score.NewFormulaRater().Score(context.Background(), score.Input{
		Mode:          score.ModeReadAloud,
		ReferenceText: ref,
		Transcript:    ref,
		Duration:      6,
		Segments:      []vad.Segment{{Start: 0.2, End: 5.8}},
		Words:         wordsWithConfidence(5, 0.7),
		Alignment:     &a,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	s := report.Scores
	if !approxEqual(s.PER, 0) || !approxEqual(s.WERAdjusted, 0) {
		t.Errorf("PER = %v, WER_adjusted = %v, want both 0", s.PER, s.WERAdjusted)
	}
	if !approxEqual(s.SEG, 100) {
		t.Errorf("SEG = %v, want 100", s.SEG)
	}
	if !approxEqual(s.INT, 100) {
		t.Errorf("INT = %v, want 100", s.INT)
	}
	if !approxEqual(s.PROS, 65) {
		t.Errorf("PROS = %v, want 65", s.PROS)
	}
	if s.Overall <= 0 || s.Overall > 100 {
		t.Errorf("OVERALL = %v, want in (0, 100]", s.Overall)
	}
	if wsum := s.Weights.SEG + s.Weights.PROS + s.Weights.FLU + s.Weights.INT; !approxEqual(wsum, 1) {
		t.Errorf("weights sum to %v, want 1", wsum)
	}
}

func TestFormulaRater_MismatchLowersScores(t *testing.T) {
	t.Parallel()

	ref := "she sells sea shells by the sea shore"
	a := align.Align(ref, "he tells free smells")

	report, err := score.NewFormulaRater().Score(context.Background(), score.Input{
		Mode:          score.ModeReadAloud,
		ReferenceText: ref,
		Transcript:    "he tells free smells",
		Duration:      6,
		Segments:      []vad.Segment{{Start: 0, End: 6}},
		Words:         wordsWithConfidence(4, 0.7),
		Alignment:     &a,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	s := report.Scores
	if s.WERAdjusted <= 0 {
		t.Errorf("WER_adjusted = %v, want > 0", s.WERAdjusted)
	}
	if s.INT >= 100 {
		t.Errorf("INT = %v, want < 100", s.INT)
	}
	if s.SEG >= 100 {
		t.Errorf("SEG = %v, want < 100", s.SEG)
	}
}

func TestFormulaRater_FreeModeIntelligibility(t *testing.T) {
	t.Parallel()

	a := align.Align("", "tell me about your weekend")
	in := score.Input{
		Mode:       score.ModeFree,
		Transcript: "tell me about your weekend",
		Duration:   6,
		Segments:   []vad.Segment{{Start: 0, End: 6}},
		Words:      wordsWithConfidence(5, 0.7),
		Alignment:  &a,
	}

	report, err := score.NewFormulaRater().Score(context.Background(), in)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// 100*0.7 minus the out-of-vocabulary penalty 10*(1-0.7).
	if got, want := report.Scores.INT, 67.0; !approxEqual(got, want) {
		t.Errorf("INT = %v, want %v", got, want)
	}

	// With no words the assumed confidence applies, which is also 0.7.
	in.Words = nil
	report, err = score.NewFormulaRater().Score(context.Background(), in)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got, want := report.Scores.INT, 67.0; !approxEqual(got, want) {
		t.Errorf("INT without words = %v, want %v", got, want)
	}
}

func TestFormulaRater_PausePenalty(t *testing.T) {
	t.Parallel()

	// 2 s leading, 2 s mid, 2 s trailing silence over a 10 s clip.
	report, err := score.NewFormulaRater().Score(context.Background(), score.Input{
		Mode:       score.ModeFree,
		Transcript: "some words",
		Duration:   10,
		Segments: []vad.Segment{
			{Start: 2, End: 4},
			{Start: 6, End: 8},
		},
		Words: wordsWithConfidence(8, 0.7),
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got, want := report.Scores.PausePenalty, 60.0; !approxEqual(got, want) {
		t.Errorf("PausePenalty = %v, want %v", got, want)
	}
}

func TestFormulaRater_LowFluencyHintsBeginnerWeights(t *testing.T) {
	t.Parallel()

	// No words and no speech: fluency collapses, so the empty level hint
	// resolves to the beginner weight set.
	report, err := score.NewFormulaRater().Score(context.Background(), score.Input{
		Mode:       score.ModeFree,
		Transcript: "",
		Duration:   6,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	want := score.Weights{SEG: 0.20, PROS: 0.10, FLU: 0.30, INT: 0.40}
	if report.Scores.Weights != want {
		t.Errorf("weights = %+v, want %+v", report.Scores.Weights, want)
	}
}

func TestFormulaRater_ExplicitLevelSelectsWeights(t *testing.T) {
	t.Parallel()

	report, err := score.NewFormulaRater().Score(context.Background(), score.Input{
		Mode:       score.ModeFree,
		Transcript: "hello there",
		Level:      "C1",
		Duration:   6,
		Segments:   []vad.Segment{{Start: 0, End: 6}},
		Words:      wordsWithConfidence(2, 0.7),
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	want := score.Weights{SEG: 0.30, PROS: 0.35, FLU: 0.20, INT: 0.15}
	if report.Scores.Weights != want {
		t.Errorf("weights = %+v, want %+v", report.Scores.Weights, want)
	}
}

func TestWeightsForLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level string
		want  score.Weights
	}{
		{"A1", score.Weights{SEG: 0.20, PROS: 0.10, FLU: 0.30, INT: 0.40}},
		{"A2", score.Weights{SEG: 0.20, PROS: 0.10, FLU: 0.30, INT: 0.40}},
		{"B1", score.Weights{SEG: 0.35, PROS: 0.25, FLU: 0.25, INT: 0.15}},
		{"B2", score.Weights{SEG: 0.35, PROS: 0.25, FLU: 0.25, INT: 0.15}},
		{"C1", score.Weights{SEG: 0.30, PROS: 0.35, FLU: 0.20, INT: 0.15}},
		{"C1+", score.Weights{SEG: 0.30, PROS: 0.35, FLU: 0.20, INT: 0.15}},
		{"C2", score.Weights{SEG: 0.30, PROS: 0.35, FLU: 0.20, INT: 0.15}},
		{"", score.Weights{SEG: 0.35, PROS: 0.25, FLU: 0.25, INT: 0.15}},
	}
	for _, tc := range cases {
		got := score.WeightsForLevel(tc.level)
		if got != tc.want {
			t.Errorf("WeightsForLevel(%q) = %+v, want %+v", tc.level, got, tc.want)
		}
		if wsum := got.SEG + got.PROS + got.FLU + got.INT; !approxEqual(wsum, 1) {
			t.Errorf("WeightsForLevel(%q) weights sum to %v, want 1", tc.level, wsum)
		}
	}
}

func TestMapCEFR(t *testing.T) {
	t.Parallel()

	cases := []struct {
		overall, intel float64
		want           string
	}{
		{90, 90, "C1+"},
		{82.1, 50, "C1+"},
		{82, 50, "B2"},
		{70, 50, "B2"},
		{69.9, 50, "B1"},
		{55, 50, "B1"},
		{54.9, 50, "A2"},
		{40, 45, "A2"},
		{40, 44, "A1"},
		{39.9, 90, "A1"},
		{0, 0, "A1"},
	}
	for _, tc := range cases {
		if got := score.MapCEFR(tc.overall, tc.intel); got != tc.want {
			t.Errorf("MapCEFR(%v, %v) = %q, want %q", tc.overall, tc.intel, got, tc.want)
		}
	}
}

func TestFormulaRater_Feedback(t *testing.T) {
	t.Parallel()

	// "think" vs "tink" drops the TH pseudo-phoneme.
	a := align.Align("i think so", "i tink so")

	report, err := score.NewFormulaRater().Score(context.Background(), score.Input{
		Mode:          score.ModeReadAloud,
		ReferenceText: "i think so",
		Transcript:    "i tink so",
		Duration:      6,
		Segments:      []vad.Segment{{Start: 0, End: 6}},
		Words:         wordsWithConfidence(3, 0.7),
		Alignment:     &a,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	var hasTH bool
	for _, ph := range report.Feedback.TopPhonemeIssues {
		if ph == "TH" {
			hasTH = true
		}
	}
	if !hasTH {
		t.Errorf("topPhonemeIssues = %v, want to contain TH", report.Feedback.TopPhonemeIssues)
	}
}

func TestFormulaRater_CoachingTips(t *testing.T) {
	t.Parallel()

	// High PER from a completely different transcript, high pause penalty
	// from mostly-silent audio.
	ref := "sphinx of black quartz judge my vow"
	a := align.Align(ref, "mumble")

	report, err := score.NewFormulaRater().Score(context.Background(), score.Input{
		Mode:          score.ModeReadAloud,
		ReferenceText: ref,
		Transcript:    "mumble",
		Duration:      10,
		Segments:      []vad.Segment{{Start: 4, End: 6}},
		Words:         wordsWithConfidence(1, 0.7),
		Alignment:     &a,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	tips := strings.Join(report.Feedback.CoachingTips, " | ")
	if !strings.Contains(tips, "minimal pairs") {
		t.Errorf("coaching tips %q missing the pronunciation tip", tips)
	}
	if !strings.Contains(tips, "shadowing") {
		t.Errorf("coaching tips %q missing the pausing tip", tips)
	}
}
