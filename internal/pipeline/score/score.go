// Package score turns alignment, VAD, and transcript evidence into a graded
// pronunciation report: four component scores (SEG, PROS, FLU, INT), an
// adaptively weighted overall score, a CEFR level estimate, and coaching
// feedback.
//
// Two raters implement the [Rater] interface. [FormulaRater] computes
// everything locally from calibrated heuristics and is fully deterministic.
// [LLMRater] delegates the grading to a chat model, holding it to the same
// formulas via the prompt and validating the returned JSON strictly; it does
// not fall back to the formulas on failure.
package score

import (
	"context"
	"errors"
	"math"

	"github.com/saylens/saylens/internal/pipeline/align"
	"github.com/saylens/saylens/internal/pipeline/audionorm"
	"github.com/saylens/saylens/internal/pipeline/transcribe"
	"github.com/saylens/saylens/internal/pipeline/vad"
)

// ErrScoringUnavailable signals that the configured rater could not produce a
// valid report. Callers surface it as a retryable service condition rather
// than substituting a different rater's numbers.
var ErrScoringUnavailable = errors.New("score: scoring unavailable")

// Mode selects the assessment style.
type Mode string

const (
	// ModeReadAloud grades against a provided reference text.
	ModeReadAloud Mode = "read-aloud"

	// ModeFree grades unscripted speech; the transcript is its own
	// reference and intelligibility leans on the ASR confidence proxy.
	ModeFree Mode = "free"
)

// Calibration constants. Tuned against the logistic curve so that typical
// conversational values land mid-range.
const (
	syllablesPerWord = 1.4

	// Pauses shorter than this are treated as natural articulation gaps.
	pauseThreshold = 0.2

	articulationScale     = 25
	articulationSteepness = 0.1
	articulationCenter    = 50

	disfluencySteepness = 0.02
	disfluencyCenter    = 50

	// Prosody defaults used in the absence of F0 extraction.
	defaultLexicalStress       = 65
	defaultIntonationStability = 65

	// Confidence proxy when the ASR backend reports none.
	assumedASRConfidence = 0.7

	oovPenaltyScale = 10
)

// Weights are the per-component contributions to the overall score.
type Weights struct {
	SEG  float64 `json:"SEG"`
	PROS float64 `json:"PROS"`
	FLU  float64 `json:"FLU"`
	INT  float64 `json:"INT"`
}

// Scores is the numeric half of a report. Field names follow the wire schema.
type Scores struct {
	SEG     float64 `json:"SEG"`
	PROS    float64 `json:"PROS"`
	FLU     float64 `json:"FLU"`
	INT     float64 `json:"INT"`
	Overall float64 `json:"OVERALL"`
	Weights Weights `json:"weights"`

	LexicalStress         float64 `json:"LexicalStress"`
	IntonationStability   float64 `json:"IntonationStability"`
	ArticulationRateScore float64 `json:"ArticulationRateScore"`
	PausePenalty          float64 `json:"PausePenalty"`
	DisfluencyScore       float64 `json:"DisfluencyScore"`

	PER         float64 `json:"PER"`
	NormGOPErr  float64 `json:"normGOPerr"`
	WERAdjusted float64 `json:"WER_adjusted"`

	Level string `json:"level"`
}

// Feedback is the qualitative half of a report.
type Feedback struct {
	TopPhonemeIssues   []string `json:"topPhonemeIssues"`
	ExampleWordsStress []string `json:"exampleWordsStress"`
	CoachingTips       []string `json:"coachingTips"`
}

// Report is a complete assessment.
type Report struct {
	Scores   Scores   `json:"scores"`
	Feedback Feedback `json:"feedback"`
}

// Input carries everything a rater needs for one assessment.
type Input struct {
	Mode          Mode
	Language      string
	ReferenceText string
	Transcript    string

	// Level is the client's CEFR expectation ("A2", "B1", ...). When empty
	// the rater derives a hint from the fluency evidence.
	Level string

	// Duration is the normalized clip length in seconds.
	Duration float64

	Segments  []vad.Segment
	Words     []transcribe.Word
	Alignment *align.Result
	QC        audionorm.QC
}

// Rater produces a report from pipeline evidence.
type Rater interface {
	Score(ctx context.Context, in Input) (*Report, error)
}

// FormulaRater grades locally with deterministic heuristics.
type FormulaRater struct{}

var _ Rater = (*FormulaRater)(nil)

// NewFormulaRater returns a [FormulaRater]. It is stateless and safe for
// concurrent use.
func NewFormulaRater() *FormulaRater {
	return &FormulaRater{}
}

// Score computes the full report. It never fails: missing evidence degrades
// to the calibrated defaults rather than erroring.
func (r *FormulaRater) Score(_ context.Context, in Input) (*Report, error) {
	s := computeScores(in)
	return &Report{
		Scores:   s,
		Feedback: heuristicFeedback(in.Alignment, s),
	}, nil
}

func computeScores(in Input) Scores {
	var s Scores

	if a := in.Alignment; a != nil {
		// PER exceeds 1 when the hypothesis diverges badly from the
		// reference (it is normalized by the reference symbol count only);
		// WER likewise with heavy insertions. Both are rates, so clamp to
		// [0,1] before they feed the 0..100 component formulas.
		s.PER = clamp01(a.PER)
		s.NormGOPErr = a.NormGOPErr
		totalRef := float64(max(1, len(a.RefWords)))
		s.WERAdjusted = clamp01(float64(a.Stats.Sub+a.Stats.Del+a.Stats.Ins) / totalRef)
	}

	s.SEG = 0.6*(100-s.NormGOPErr) + 0.4*(100-100*s.PER)

	s.LexicalStress = defaultLexicalStress
	s.IntonationStability = defaultIntonationStability
	s.PROS = 0.5*s.LexicalStress + 0.5*s.IntonationStability

	s.ArticulationRateScore, s.PausePenalty, s.DisfluencyScore = fluencyParts(in.Duration, in.Segments, len(in.Words))
	s.FLU = 0.4*s.ArticulationRateScore + 0.3*(100-s.PausePenalty) + 0.3*s.DisfluencyScore

	s.INT = intelligibility(in.Mode, s.WERAdjusted, averageConfidence(in.Words))

	level := in.Level
	if level == "" {
		if s.FLU > 70 {
			level = "B1"
		} else {
			level = "A2"
		}
	}
	s.Weights = WeightsForLevel(level)
	s.Overall = s.Weights.SEG*s.SEG + s.Weights.PROS*s.PROS + s.Weights.FLU*s.FLU + s.Weights.INT*s.INT
	s.Level = MapCEFR(s.Overall, s.INT)
	return s
}

// fluencyParts derives the three fluency sub-scores from the speech/silence
// layout. Pauses are the silent stretches between speech segments, including
// leading and trailing silence.
func fluencyParts(duration float64, segments []vad.Segment, wordCount int) (articulation, pausePenalty, disfluency float64) {
	totalSpeech := vad.TotalSpeech(segments)

	var longPause float64
	lastEnd := 0.0
	for _, seg := range segments {
		if gap := seg.Start - lastEnd; gap > pauseThreshold {
			longPause += gap
		}
		lastEnd = seg.End
	}
	if gap := duration - lastEnd; gap > pauseThreshold {
		longPause += gap
	}

	syllables := math.Max(1, math.Round(float64(wordCount)*syllablesPerWord))
	var rate float64
	if totalSpeech > 0 {
		rate = syllables / totalSpeech
	}

	articulation = logistic(rate*articulationScale, articulationSteepness, articulationCenter)
	pausePenalty = clamp01(longPause/math.Max(1, duration)) * 100
	disfluency = logistic(float64(wordCount), disfluencySteepness, disfluencyCenter)
	return articulation, pausePenalty, disfluency
}

func intelligibility(mode Mode, werAdjusted, avgConf float64) float64 {
	if mode == ModeReadAloud {
		return 100 - 100*clamp01(werAdjusted)
	}
	conf := clamp01(avgConf)
	oovPenalty := oovPenaltyScale * (1 - conf)
	return math.Max(0, math.Min(100, 100*conf-oovPenalty))
}

func averageConfidence(words []transcribe.Word) float64 {
	if len(words) == 0 {
		return assumedASRConfidence
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}

// WeightsForLevel returns the adaptive component weights for the expected
// CEFR band. Beginners are graded mostly on fluency and intelligibility,
// advanced speakers on segmental accuracy and prosody.
func WeightsForLevel(level string) Weights {
	switch level {
	case "A1", "A2":
		return Weights{SEG: 0.20, PROS: 0.10, FLU: 0.30, INT: 0.40}
	case "C1", "C2", "C1+":
		return Weights{SEG: 0.30, PROS: 0.35, FLU: 0.20, INT: 0.15}
	default:
		return Weights{SEG: 0.35, PROS: 0.25, FLU: 0.25, INT: 0.15}
	}
}

// MapCEFR maps the overall score to a coarse CEFR band. The A2 cut requires
// minimum intelligibility so that fast but incomprehensible speech does not
// pass.
func MapCEFR(overall, intel float64) string {
	switch {
	case overall > 82:
		return "C1+"
	case overall >= 70:
		return "B2"
	case overall >= 55:
		return "B1"
	case overall >= 40 && intel >= 45:
		return "A2"
	default:
		return "A1"
	}
}

// logistic maps x onto 0..100 through a sigmoid centered at x0.
func logistic(x, k, x0 float64) float64 {
	y := 1 / (1 + math.Exp(-k*(x-x0)))
	return math.Max(0, math.Min(100, 100*y))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
