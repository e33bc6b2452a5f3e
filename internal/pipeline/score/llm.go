package score

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/saylens/saylens/internal/upstream"
	llm "github.com/saylens/saylens/pkg/provider/llm"
)

const (
	defaultRaterTemperature = 0.2

	// Evidence caps keep the prompt bounded on long recordings.
	maxPromptSegments = 5
	maxPromptWords    = 10
)

// raterSystemPrompt holds the model to the same grading formulas the
// FormulaRater uses, so the two raters stay calibration-compatible.
const raterSystemPrompt = `You are a strict, calibration-aware speech pronunciation rater.
Given ASR transcript, optional reference text, VAD segments, and lightweight alignment stats, you will assign scores 0-100 for SEG (segmental), PROS (stress & intonation), FLU (fluency), INT (intelligibility), and the adaptive OVERALL.
Follow these rules exactly:
- Return ONLY JSON. No commentary.
- Obey the formulas:
  SEG = 0.6*(100 - normGOPerr) + 0.4*(100 - 100*PER)
  PROS = 0.5*LexicalStress + 0.5*IntonationStability
  FLU = 0.4*ArticulationRateScore + 0.3*(100 - PausePenalty) + 0.3*DisfluencyScore
  Read-aloud INT = 100 - 100*WER_adjusted; free-mode INT is based on the average ASR confidence proxy with an OOV penalty.
- Normalize sub-scores to 0..100. Avoid giving 0 or 100 (use 5..95 unless obviously perfect/bad).
- Provide: topPhonemeIssues (array), exampleWordsStress (array), coachingTips (array of short strings).
- Apply adaptive weights based on expected CEFR (A1/A2, B1/B2, C1+).
- Output MUST include numeric fields and arrays as in the schema below.`

const raterSchema = `{
  "scores": {
    "SEG": 0-100, "PROS": 0-100, "FLU": 0-100, "INT": 0-100,
    "OVERALL": 0-100, "weights": {"SEG":n,"PROS":n,"FLU":n,"INT":n},
    "LexicalStress": 0-100, "IntonationStability": 0-100,
    "ArticulationRateScore": 0-100, "PausePenalty": 0-100, "DisfluencyScore": 0-100,
    "PER": 0-1, "normGOPerr": 0-100, "WER_adjusted": 0-1, "level": "A1|A2|B1|B2|C1+"
  },
  "feedback": {
    "topPhonemeIssues": [..],
    "exampleWordsStress": [..],
    "coachingTips": [..]
  }
}`

// LLMOption is a functional option for configuring an [LLMRater].
type LLMOption func(*LLMRater)

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(temp float64) LLMOption {
	return func(r *LLMRater) {
		r.temperature = temp
	}
}

// LLMRater delegates grading to a chat model. The model receives the same
// evidence the FormulaRater computes from, plus the formulas it must obey;
// its JSON reply is validated strictly and rejected wholesale on any schema
// or range violation. There is no silent fallback to local formulas: a rater
// that cannot produce trustworthy numbers fails the assessment with
// [ErrScoringUnavailable].
type LLMRater struct {
	llm         llm.Provider
	guard       *upstream.Guard
	temperature float64
}

var _ Rater = (*LLMRater)(nil)

// NewLLMRater returns an [LLMRater]. guard bounds concurrency and applies the
// timeout/retry policy to the completion call; it must not be nil.
func NewLLMRater(provider llm.Provider, guard *upstream.Guard, opts ...LLMOption) *LLMRater {
	r := &LLMRater{
		llm:         provider,
		guard:       guard,
		temperature: defaultRaterTemperature,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Score asks the model for a graded report. Every failure mode, from the
// completion call erroring to the reply failing validation, surfaces as
// [ErrScoringUnavailable] so callers can distinguish "service could not
// grade" from bad input.
func (r *LLMRater) Score(ctx context.Context, in Input) (*Report, error) {
	prompt, err := buildRaterPrompt(in)
	if err != nil {
		return nil, fmt.Errorf("llm rater: build prompt: %w", err)
	}

	var resp *llm.CompletionResponse
	err = r.guard.Do(ctx, upstream.Transient(llm.ErrUnavailable), func(ctx context.Context) error {
		var callErr error
		resp, callErr = r.llm.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: raterSystemPrompt,
			Temperature:  r.temperature,
			Messages: []llm.Message{
				{Role: "user", Content: prompt},
			},
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("llm rater: complete: %w: %w", ErrScoringUnavailable, err)
	}

	report, err := parseRaterResponse(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("llm rater: %w: %w", ErrScoringUnavailable, err)
	}
	return report, nil
}

func buildRaterPrompt(in Input) (string, error) {
	qc, err := json.Marshal(in.QC)
	if err != nil {
		return "", err
	}
	var alignment []byte
	if in.Alignment != nil {
		if alignment, err = json.Marshal(in.Alignment); err != nil {
			return "", err
		}
	} else {
		alignment = []byte("{}")
	}
	segments, err := json.Marshal(in.Segments[:min(len(in.Segments), maxPromptSegments)])
	if err != nil {
		return "", err
	}
	words, err := json.Marshal(in.Words[:min(len(in.Words), maxPromptWords)])
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Mode: %s\n", in.Mode)
	fmt.Fprintf(&sb, "Language: %s\n", in.Language)
	fmt.Fprintf(&sb, "QC: %s\n", qc)
	fmt.Fprintf(&sb, "Reference: %s\n", in.ReferenceText)
	fmt.Fprintf(&sb, "Transcript: %s\n", in.Transcript)
	fmt.Fprintf(&sb, "Alignment: %s\n", alignment)
	fmt.Fprintf(&sb, "Segments(sample): %s\n", segments)
	fmt.Fprintf(&sb, "Words(sample): %s\n", words)
	sb.WriteString("\nTask: Compute the numeric scores using the formulas. Where a value is missing (e.g., true GOP), estimate it from alignment stats and typical distributions. Keep outputs consistent and realistic. Return JSON with this shape:\n")
	sb.WriteString(raterSchema)
	return sb.String(), nil
}

// parseRaterResponse extracts and validates the model's JSON reply.
func parseRaterResponse(content string) (*Report, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if err := validateReport(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

// extractJSON returns the raw JSON object in content: the whole string if it
// parses, otherwise the outermost braced span.
func extractJSON(content string) ([]byte, error) {
	trimmed := strings.TrimSpace(content)
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("non-JSON content")
	}
	candidate := trimmed[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("non-JSON content")
	}
	return []byte(candidate), nil
}

func validateReport(r *Report) error {
	s := &r.Scores
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"SEG", s.SEG},
		{"PROS", s.PROS},
		{"FLU", s.FLU},
		{"INT", s.INT},
		{"OVERALL", s.Overall},
		{"LexicalStress", s.LexicalStress},
		{"IntonationStability", s.IntonationStability},
		{"ArticulationRateScore", s.ArticulationRateScore},
		{"PausePenalty", s.PausePenalty},
		{"DisfluencyScore", s.DisfluencyScore},
		{"normGOPerr", s.NormGOPErr},
	} {
		if c.v < 0 || c.v > 100 {
			return fmt.Errorf("validate: %s out of range: %v", c.name, c.v)
		}
	}
	if s.PER < 0 || s.PER > 1 {
		return fmt.Errorf("validate: PER out of range: %v", s.PER)
	}
	if s.WERAdjusted < 0 || s.WERAdjusted > 1 {
		return fmt.Errorf("validate: WER_adjusted out of range: %v", s.WERAdjusted)
	}
	switch s.Level {
	case "A1", "A2", "B1", "B2", "C1", "C2", "C1+":
	default:
		return fmt.Errorf("validate: unknown level %q", s.Level)
	}
	wsum := s.Weights.SEG + s.Weights.PROS + s.Weights.FLU + s.Weights.INT
	if wsum < 0.99 || wsum > 1.01 {
		return fmt.Errorf("validate: weights sum to %v, want 1", wsum)
	}
	return nil
}
