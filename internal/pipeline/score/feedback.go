package score

import (
	"github.com/antzucaro/matchr"

	"github.com/saylens/saylens/internal/pipeline/align"
)

const maxFeedbackItems = 5

// heuristicFeedback derives coaching feedback from the alignment evidence.
//
// Phoneme issues come from substitutions: the reference pseudo-phonemes that
// the hypothesis rendering lacks. Stress examples are substitutions where the
// two words share a Double Metaphone code, meaning the consonant skeleton
// survived and the miss is likely vowel quality or stress placement.
func heuristicFeedback(a *align.Result, s Scores) Feedback {
	var fb Feedback
	if a != nil {
		fb.TopPhonemeIssues = topPhonemeIssues(a.Ops)
		fb.ExampleWordsStress = stressExamples(a.Ops)
	}

	if s.PER > 0.3 {
		fb.CoachingTips = append(fb.CoachingTips, "Work on individual sounds. Practice minimal pairs like /θ/ vs /t/.")
	}
	if s.PausePenalty > 20 {
		fb.CoachingTips = append(fb.CoachingTips, "Reduce long pauses. Try shadowing 4-7 syllables per run.")
	}
	return fb
}

func topPhonemeIssues(ops []align.Op) []string {
	var issues []string
	seen := make(map[string]bool)
	for _, op := range ops {
		if op.Kind != align.Substitution {
			continue
		}
		hypSet := make(map[string]bool)
		for _, ph := range align.PseudoPhonemes(op.Hyp) {
			hypSet[ph] = true
		}
		for _, ph := range align.PseudoPhonemes(op.Ref) {
			if hypSet[ph] || seen[ph] {
				continue
			}
			seen[ph] = true
			issues = append(issues, ph)
			if len(issues) == maxFeedbackItems {
				return issues
			}
		}
	}
	return issues
}

func stressExamples(ops []align.Op) []string {
	var examples []string
	seen := make(map[string]bool)
	for _, op := range ops {
		if op.Kind != align.Substitution || seen[op.Ref] {
			continue
		}
		refCode, refAlt := matchr.DoubleMetaphone(op.Ref)
		hypCode, hypAlt := matchr.DoubleMetaphone(op.Hyp)
		if refCode == "" {
			continue
		}
		if refCode == hypCode || refCode == hypAlt || refAlt == hypCode {
			seen[op.Ref] = true
			examples = append(examples, op.Ref)
			if len(examples) == maxFeedbackItems {
				break
			}
		}
	}
	return examples
}
