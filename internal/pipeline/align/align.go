// Package align computes a word-level edit alignment between a reference text
// and an ASR transcript, plus a phoneme-level error-rate proxy.
//
// The word alignment is a classic Levenshtein dynamic program with unit costs
// and a fixed backtrack tie-break (deletion before insertion before
// substitution/match) so that repeated runs over the same inputs produce
// identical operation sequences. The tie-break is an implementation policy,
// not a linguistic choice.
//
// The phoneme error rate (PER) comes from a deliberately crude
// grapheme-to-pseudo-phoneme mapping — digraph rules plus a shared vowel
// class — that trades linguistic accuracy for zero dependency on a phonetic
// front-end. It is a proxy for goodness-of-pronunciation, not a measurement
// of it.
package align

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// OpKind labels one alignment operation.
type OpKind int

const (
	// Match means the reference and hypothesis words are identical.
	Match OpKind = iota
	// Substitution means the hypothesis word replaced the reference word.
	Substitution
	// Deletion means the reference word has no hypothesis counterpart.
	Deletion
	// Insertion means the hypothesis word has no reference counterpart.
	Insertion
)

// String returns the single-letter code used in API responses.
func (k OpKind) String() string {
	switch k {
	case Match:
		return "M"
	case Substitution:
		return "S"
	case Deletion:
		return "D"
	case Insertion:
		return "I"
	}
	return "?"
}

// MarshalText implements encoding.TextMarshaler so ops serialize as their
// single-letter codes.
func (k OpKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Op is one step of the alignment. Ref is set for Match, Substitution, and
// Deletion; Hyp is set for Match, Substitution, and Insertion.
type Op struct {
	Kind OpKind `json:"op"`
	Ref  string `json:"ref,omitempty"`
	Hyp  string `json:"hyp,omitempty"`
}

// Stats counts alignment operations by kind.
type Stats struct {
	Match int `json:"M"`
	Sub   int `json:"S"`
	Del   int `json:"D"`
	Ins   int `json:"I"`
}

// Result is the full output of [Align].
//
// Invariants (verified in tests): Match+Sub+Del == len(RefWords),
// Match+Sub+Ins == len(HypWords), and PER == 0 whenever the token sequences
// are equal.
type Result struct {
	// RefWords are the normalized reference tokens. In free-form mode (empty
	// reference) they equal HypWords, so the alignment degenerates to
	// all-matches by construction.
	RefWords []string `json:"refWords"`

	// HypWords are the normalized transcript tokens.
	HypWords []string `json:"hypWords"`

	// Ops is the operation sequence recovered by backtracking. Applying it
	// reconstructs both word sequences exactly.
	Ops []Op `json:"ops"`

	// Stats counts the operations.
	Stats Stats `json:"stats"`

	// PER is the pseudo-phoneme error rate: edit distance between the
	// pseudo-phoneme renderings of reference and hypothesis, divided by the
	// reference symbol count. 0 when the reference is empty. Unbounded above
	// in theory; consumers clamp.
	PER float64 `json:"per"`

	// NormGOPErr is a 0..100 error transform of the PER-derived
	// goodness-of-pronunciation proxy: (1 - max(0, 1-PER)) * 100.
	NormGOPErr float64 `json:"normGOPerr"`
}

// Tokenize lowercases s, strips every rune outside [a-z'], and splits on
// whitespace, dropping empty tokens.
func Tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		var b strings.Builder
		for _, r := range f {
			if (r >= 'a' && r <= 'z') || r == '\'' {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			out = append(out, b.String())
		}
	}
	return out
}

// Align aligns referenceText against transcriptText. When referenceText is
// empty (free-form mode), the transcript is aligned against itself: the
// result carries no accuracy signal, only structure, and PER is 0.
func Align(referenceText, transcriptText string) Result {
	hyp := Tokenize(transcriptText)
	ref := Tokenize(referenceText)
	if len(ref) == 0 {
		ref = hyp
	}

	ops := alignWords(ref, hyp)

	var stats Stats
	for _, op := range ops {
		switch op.Kind {
		case Match:
			stats.Match++
		case Substitution:
			stats.Sub++
		case Deletion:
			stats.Del++
		case Insertion:
			stats.Ins++
		}
	}

	per := phonemeErrorRate(ref, hyp)
	goodness := 1 - per
	if goodness < 0 {
		goodness = 0
	}

	return Result{
		RefWords:   ref,
		HypWords:   hyp,
		Ops:        ops,
		Stats:      stats,
		PER:        per,
		NormGOPErr: (1 - goodness) * 100,
	}
}

// alignWords runs the unit-cost edit-distance DP over ref and hyp and
// backtracks from dp[m][n] to dp[0][0]. Tie-break order when several minimal
// paths exist: deletion, then insertion, then the diagonal. Fixed so output
// is deterministic.
func alignWords(ref, hyp []string) []Op {
	m, n := len(ref), len(hyp)

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
		dp[i][0] = i
	}
	for j := 0; j <= n; j++ {
		dp[0][j] = j
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			best := dp[i-1][j-1] + cost
			if d := dp[i-1][j] + 1; d < best {
				best = d
			}
			if d := dp[i][j-1] + 1; d < best {
				best = d
			}
			dp[i][j] = best
		}
	}

	ops := make([]Op, 0, max(m, n))
	i, j := m, n
	for i > 0 || j > 0 {
		switch {
		case i > 0 && dp[i][j] == dp[i-1][j]+1:
			ops = append(ops, Op{Kind: Deletion, Ref: ref[i-1]})
			i--
		case j > 0 && dp[i][j] == dp[i][j-1]+1:
			ops = append(ops, Op{Kind: Insertion, Hyp: hyp[j-1]})
			j--
		default:
			kind := Substitution
			if ref[i-1] == hyp[j-1] {
				kind = Match
			}
			ops = append(ops, Op{Kind: kind, Ref: ref[i-1], Hyp: hyp[j-1]})
			i--
			j--
		}
	}

	// Backtrack produced the ops in reverse.
	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	return ops
}

// phonemeErrorRate renders both token sequences as pseudo-phoneme symbol
// strings and divides their edit distance by the reference symbol count.
func phonemeErrorRate(ref, hyp []string) float64 {
	refPh := phonemeSymbols(ref)
	hypPh := phonemeSymbols(hyp)
	if len(refPh) == 0 {
		return 0
	}
	dist := matchr.Levenshtein(strings.Join(refPh, " "), strings.Join(hypPh, " "))
	return float64(dist) / float64(len(refPh))
}

func phonemeSymbols(words []string) []string {
	var out []string
	for _, w := range words {
		out = append(out, PseudoPhonemes(w)...)
	}
	return out
}

// digraphs maps two-letter clusters to single pseudo-phoneme symbols. Applied
// left-to-right before per-letter mapping.
var digraphs = map[string]string{
	"ch": "CH",
	"sh": "SH",
	"th": "TH",
	"ph": "F",
	"ng": "NG",
}

// PseudoPhonemes maps a token to coarse pseudo-phoneme symbols: fixed digraph
// rules, all vowels (including y) collapsed to a shared vowel-class symbol,
// remaining letters uppercased. Stable but linguistically naive — a stand-in
// for a real grapheme-to-phoneme front-end.
func PseudoPhonemes(word string) []string {
	w := strings.ToLower(word)
	var out []string
	for i := 0; i < len(w); i++ {
		if i+1 < len(w) {
			if sym, ok := digraphs[w[i:i+2]]; ok {
				out = append(out, sym)
				i++
				continue
			}
		}
		c := w[i]
		switch c {
		case 'a', 'e', 'i', 'o', 'u', 'y':
			out = append(out, "AH")
		default:
			if c >= 'a' && c <= 'z' {
				out = append(out, strings.ToUpper(string(c)))
			}
			// Apostrophes and stray bytes carry no phoneme.
		}
	}
	return out
}
