// Package script generates spoken-practice scripts for learners to read
// aloud, using an [llm.Provider] held to a plain-text output contract.
package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/saylens/saylens/internal/upstream"
	llm "github.com/saylens/saylens/pkg/provider/llm"
)

const (
	defaultTemperature = 0.7

	minSentences     = 1
	maxSentences     = 20
	defaultSentences = 5
)

const systemPrompt = `You are an expert ESL speaking coach. Generate a clean, plain-English practice script for learners to read aloud. Output plain text only, with line breaks between sentences, no numbering or extra commentary.`

// lengthGuides describe the target sentence length per requested size.
var lengthGuides = map[string]string{
	"short":  "concise sentences (8-14 words)",
	"medium": "moderate sentences (12-20 words)",
	"long":   "richer sentences (18-28 words)",
}

// Request describes the script to generate. Zero values fall back to the
// documented defaults.
type Request struct {
	// Category is the script theme, e.g. "Travel". Default: "General".
	Category string

	// TopicHint steers the content within the category.
	TopicHint string

	// Sentences is the requested sentence count, clamped to 1..20. Default: 5.
	Sentences int

	// Length is "short", "medium", or "long". Unknown values mean "short".
	Length string

	// Level is the learner's CEFR band. Default: "A2-B1".
	Level string
}

// Option is a functional option for configuring a [Generator].
type Option func(*Generator)

// WithTemperature sets the LLM sampling temperature. Script generation wants
// variety, so the default is high. Default: 0.7.
func WithTemperature(temp float64) Option {
	return func(g *Generator) {
		g.temperature = temp
	}
}

// Generator produces practice scripts. Safe for concurrent use.
type Generator struct {
	llm         llm.Provider
	guard       *upstream.Guard
	temperature float64
}

// New returns a [Generator]. guard bounds concurrency and applies the
// timeout/retry policy to the completion call; it must not be nil.
func New(provider llm.Provider, guard *upstream.Guard, opts ...Option) *Generator {
	g := &Generator{
		llm:         provider,
		guard:       guard,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate returns the practice script as plain text, one sentence per line.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	var resp *llm.CompletionResponse
	err := g.guard.Do(ctx, upstream.Transient(llm.ErrUnavailable), func(ctx context.Context) error {
		var callErr error
		resp, callErr = g.llm.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Temperature:  g.temperature,
			Messages: []llm.Message{
				{Role: "user", Content: buildPrompt(req)},
			},
		})
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("script: complete: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("script: %w: empty response", llm.ErrUnavailable)
	}
	return text, nil
}

func buildPrompt(req Request) string {
	category := req.Category
	if category == "" {
		category = "General"
	}
	topicHint := req.TopicHint
	if topicHint == "" {
		topicHint = "Introduce yourself and your goals."
	}
	level := req.Level
	if level == "" {
		level = "A2-B1"
	}
	n := clampSentences(req.Sentences)
	lengthHint, ok := lengthGuides[req.Length]
	if !ok {
		lengthHint = lengthGuides["short"]
	}

	return fmt.Sprintf(`Create an English speaking script for category: %s.
Topic hint: %s.
Target level: %s.
Constraints:
- Exactly %d sentences.
- Use %s.
- Everyday vocabulary and natural flow.
- Avoid special characters or markdown.

Return only the %d sentences on separate lines.`, category, topicHint, level, n, lengthHint, n)
}

func clampSentences(n int) int {
	if n == 0 {
		return defaultSentences
	}
	return min(max(n, minSentences), maxSentences)
}
