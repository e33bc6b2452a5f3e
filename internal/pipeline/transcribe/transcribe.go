// Package transcribe is the glue between the scoring pipeline and the STT
// capability: it submits the normalized WAV recording for recognition and
// reconstructs approximate per-word timestamps.
//
// The STT contract returns plain text with no word alignment, so timestamps
// are approximated by distributing words evenly across the detected speech
// segments: total speech duration divided by word count gives an average
// per-word duration, and a cursor walks the segments in order, jumping to the
// next segment's start whenever it would overrun the current one. This is NOT
// acoustic alignment — it is a linear interpolation good enough for pause and
// rate statistics, and documented as such.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/saylens/saylens/internal/pipeline/vad"
	"github.com/saylens/saylens/internal/upstream"
	"github.com/saylens/saylens/pkg/provider/stt"
)

// DefaultAssumedConfidence is attached to every approximated word, since the
// STT contract does not report per-word confidence.
const DefaultAssumedConfidence = 0.7

// Word is one transcript token with approximate timing.
type Word struct {
	// Text is the token as it appears in the transcript.
	Text string `json:"word"`

	// Start and End are approximate clip-relative times in seconds,
	// interpolated across speech segments — not acoustic ground truth.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Confidence is the assumed ASR confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// Request carries one recognition call.
type Request struct {
	// WAV is the normalized recording, WAV-encoded.
	WAV []byte

	// Language is the BCP-47 recognition hint.
	Language string

	// Segments are the speech segments detected by VAD, used for timestamp
	// approximation.
	Segments []vad.Segment

	// ClipDuration is the full clip length in seconds, used when no speech
	// segments were detected.
	ClipDuration float64
}

// Result is the transcript plus approximated word timings.
type Result struct {
	Text  string
	Words []Word
}

// Option is a functional option for configuring a [Transcriber].
type Option func(*Transcriber)

// WithAssumedConfidence overrides the confidence attached to approximated
// words. Default: 0.7.
func WithAssumedConfidence(c float64) Option {
	return func(t *Transcriber) {
		t.assumedConfidence = c
	}
}

// Transcriber invokes an [stt.Provider] through an [upstream.Guard] and
// post-processes the transcript. Safe for concurrent use.
type Transcriber struct {
	provider          stt.Provider
	guard             *upstream.Guard
	assumedConfidence float64
}

// New returns a [Transcriber]. guard bounds concurrency and applies the
// timeout/retry policy to the external call; it must not be nil.
func New(provider stt.Provider, guard *upstream.Guard, opts ...Option) *Transcriber {
	t := &Transcriber{
		provider:          provider,
		guard:             guard,
		assumedConfidence: DefaultAssumedConfidence,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Transcribe submits the recording for recognition. Transient backend
// failures are retried by the guard; the final error still satisfies
// errors.Is(err, stt.ErrUnavailable) when the service was the problem, which
// callers surface as a retryable-by-user condition.
func (t *Transcriber) Transcribe(ctx context.Context, req Request) (*Result, error) {
	var transcript *stt.Transcript
	err := t.guard.Do(ctx, upstream.Transient(stt.ErrUnavailable), func(ctx context.Context) error {
		var callErr error
		transcript, callErr = t.provider.Transcribe(ctx, stt.Request{
			Audio:    bytes.NewReader(req.WAV),
			Filename: "speech.wav",
			Language: req.Language,
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	text := strings.TrimSpace(transcript.Text)
	return &Result{
		Text:  text,
		Words: t.approximateTimestamps(text, req.Segments, req.ClipDuration),
	}, nil
}

// approximateTimestamps distributes the transcript's words across the speech
// segments, advancing a cursor by the average word duration and jumping to
// the next segment's start whenever the cursor would exceed the current
// segment's end.
func (t *Transcriber) approximateTimestamps(text string, segments []vad.Segment, clipDuration float64) []Word {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}

	speechDur := vad.TotalSpeech(segments)
	if speechDur == 0 {
		speechDur = clipDuration
	}
	if speechDur == 0 {
		speechDur = 1
	}
	avgWordDur := speechDur / float64(len(tokens))

	words := make([]Word, 0, len(tokens))
	cursor := 0.0
	if len(segments) > 0 {
		cursor = segments[0].Start
	}
	segIdx := 0
	for _, tok := range tokens {
		if len(segments) > 0 {
			seg := segments[min(segIdx, len(segments)-1)]
			if cursor+avgWordDur > seg.End && segIdx < len(segments)-1 {
				segIdx++
				if next := segments[segIdx].Start; next > cursor {
					cursor = next
				}
			}
		}
		words = append(words, Word{
			Text:       tok,
			Start:      cursor,
			End:        cursor + avgWordDur,
			Confidence: t.assumedConfidence,
		})
		cursor += avgWordDur
	}
	return words
}
