// Package pipeline orchestrates a full pronunciation assessment: audio
// normalization, voice activity detection, transcription, word alignment,
// and scoring. Each stage is traced and timed individually; stage outputs
// flow forward as plain values so stages stay independently testable.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/saylens/saylens/internal/observe"
	"github.com/saylens/saylens/internal/pipeline/align"
	"github.com/saylens/saylens/internal/pipeline/audionorm"
	"github.com/saylens/saylens/internal/pipeline/score"
	"github.com/saylens/saylens/internal/pipeline/transcribe"
	"github.com/saylens/saylens/internal/pipeline/vad"
)

// ErrInput indicates the request itself was invalid: missing audio, unknown
// mode, or a read-aloud assessment without a reference text. Maps to a client
// error at the API boundary.
var ErrInput = errors.New("pipeline: invalid input")

// Request is one assessment job.
type Request struct {
	// Audio is the raw uploaded recording in any ffmpeg-decodable container.
	Audio []byte

	// Filename is the upload's original name, used only for diagnostics.
	Filename string

	// Mode selects read-aloud or free-speech grading.
	Mode score.Mode

	// Language is the BCP-47 recognition hint, e.g. "en-US".
	Language string

	// ReferenceText is the script the speaker read. Required in read-aloud
	// mode, ignored in free mode.
	ReferenceText string

	// Level is the client's CEFR expectation, optional.
	Level string
}

// Result is the full assessment payload returned to clients.
type Result struct {
	Mode       score.Mode        `json:"mode"`
	QC         audionorm.QC      `json:"qc"`
	Transcript string            `json:"transcript"`
	Words      []transcribe.Word `json:"words"`
	Segments   []vad.Segment     `json:"segments"`
	Alignment  align.Result      `json:"alignment"`
	Scores     score.Scores      `json:"scores"`
	Feedback   score.Feedback    `json:"feedback"`
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithMetrics overrides the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline wires the five stages together. Safe for concurrent use; per-call
// state lives entirely on the stack.
type Pipeline struct {
	normalizer  *audionorm.Normalizer
	detector    *vad.Detector
	transcriber *transcribe.Transcriber
	rater       score.Rater
	metrics     *observe.Metrics
}

// New returns a [Pipeline] over the given stages. All four stage values must
// be non-nil.
func New(
	normalizer *audionorm.Normalizer,
	detector *vad.Detector,
	transcriber *transcribe.Transcriber,
	rater score.Rater,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		normalizer:  normalizer,
		detector:    detector,
		transcriber: transcriber,
		rater:       rater,
		metrics:     observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Assess runs the full pipeline on one recording.
//
// Error classification for callers: [ErrInput] and the audionorm sentinels
// mean the request or its audio was bad; [stt.ErrUnavailable] and
// [score.ErrScoringUnavailable] mean an upstream dependency failed and the
// same request may succeed later.
func (p *Pipeline) Assess(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	start := time.Now()
	p.metrics.ActiveAssessments.Add(ctx, 1)
	defer func() {
		p.metrics.ActiveAssessments.Add(ctx, -1)
		p.metrics.AssessDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("mode", string(req.Mode))),
		)
	}()

	ctx, span := observe.StartSpan(ctx, "pipeline.Assess")
	defer span.End()

	asset, err := p.runNormalize(ctx, req.Audio)
	if err != nil {
		return nil, err
	}

	segments := p.runVAD(ctx, asset)

	tr, err := p.runTranscribe(ctx, req, asset, segments)
	if err != nil {
		return nil, err
	}

	alignment := p.runAlign(ctx, req, tr.Text)

	report, err := p.runScore(ctx, req, asset, segments, tr, alignment)
	if err != nil {
		return nil, err
	}

	return &Result{
		Mode:       req.Mode,
		QC:         asset.QC,
		Transcript: tr.Text,
		Words:      tr.Words,
		Segments:   segments,
		Alignment:  alignment,
		Scores:     report.Scores,
		Feedback:   report.Feedback,
	}, nil
}

func validate(req Request) error {
	if len(req.Audio) == 0 {
		return fmt.Errorf("%w: empty audio", ErrInput)
	}
	switch req.Mode {
	case score.ModeReadAloud:
		if req.ReferenceText == "" {
			return fmt.Errorf("%w: read-aloud mode requires a reference text", ErrInput)
		}
	case score.ModeFree:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInput, req.Mode)
	}
	return nil
}

func (p *Pipeline) runNormalize(ctx context.Context, raw []byte) (*audionorm.Asset, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.normalize")
	defer span.End()
	defer p.stageTimer(ctx, "normalize")()

	asset, err := p.normalizer.Normalize(ctx, raw)
	if err != nil {
		err = fmt.Errorf("pipeline: normalize: %w", err)
		observe.SpanError(span, err)
		return nil, err
	}
	observe.Logger(ctx).Debug("audio normalized",
		"duration", asset.QC.DurationSeconds,
		"source_rate", asset.QC.SourceSampleRate,
		"source_channels", asset.QC.SourceChannels,
	)
	return asset, nil
}

func (p *Pipeline) runVAD(ctx context.Context, asset *audionorm.Asset) []vad.Segment {
	ctx, span := observe.StartSpan(ctx, "pipeline.vad")
	defer span.End()
	defer p.stageTimer(ctx, "vad")()

	segments := p.detector.Segments(asset.Samples, asset.SampleRate)
	observe.Logger(ctx).Debug("speech segments detected",
		"segments", len(segments),
		"speech_seconds", vad.TotalSpeech(segments),
	)
	return segments
}

func (p *Pipeline) runTranscribe(ctx context.Context, req Request, asset *audionorm.Asset, segments []vad.Segment) (*transcribe.Result, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	defer span.End()
	defer p.stageTimer(ctx, "transcribe")()

	tr, err := p.transcriber.Transcribe(ctx, transcribe.Request{
		WAV:          audionorm.EncodeWAV(asset.Samples, asset.SampleRate),
		Language:     req.Language,
		Segments:     segments,
		ClipDuration: asset.Duration(),
	})
	if err != nil {
		err = fmt.Errorf("pipeline: %w", err)
		observe.SpanError(span, err)
		return nil, err
	}
	return tr, nil
}

func (p *Pipeline) runAlign(ctx context.Context, req Request, transcript string) align.Result {
	ctx, span := observe.StartSpan(ctx, "pipeline.align")
	defer span.End()
	defer p.stageTimer(ctx, "align")()

	ref := req.ReferenceText
	if req.Mode == score.ModeFree {
		ref = ""
	}
	return align.Align(ref, transcript)
}

func (p *Pipeline) runScore(
	ctx context.Context,
	req Request,
	asset *audionorm.Asset,
	segments []vad.Segment,
	tr *transcribe.Result,
	alignment align.Result,
) (*score.Report, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.score")
	defer span.End()
	defer p.stageTimer(ctx, "score")()

	report, err := p.rater.Score(ctx, score.Input{
		Mode:          req.Mode,
		Language:      req.Language,
		ReferenceText: req.ReferenceText,
		Transcript:    tr.Text,
		Level:         req.Level,
		Duration:      asset.Duration(),
		Segments:      segments,
		Words:         tr.Words,
		Alignment:     &alignment,
		QC:            asset.QC,
	})
	if err != nil {
		err = fmt.Errorf("pipeline: score: %w", err)
		observe.SpanError(span, err)
		return nil, err
	}
	return report, nil
}

// stageTimer records the stage duration metric when the returned func runs.
func (p *Pipeline) stageTimer(ctx context.Context, stage string) func() {
	start := time.Now()
	return func() {
		p.metrics.RecordStage(ctx, stage, time.Since(start))
	}
}
