// Package vad derives speech segments from a normalized recording by
// detecting silence and taking the complement.
//
// The detector is deliberately simple: frame-level RMS energy in dBFS against
// a noise-floor threshold. Runs of quiet frames at least as long as the
// minimum silence duration become silence intervals; the gaps between them
// (clipped to the clip bounds) are the speech segments. Segments shorter than
// a minimum length are dropped as noise blips.
//
// Two guarantees the scorer depends on: segments never overlap, and every
// segment satisfies 0 ≤ start < end ≤ clip duration. An all-silence clip
// yields an empty segment list; a clip with no detected silence yields one
// whole-clip segment.
package vad

import "math"

const (
	// DefaultNoiseFloorDB is the energy threshold below which a frame counts
	// as silent, in dBFS (0 dBFS = full-scale PCM16).
	DefaultNoiseFloorDB = -35.0

	// DefaultMinSilence is the minimum quiet run, in seconds, that counts as
	// a silence interval rather than a natural inter-word gap.
	DefaultMinSilence = 0.2

	// DefaultMinSegment is the minimum speech segment length in seconds.
	// Shorter blips are treated as noise, not speech.
	DefaultMinSegment = 0.8

	// frameDuration is the analysis frame length in seconds.
	frameDuration = 0.02
)

// Segment is a half-open speech interval on the clip timeline, in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// TotalSpeech sums the durations of all segments.
func TotalSpeech(segments []Segment) float64 {
	total := 0.0
	for _, s := range segments {
		total += s.Duration()
	}
	return total
}

// Option is a functional option for configuring a [Detector].
type Option func(*Detector)

// WithNoiseFloor sets the silence threshold in dBFS. Default: −35.
func WithNoiseFloor(db float64) Option {
	return func(d *Detector) {
		d.noiseFloorDB = db
	}
}

// WithMinSilence sets the minimum silence duration in seconds. Default: 0.2.
func WithMinSilence(seconds float64) Option {
	return func(d *Detector) {
		d.minSilence = seconds
	}
}

// WithMinSegment sets the minimum speech segment length in seconds.
// Default: 0.8.
func WithMinSegment(seconds float64) Option {
	return func(d *Detector) {
		d.minSegment = seconds
	}
}

// Detector finds speech segments in mono PCM16 audio. It is stateless across
// calls and safe for concurrent use.
type Detector struct {
	noiseFloorDB float64
	minSilence   float64
	minSegment   float64
}

// New returns a [Detector] configured with the supplied options.
func New(opts ...Option) *Detector {
	d := &Detector{
		noiseFloorDB: DefaultNoiseFloorDB,
		minSilence:   DefaultMinSilence,
		minSegment:   DefaultMinSegment,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Segments returns the ordered speech segments of the given mono PCM16 clip.
func (d *Detector) Segments(samples []int, sampleRate int) []Segment {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}

	duration := float64(len(samples)) / float64(sampleRate)
	silences := d.silenceIntervals(samples, sampleRate)

	// Speech is the complement of silence.
	var speech []Segment
	cursor := 0.0
	for _, s := range silences {
		if s.Start > cursor {
			speech = append(speech, Segment{Start: cursor, End: s.Start})
		}
		cursor = s.End
	}
	if cursor < duration {
		speech = append(speech, Segment{Start: cursor, End: duration})
	}

	// Clip to the timeline and drop blips.
	out := speech[:0]
	for _, s := range speech {
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End > duration {
			s.End = duration
		}
		if s.Duration() >= d.minSegment {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// silenceIntervals returns ordered intervals whose frame energy stays below
// the noise floor for at least the minimum silence duration.
func (d *Detector) silenceIntervals(samples []int, sampleRate int) []Segment {
	frameLen := int(frameDuration * float64(sampleRate))
	if frameLen < 1 {
		frameLen = 1
	}

	var intervals []Segment
	runStart := -1.0 // start time of the current quiet run; -1 = none

	flush := func(end float64) {
		if runStart >= 0 && end-runStart >= d.minSilence {
			intervals = append(intervals, Segment{Start: runStart, End: end})
		}
		runStart = -1
	}

	for off := 0; off < len(samples); off += frameLen {
		frameEnd := off + frameLen
		if frameEnd > len(samples) {
			frameEnd = len(samples)
		}
		t := float64(off) / float64(sampleRate)

		if frameDB(samples[off:frameEnd]) < d.noiseFloorDB {
			if runStart < 0 {
				runStart = t
			}
		} else {
			flush(t)
		}
	}
	flush(float64(len(samples)) / float64(sampleRate))

	return intervals
}

// frameDB computes the RMS energy of a frame in dBFS relative to full-scale
// PCM16. An all-zero frame returns −96 dB (the PCM16 noise floor) to avoid
// −Inf propagating into comparisons.
func frameDB(frame []int) float64 {
	if len(frame) == 0 {
		return -96
	}
	sum := 0.0
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms < 1 {
		return -96
	}
	return 20 * math.Log10(rms/32768.0)
}
