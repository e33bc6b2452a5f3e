// Package audionorm decodes uploaded audio into the canonical format the
// scoring pipeline operates on: mono, PCM16, fixed sample rate (16 kHz by
// default — the rate is a parameter, since TTS reference clips and other
// contexts may use different rates).
//
// Containers other than WAV are first remuxed to PCM16 WAV via the ffmpeg
// binary; WAV input is decoded in-process. Downmix and resampling always run
// in-process:
//
//   - Multi-channel audio is averaged sample-by-sample to mono. This is a
//     simple, lossy-but-acceptable mixdown for speech; phase cancellation on
//     adversarial stereo material is a known limitation.
//   - Sample-rate conversion uses linear interpolation between neighbouring
//     samples, not a band-limited resampler. Fine for speech-bandwidth
//     signals; extreme ratios introduce minor artifacts.
//
// Clips shorter than a minimum duration are rejected: too little speech to
// score meaningfully.
package audionorm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-audio/wav"
)

const (
	// DefaultTargetRate is the sample rate expected by STT backends.
	DefaultTargetRate = 16000

	// DefaultMinDuration is the minimum clip length in seconds. Anything
	// shorter is rejected with [ErrTooShort].
	DefaultMinDuration = 5.0

	bitsPerSample = 16
)

// ErrDecode is wrapped when the input bytes cannot be parsed as audio
// (corrupt upload, unsupported codec). Not retryable: the same bytes will not
// decode differently.
var ErrDecode = errors.New("audionorm: cannot decode audio")

// ErrTooShort is wrapped when the decoded clip is shorter than the configured
// minimum duration. The learner must re-record.
var ErrTooShort = errors.New("audionorm: audio too short")

// QC holds quality-control metadata about the decoded upload. It is surfaced
// to API callers verbatim for diagnostics.
type QC struct {
	// DurationSeconds is the clip length after normalization.
	DurationSeconds float64 `json:"duration"`

	// SampleRate is the normalized sample rate in Hz.
	SampleRate int `json:"sample_rate"`

	// SourceSampleRate is the sample rate of the upload before resampling.
	SourceSampleRate int `json:"source_sample_rate"`

	// SourceChannels is the channel count of the upload before downmix.
	SourceChannels int `json:"source_channels"`

	// Codec names the source encoding ("pcm_s16le" for direct WAV uploads,
	// "ffmpeg" when the upload was remuxed from another container).
	Codec string `json:"codec"`
}

// Asset is a normalized recording: mono PCM16 samples at the target rate.
// It is a request-scoped value object — the pipeline creates one per
// assessment and discards it when the request ends.
type Asset struct {
	// Samples holds mono PCM16 sample values in [-32768, 32767].
	Samples []int

	// SampleRate is the sample rate of Samples in Hz.
	SampleRate int

	// QC describes the source recording.
	QC QC
}

// Duration returns the clip length in seconds.
func (a *Asset) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Option is a functional option for configuring a [Normalizer].
type Option func(*Normalizer)

// WithTargetRate sets the output sample rate in Hz. Default: 16000.
func WithTargetRate(rate int) Option {
	return func(n *Normalizer) {
		n.targetRate = rate
	}
}

// WithMinDuration sets the minimum accepted clip length in seconds.
// Default: 5.
func WithMinDuration(seconds float64) Option {
	return func(n *Normalizer) {
		n.minDuration = seconds
	}
}

// WithFFmpegPath overrides the ffmpeg binary path. Default: "ffmpeg"
// (resolved via PATH).
func WithFFmpegPath(path string) Option {
	return func(n *Normalizer) {
		n.ffmpegPath = path
	}
}

// Normalizer converts arbitrary uploaded audio into [Asset] values. It is
// safe for concurrent use — all state is fixed at construction.
type Normalizer struct {
	targetRate  int
	minDuration float64
	ffmpegPath  string
}

// New returns a [Normalizer] configured with the supplied options.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		targetRate:  DefaultTargetRate,
		minDuration: DefaultMinDuration,
		ffmpegPath:  "ffmpeg",
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize decodes raw into a mono PCM16 [Asset] at the target sample rate.
// WAV uploads decode in-process; other containers go through ffmpeg first.
// Temp files created for ffmpeg are removed on all paths.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (*Asset, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	samples, rate, channels, codec, err := decodeWAV(raw)
	if err != nil {
		samples, rate, channels, err = n.decodeViaFFmpeg(ctx, raw)
		if err != nil {
			return nil, err
		}
		codec = "ffmpeg"
	}

	qc := QC{
		SourceSampleRate: rate,
		SourceChannels:   channels,
		Codec:            codec,
	}

	if channels > 1 {
		samples = downmixMono(samples, channels)
	}
	if rate != n.targetRate {
		samples = resampleLinear(samples, rate, n.targetRate)
	}

	asset := &Asset{
		Samples:    samples,
		SampleRate: n.targetRate,
	}
	qc.SampleRate = n.targetRate
	qc.DurationSeconds = asset.Duration()
	asset.QC = qc

	if asset.Duration() < n.minDuration {
		return nil, fmt.Errorf("%w: %.2fs < minimum %.2fs", ErrTooShort, asset.Duration(), n.minDuration)
	}
	return asset, nil
}

// decodeViaFFmpeg remuxes raw to PCM16 WAV using the ffmpeg binary, then
// decodes the result in-process. The source sample rate and channel layout
// are preserved; downmix and resampling stay in Go where they are testable.
func (n *Normalizer) decodeViaFFmpeg(ctx context.Context, raw []byte) (samples []int, rate, channels int, err error) {
	dir, err := os.MkdirTemp("", "saylens-norm")
	if err != nil {
		return nil, 0, 0, fmt.Errorf("audionorm: create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input")
	out := filepath.Join(dir, "decoded.wav")
	if err := os.WriteFile(in, raw, 0o600); err != nil {
		return nil, 0, 0, fmt.Errorf("audionorm: write temp input: %w", err)
	}

	cmd := exec.CommandContext(ctx, n.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", in,
		"-acodec", "pcm_s16le",
		"-f", "wav",
		out,
	)
	if msg, err := cmd.CombinedOutput(); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: ffmpeg: %s", ErrDecode, firstLine(msg))
	}

	decoded, err := os.ReadFile(out)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("audionorm: read ffmpeg output: %w", err)
	}

	samples, rate, channels, _, err = decodeWAV(decoded)
	if err != nil {
		return nil, 0, 0, err
	}
	return samples, rate, channels, nil
}

// decodeWAV parses a RIFF/WAV container into interleaved PCM16 samples.
func decodeWAV(raw []byte) (samples []int, rate, channels int, codec string, err error) {
	dec := wav.NewDecoder(bytes.NewReader(raw))
	if !dec.IsValidFile() {
		return nil, 0, 0, "", fmt.Errorf("%w: not a valid WAV file", ErrDecode)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 || buf.Format.SampleRate == 0 {
		return nil, 0, 0, "", fmt.Errorf("%w: missing format chunk", ErrDecode)
	}

	samples = buf.Data
	// Scale non-16-bit PCM into the 16-bit range so downstream energy math
	// has one reference scale.
	switch {
	case dec.BitDepth == 8:
		for i, s := range samples {
			samples[i] = (s - 128) << 8
		}
	case dec.BitDepth == 24:
		for i, s := range samples {
			samples[i] = s >> 8
		}
	case dec.BitDepth == 32:
		for i, s := range samples {
			samples[i] = s >> 16
		}
	}

	return samples, buf.Format.SampleRate, buf.Format.NumChannels, "pcm_s16le", nil
}

// downmixMono averages interleaved multi-channel samples into mono.
func downmixMono(samples []int, channels int) []int {
	frames := len(samples) / channels
	out := make([]int, frames)
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += samples[f*channels+c]
		}
		out[f] = sum / channels
	}
	return out
}

// resampleLinear converts mono samples from srcRate to dstRate using linear
// interpolation between neighbouring samples.
func resampleLinear(samples []int, srcRate, dstRate int) []int {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		return nil
	}

	out := make([]int, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int(a + (b-a)*frac)
	}
	return out
}

// EncodeWAV wraps mono PCM16 samples in a standard RIFF/WAV container,
// suitable for upload to an STT backend.
func EncodeWAV(samples []int, sampleRate int) []byte {
	const channels = 1
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(samples) * 2

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(int16(clampSample(s))))
	}
	return buf
}

func clampSample(s int) int {
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return s
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}
