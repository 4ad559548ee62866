// Package stream implements the per-(template,stream) preprocessing
// pipeline described in spec §4.1: stream initialisation, sampling-frequency
// change detection, gap handling (contiguous / interpolated / reset),
// in-place filtering, and a bounded ring buffer feeding the cross-correlator.
//
// The gap-handling policy mirrors the frame-completeness bookkeeping in the
// teacher's FrameBuilder (sequence-gap detection, backfill-by-interpolation,
// reset-on-desync) adapted from packet sequence numbers to sample-clock
// gaps.
package stream

import (
	"time"

	"github.com/scdetect/scdetect-go/internal/monitoring"
	"github.com/scdetect/scdetect-go/internal/seismic/filter"
	"github.com/scdetect/scdetect-go/internal/seismic/model"
)

// contiguityEpsilonSamples is the fraction of a sample period below which a
// gap is treated as contiguous numeric noise (spec §4.1 step 3).
const contiguityEpsilonSamples = 0.5

// Config configures a Buffer's gap-handling and filtering behaviour. It is
// the stream-facing subset of config.DetectorConfig.
type Config struct {
	GapTolerance     time.Duration
	GapInterpolation bool
	FilterString     string
	FilterFactory    filter.Factory
	// Capacity is the ring buffer size in samples; must be at least
	// templateLength + maximumLag + margin (spec §4.1 step 5).
	Capacity int
}

// State is the per-stream bookkeeping carried between records — sampling
// frequency, filter state, initialization flag, received-sample count.
// Reset on terminal gaps or a sampling-frequency change (spec §3).
type State struct {
	Initialized       bool
	SamplingFrequency float64
	LastEndTime       time.Time
	ReceivedSamples   int64
	filterState       filter.InPlace
}

// Buffer owns one stream's State, its streaming filter, and a bounded ring
// buffer of processed samples. One Buffer exists per (template, stream)
// template processor.
type Buffer struct {
	cfg   Config
	state State

	samples    []float64
	startTime  time.Time
	streamID   model.WaveformStreamID
	bufferFull bool
}

// NewBuffer creates an empty, uninitialised stream buffer.
func NewBuffer(streamID model.WaveformStreamID, cfg Config) *Buffer {
	return &Buffer{cfg: cfg, streamID: streamID}
}

// Reset clears the buffer and stream state back to their initial,
// uninitialised condition.
func (b *Buffer) Reset() {
	b.state = State{}
	b.samples = nil
	b.bufferFull = false
}

// Len returns the number of samples currently buffered.
func (b *Buffer) Len() int { return len(b.samples) }

// StartTime returns the timestamp of the buffer's first sample.
func (b *Buffer) StartTime() time.Time { return b.startTime }

// SamplingFrequency returns the stream's current sampling frequency, or 0
// if uninitialised.
func (b *Buffer) SamplingFrequency() float64 { return b.state.SamplingFrequency }

// Samples returns the buffered samples. The returned slice is owned by the
// Buffer and must not be retained past the next Feed call.
func (b *Buffer) Samples() []float64 { return b.samples }

// Feed processes one record through initialisation, gap handling, filtering
// and buffering (spec §4.1 steps 1-5). It returns true if the stream was
// reset (degraded or gap-exceeded) as part of processing this record, which
// callers use to reset any reporting watermark tied to buffer contents.
func (b *Buffer) Feed(rec model.Record) (reset bool) {
	if !b.state.Initialized {
		b.initStream(rec)
	} else if rec.SamplingFrequency != b.state.SamplingFrequency {
		monitoring.Logf("stream %s: sampling frequency changed %f -> %f, resetting",
			b.streamID, b.state.SamplingFrequency, rec.SamplingFrequency)
		b.Reset()
		b.initStream(rec)
		reset = true
	} else {
		gap := rec.StartTime.Sub(b.state.LastEndTime)
		reset = b.handleGap(rec, gap)
	}

	samples := append([]float64(nil), rec.Samples...)
	b.applyFilter(samples)
	b.append(samples)

	b.state.LastEndTime = rec.EndTime()
	b.state.ReceivedSamples += int64(len(rec.Samples))

	return reset
}

func (b *Buffer) initStream(rec model.Record) {
	b.state.Initialized = true
	b.state.SamplingFrequency = rec.SamplingFrequency
	b.state.ReceivedSamples = 0
	if b.cfg.FilterString != "" && b.cfg.FilterFactory != nil {
		f, err := b.cfg.FilterFactory.Create(b.cfg.FilterString)
		if err != nil {
			monitoring.Logf("stream %s: filter creation failed: %v", b.streamID, err)
			b.state.filterState = nil
		} else {
			f.SetSamplingFrequency(rec.SamplingFrequency)
			b.state.filterState = f
		}
	}
	b.startTime = rec.StartTime
}

// handleGap implements spec §4.1 step 3's three policies. It returns true
// if the stream state was reset due to an intolerable gap.
func (b *Buffer) handleGap(rec model.Record, gap time.Duration) bool {
	fs := b.state.SamplingFrequency
	if fs <= 0 {
		return false
	}
	samplePeriod := time.Duration(float64(time.Second) / fs)

	if gap < time.Duration(contiguityEpsilonSamples*float64(samplePeriod)) && gap > -time.Duration(float64(samplePeriod)) {
		// Contiguous; numeric noise.
		return false
	}

	if gap < 0 {
		monitoring.Logf("stream %s: out-of-order record (gap=%v), resetting", b.streamID, gap)
		b.Reset()
		b.initStream(rec)
		return true
	}

	if gap <= b.cfg.GapTolerance && b.cfg.GapInterpolation {
		b.interpolateGap(gap, fs, rec)
		return false
	}

	monitoring.Logf("stream %s: gap %v exceeds tolerance %v (or interpolation disabled), resetting",
		b.streamID, gap, b.cfg.GapTolerance)
	b.Reset()
	b.initStream(rec)
	return true
}

// interpolateGap synthesizes round(gap*fs) samples by linear interpolation
// between the previous last sample and the incoming record's first sample
// (spec §4.1 step 3, "linear interpolation between the previous last sample
// and the new first sample").
func (b *Buffer) interpolateGap(gap time.Duration, fs float64, rec model.Record) {
	n := int(gap.Seconds()*fs + 0.5)
	if n <= 0 || len(b.samples) == 0 || len(rec.Samples) == 0 {
		return
	}
	last := b.samples[len(b.samples)-1]
	next := rec.Samples[0]
	synthesized := make([]float64, n)
	for i := range synthesized {
		// step i (1-indexed) lands at fraction i/(n+1) of the way from last
		// toward next, so the run ramps strictly between the two endpoints
		// without duplicating either.
		frac := float64(i+1) / float64(n+1)
		synthesized[i] = last + frac*(next-last)
	}
	b.applyFilter(synthesized)
	b.append(synthesized)
}

func (b *Buffer) applyFilter(samples []float64) {
	if b.state.filterState != nil {
		b.state.filterState.Apply(samples)
	}
}

func (b *Buffer) append(samples []float64) {
	b.samples = append(b.samples, samples...)
	if b.cfg.Capacity > 0 && len(b.samples) > b.cfg.Capacity {
		evict := len(b.samples) - b.cfg.Capacity
		b.samples = b.samples[evict:]
		b.startTime = b.startTime.Add(time.Duration(float64(evict) / b.state.SamplingFrequency * float64(time.Second)))
		b.bufferFull = true
	}
}
