package model

import (
	"fmt"
	"math"
	"time"

	"github.com/scdetect/scdetect-go/internal/seismic/filter"
)

// BuildConfig parameterizes construction of a TemplateWaveform from a raw
// waveform snippet (spec §5, "Supplemented features"). The step order
// mirrors WaveformHandlerIface::Process in the original scdetect
// implementation: demean, then resample, then filter (hard failure on
// error), then trim (hard failure if not enough data at either edge).
type BuildConfig struct {
	// Demean subtracts the snippet's cumulative-moving-average mean before
	// any other processing, removing DC offset.
	Demean bool

	// TargetSamplingFrequency resamples the snippet to this rate before
	// filtering. Zero, or equal to the snippet's own rate, disables
	// resampling.
	TargetSamplingFrequency float64

	// FilterString, when non-empty, is parsed by FilterFactory and applied
	// in place after resampling. A non-empty string with a nil
	// FilterFactory is a configuration error.
	FilterString  string
	FilterFactory filter.Factory

	// Trim, when non-nil, cuts the snippet down to exactly this window
	// after filtering. Both edges must already be covered by the
	// (possibly resampled) snippet or Build fails.
	Trim *TimeWindow
}

// Build applies demean, resample, filter and trim (each step conditional on
// BuildConfig, each failing the whole operation rather than leaving a
// partially-processed result) to raw, producing the TemplateWaveform a
// detector actually matches against. raw.Samples is never mutated; Build
// always works on a copy.
func Build(raw TemplateWaveform, cfg BuildConfig) (TemplateWaveform, error) {
	out := raw
	samples := append([]float64(nil), raw.Samples...)

	if cfg.Demean {
		demean(samples)
	}

	if cfg.TargetSamplingFrequency > 0 && cfg.TargetSamplingFrequency != out.SamplingFrequency {
		if out.SamplingFrequency <= 0 {
			return TemplateWaveform{}, NewConfigurationError("target_sampling_frequency",
				"cannot resample a waveform with an unknown sampling frequency")
		}
		samples = resample(samples, out.SamplingFrequency, cfg.TargetSamplingFrequency)
		out.SamplingFrequency = cfg.TargetSamplingFrequency
	}

	if cfg.FilterString != "" {
		if cfg.FilterFactory == nil {
			return TemplateWaveform{}, NewConfigurationError("filter_string",
				"non-empty filter string requires a FilterFactory")
		}
		f, err := cfg.FilterFactory.Create(cfg.FilterString)
		if err != nil {
			return TemplateWaveform{}, fmt.Errorf("template %s: filtering failed with filter %q: %w",
				raw.ID, cfg.FilterString, err)
		}
		f.SetSamplingFrequency(out.SamplingFrequency)
		f.Apply(samples)
	}

	out.Samples = samples

	if cfg.Trim != nil {
		trimmed, start, err := trim(out.Samples, out.StartTime, out.SamplingFrequency, *cfg.Trim)
		if err != nil {
			return TemplateWaveform{}, fmt.Errorf("template %s: %w", raw.ID, err)
		}
		out.Samples = trimmed
		out.StartTime = start
	}

	return out, nil
}

// demean subtracts the cumulative moving average of samples from itself in
// place, removing a DC offset the same way the reference Demean(DoubleArray)
// does with its CMA helper.
func demean(samples []float64) {
	if len(samples) == 0 {
		return
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))
	for i := range samples {
		samples[i] -= mean
	}
}

// resample linearly interpolates samples from sourceFreq to targetFreq,
// the same ramp technique used for gap interpolation in package stream —
// adequate for a demonstration engine; a production resampler would apply
// an anti-alias filter first when downsampling.
func resample(samples []float64, sourceFreq, targetFreq float64) []float64 {
	if len(samples) == 0 || sourceFreq <= 0 || targetFreq <= 0 {
		return samples
	}
	duration := float64(len(samples)-1) / sourceFreq
	n := int(duration*targetFreq+0.5) + 1
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	for i := range out {
		srcPos := float64(i) / targetFreq * sourceFreq
		lo := int(srcPos)
		if lo >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := srcPos - float64(lo)
		out[i] = samples[lo] + frac*(samples[lo+1]-samples[lo])
	}
	return out
}

// trim slices samples down to exactly the window tw, failing if the
// snippet does not already cover both edges (spec §5; ported from the
// reference Trim(GenericRecord&, TimeWindow&)).
func trim(samples []float64, start time.Time, fs float64, tw TimeWindow) ([]float64, time.Time, error) {
	offset := int(math.Round(tw.Start.Sub(start).Seconds() * fs))
	count := int(math.Round(tw.Duration().Seconds() * fs))

	if offset < 0 {
		return nil, time.Time{}, fmt.Errorf("need %d more samples in the past", -offset)
	}
	if offset+count > len(samples) {
		return nil, time.Time{}, fmt.Errorf("need %d more samples past the end",
			offset+count-len(samples))
	}

	trimmed := append([]float64(nil), samples[offset:offset+count]...)
	newStart := start.Add(time.Duration(float64(offset) / fs * float64(time.Second)))
	return trimmed, newStart, nil
}
