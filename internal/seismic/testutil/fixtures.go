// Package testutil provides synthetic waveform fixtures for seismic package
// tests: sine-burst records, templates cut from them, and arrivals at
// matching pick times, so tests can assemble realistic detector scenarios
// without fixture files.
package testutil

import (
	"math"
	"time"

	"github.com/scdetect/scdetect-go/internal/seismic/model"
)

// SineBurst generates n samples of a sine wave at frequency Hz sampled at
// samplingFrequency Hz, offset by phase radians.
func SineBurst(n int, samplingFrequency, frequency, phase float64) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		t := float64(i) / samplingFrequency
		samples[i] = math.Sin(2*math.Pi*frequency*t + phase)
	}
	return samples
}

// NewRecord builds a Record for id starting at start with the given
// sampling frequency and samples.
func NewRecord(id model.WaveformStreamID, start time.Time, samplingFrequency float64, samples []float64) model.Record {
	return model.Record{
		StreamID:          id,
		StartTime:         start,
		SamplingFrequency: samplingFrequency,
		Samples:           append([]float64(nil), samples...),
	}
}

// NewTemplate builds a TemplateWaveform for id from samples, with its
// reference pick offset pickOffset into the window from start.
func NewTemplate(id string, streamID model.WaveformStreamID, start time.Time, samplingFrequency float64, samples []float64, pickOffset time.Duration) model.TemplateWaveform {
	return model.TemplateWaveform{
		ID:                id,
		StreamID:          streamID,
		Samples:           append([]float64(nil), samples...),
		SamplingFrequency: samplingFrequency,
		StartTime:         start,
		ReferencePickTime: start.Add(pickOffset),
	}
}

// NewArrival builds an enabled, unit-weight Arrival for streamID at pickTime.
func NewArrival(streamID model.WaveformStreamID, pickTime time.Time, phase model.Phase) model.Arrival {
	return model.Arrival{
		Pick: model.Pick{
			Time:             pickTime,
			WaveformStreamID: streamID,
			Phase:            phase,
		},
		Weight:  1,
		Enabled: true,
	}
}
