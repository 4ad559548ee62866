// Package model holds the value types shared across the detection engine:
// waveform stream identifiers, records, template waveforms, arrivals, match
// results and detections. Everything here is a plain value — no shared
// ownership, no back-references — per the detector's no-cycle design.
package model

import "time"

// WaveformStreamID identifies one continuous channel of samples by its
// network, station, location and channel codes. It is used as a map key
// throughout the engine, so it must stay comparable.
type WaveformStreamID struct {
	NetworkCode  string
	StationCode  string
	LocationCode string
	ChannelCode  string
}

// String renders the canonical "NET.STA.LOC.CHA" form.
func (w WaveformStreamID) String() string {
	return w.NetworkCode + "." + w.StationCode + "." + w.LocationCode + "." + w.ChannelCode
}

// Valid reports whether the network and station codes are non-empty, the
// minimum required for a usable identifier.
func (w WaveformStreamID) Valid() bool {
	return w.NetworkCode != "" && w.StationCode != ""
}

// Record is a contiguous (or gapped) slice of samples received for one
// stream. Once received it is treated as immutable by callers.
type Record struct {
	StreamID          WaveformStreamID
	StartTime         time.Time
	SamplingFrequency float64
	Samples           []float64
}

// EndTime returns the time one sample period past the last sample, i.e.
// the exclusive end of the record's time window.
func (r Record) EndTime() time.Time {
	if r.SamplingFrequency <= 0 || len(r.Samples) == 0 {
		return r.StartTime
	}
	return r.StartTime.Add(time.Duration(float64(len(r.Samples)) / r.SamplingFrequency * float64(time.Second)))
}

// Phase is a seismic phase hint (P, S, ...). Empty means unspecified.
type Phase string

// Pick is a timestamp identifying a phase arrival at a station.
type Pick struct {
	Time             time.Time
	WaveformStreamID WaveformStreamID
	Phase            Phase
}

// Arrival is a phase pick at a station associated with an origin, carried
// alongside a template to identify the phase and station it represents.
type Arrival struct {
	Pick    Pick
	Weight  float64
	Enabled bool
}

// TemplateWaveform is the immutable matching kernel built once at detector
// construction time from a catalog origin's template snippet.
type TemplateWaveform struct {
	ID                string
	StreamID          WaveformStreamID
	Samples           []float64
	SamplingFrequency float64
	StartTime         time.Time
	ReferencePickTime time.Time
}

// PickOffset returns the offset of the reference pick from the template's
// nominal start time, used by the linker to recompute pick times from a
// MatchResult's window and lag.
func (t TemplateWaveform) PickOffset() time.Duration {
	return t.ReferencePickTime.Sub(t.StartTime)
}

// Duration returns the template's nominal length in wall-clock time.
func (t TemplateWaveform) Duration() time.Duration {
	if t.SamplingFrequency <= 0 {
		return 0
	}
	return time.Duration(float64(len(t.Samples)) / t.SamplingFrequency * float64(time.Second))
}

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// MatchResult is emitted by a template processor when a new correlation
// peak is found within the current buffer. Immutable once constructed.
type MatchResult struct {
	Window                   TimeWindow
	Lag                      time.Duration
	Coefficient              float64
	NumberOfSamplesEvaluated int
}

// TemplateResult pairs a recomputed arrival with the MatchResult that
// produced it — one per contributing template in a detection.
type TemplateResult struct {
	Arrival     Arrival
	MatchResult MatchResult
}

// Detection is the linker's scored, multi-arrival output, consumed by an
// external publisher. Magnitude is left at its placeholder value — amplitude
// and magnitude estimation live in a separate pipeline outside this engine.
type Detection struct {
	ID         string
	OriginTime time.Time
	Fit        float64

	Latitude  float64
	Longitude float64
	Depth     float64
	Magnitude float64

	NumStationsAssociated int
	NumStationsUsed       int
	NumChannelsAssociated int
	NumChannelsUsed       int

	TemplateResults map[string]TemplateResult
}
