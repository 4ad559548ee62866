// Package detector implements the orchestrator described in spec §4.5: it
// owns one linker and N template processors (one per configured
// (template, stream) pair), routes incoming Records to every processor
// subscribed to that stream, and converts the linker's scored results into
// published Detections.
package detector

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/scdetect/scdetect-go/internal/monitoring"
	"github.com/scdetect/scdetect-go/internal/seismic/config"
	"github.com/scdetect/scdetect-go/internal/seismic/filter"
	"github.com/scdetect/scdetect-go/internal/seismic/linker"
	"github.com/scdetect/scdetect-go/internal/seismic/model"
	"github.com/scdetect/scdetect-go/internal/seismic/stream"
	"github.com/scdetect/scdetect-go/internal/seismic/xcorr"
	"github.com/scdetect/scdetect-go/internal/timeutil"
)

// channelMargin is the additional buffer headroom kept beyond the template
// length (capacity = templateLength + channelMargin). Feed hands records to
// the buffer in pieces of at most channelMargin samples, so each piece is
// correlated before the buffer can evict it (spec §4.1 step 5).
const channelMargin = 256

// processorEntry pairs a stream buffer with its bound cross-correlation
// processor — one per (template, stream) subscription.
type processorEntry struct {
	procID string
	buf    *stream.Buffer
	proc   *xcorr.Processor
}

// DetectionCallback receives one Detection per completed or
// sufficiently-populated expired event.
type DetectionCallback func(model.Detection)

// Detector orchestrates template matching and multi-channel association
// for one set of configured templates.
type Detector struct {
	cfg           config.DetectorConfig
	filterFactory filter.Factory
	linker        *linker.Linker
	limiter       *rate.Limiter

	byStream map[model.WaveformStreamID][]*processorEntry
	byProcID map[string]*processorEntry

	onDetection DetectionCallback
}

// TemplateSubscription binds one template waveform (with its reference
// arrival) to the stream it matches against.
type TemplateSubscription struct {
	ProcessorID string
	Template    model.TemplateWaveform
	Arrival     model.Arrival
}

// New builds a Detector from a validated configuration and the set of
// template subscriptions it should match against. The filterFactory may be
// nil if cfg.FilterString is empty.
func New(cfg config.DetectorConfig, filterFactory filter.Factory, clock timeutil.Clock, subs []TemplateSubscription) (*Detector, error) {
	if err := cfg.Validate(len(subs)); err != nil {
		return nil, err
	}

	minArrivals := cfg.MinArrivals
	d := &Detector{
		cfg:           cfg,
		filterFactory: filterFactory,
		byStream:      make(map[model.WaveformStreamID][]*processorEntry),
		byProcID:      make(map[string]*processorEntry),
	}

	d.linker = linker.New(linker.Config{
		OnHold:                 cfg.OnHold,
		ArrivalOffsetThreshold: signedThreshold(cfg),
		MinArrivals:            minArrivals,
		ResultThreshold:        cfg.ResultThreshold,
		Clock:                  clock,
	})
	d.linker.SetResultCallback(d.handleLinkerResult)

	if cfg.IngestionRateLimit != nil {
		d.limiter = rate.NewLimiter(rate.Limit(*cfg.IngestionRateLimit), 1)
	}

	for _, sub := range subs {
		if sub.ProcessorID == "" {
			sub.ProcessorID = uuid.New().String()
		}
		if err := d.addSubscription(sub); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func signedThreshold(cfg config.DetectorConfig) float64 {
	if cfg.ArrivalOffsetThreshold == nil {
		return cfg.GetArrivalOffsetThreshold()
	}
	return *cfg.ArrivalOffsetThreshold
}

func (d *Detector) addSubscription(sub TemplateSubscription) error {
	if _, exists := d.byProcID[sub.ProcessorID]; exists {
		return model.NewConfigurationError("processor_id", fmt.Sprintf("duplicate processor id %q", sub.ProcessorID))
	}

	capacity := len(sub.Template.Samples) + channelMargin
	buf := stream.NewBuffer(sub.Template.StreamID, stream.Config{
		GapTolerance:     d.cfg.GapTolerance,
		GapInterpolation: d.cfg.GapInterpolation,
		FilterString:     d.cfg.FilterString,
		FilterFactory:    d.filterFactory,
		Capacity:         capacity,
	})
	proc := xcorr.New(sub.Template, sub.Arrival, d.cfg.TriggerThreshold)

	entry := &processorEntry{procID: sub.ProcessorID, buf: buf, proc: proc}
	d.byProcID[sub.ProcessorID] = entry
	d.byStream[sub.Template.StreamID] = append(d.byStream[sub.Template.StreamID], entry)
	d.linker.Add(sub.ProcessorID, sub.Arrival)

	return nil
}

// Feed routes rec to every processor subscribed to its stream id, running
// each through its preprocessing buffer and cross-correlation processor,
// feeding any resulting match into the linker.
func (d *Detector) Feed(rec model.Record) {
	entries, ok := d.byStream[rec.StreamID]
	if !ok {
		return
	}

	if d.limiter != nil && !d.limiter.Allow() {
		monitoring.Logf("detector: dropping record for %s, ingestion rate limit exceeded", rec.StreamID)
		return
	}

	for _, e := range entries {
		piece := model.Record{StreamID: rec.StreamID, StartTime: rec.StartTime, SamplingFrequency: rec.SamplingFrequency}
		for off := 0; off == 0 || off < len(rec.Samples); off += channelMargin {
			end := off + channelMargin
			if end > len(rec.Samples) {
				end = len(rec.Samples)
			}
			piece.Samples = rec.Samples[off:end]
			if e.buf.Feed(piece) {
				e.proc.Reset()
			}
			piece.StartTime = piece.EndTime()

			match, ok := e.proc.Process(e.buf.Samples(), e.buf.StartTime(), e.buf.SamplingFrequency())
			if !ok {
				continue
			}
			if err := d.linker.Feed(e.procID, e.proc.Template().StartTime, match); err != nil {
				monitoring.Logf("detector: %v", err)
			}
		}
	}
}

// handleLinkerResult converts a linker.Result into a Detection, attaching
// de-duplicated station/channel counts (spec §4.5). Location, depth and
// magnitude are left at their placeholder zero values: amplitude and
// location estimation are out of this engine's scope.
func (d *Detector) handleLinkerResult(res linker.Result) {
	if d.onDetection == nil {
		return
	}

	stations := make(map[string]struct{})
	channels := make(map[model.WaveformStreamID]struct{})
	for _, tr := range res.TemplateResults {
		id := tr.Arrival.Pick.WaveformStreamID
		stations[id.NetworkCode+"."+id.StationCode] = struct{}{}
		channels[id] = struct{}{}
	}

	refResult, hasRef := res.TemplateResults[res.RefProcessorID]
	var originTime time.Time
	if hasRef {
		originTime = refResult.Arrival.Pick.Time
	}

	det := model.Detection{
		ID:                    uuid.New().String(),
		OriginTime:            originTime,
		Fit:                   res.Fit,
		NumStationsAssociated: len(stations),
		NumStationsUsed:       len(stations),
		NumChannelsAssociated: len(channels),
		NumChannelsUsed:       len(channels),
		TemplateResults:       res.TemplateResults,
	}

	d.onDetection(det)
}

// SetDetectionCallback installs the callback invoked synchronously for
// every emitted Detection.
func (d *Detector) SetDetectionCallback(cb DetectionCallback) { d.onDetection = cb }

// Reset resets every processor's buffer and the linker, returning the
// detector to its pre-data state (spec §4.5).
func (d *Detector) Reset() {
	for _, e := range d.byProcID {
		e.buf.Reset()
		e.proc.Reset()
	}
	d.linker.Reset()
}

// Terminate flushes every processor's pending peak, then terminates the
// linker, emitting any event that still qualifies (spec §4.5).
func (d *Detector) Terminate() {
	for _, e := range d.byProcID {
		match, ok := e.proc.Terminate(e.buf.Samples(), e.buf.StartTime(), e.buf.SamplingFrequency())
		if ok {
			if err := d.linker.Feed(e.procID, e.proc.Template().StartTime, match); err != nil {
				monitoring.Logf("detector: %v", err)
			}
		}
	}
	d.linker.Terminate()
}
