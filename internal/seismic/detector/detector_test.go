package detector

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/scdetect/scdetect-go/internal/seismic/config"
	"github.com/scdetect/scdetect-go/internal/seismic/filter"
	"github.com/scdetect/scdetect-go/internal/seismic/model"
	"github.com/scdetect/scdetect-go/internal/seismic/testutil"
	"github.com/scdetect/scdetect-go/internal/timeutil"
)

var testStream = model.WaveformStreamID{NetworkCode: "XX", StationCode: "AAA", ChannelCode: "HHZ"}

func TestDetector_SingleTemplateSelfMatch(t *testing.T) {
	const fs = 100.0
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	templateSamples := testutil.SineBurst(200, fs, 4, 0)
	template := testutil.NewTemplate("t1", testStream, base, fs, templateSamples, 0)
	arrival := testutil.NewArrival(testStream, base, model.Phase("P"))

	cfg := config.DefaultDetectorConfig()
	cfg.TriggerThreshold = 0.9
	cfg.MinArrivals = intPtr(1)

	clock := timeutil.NewMockClock(base)
	d, err := New(cfg, filter.DefaultFactory{}, clock, []TemplateSubscription{
		{ProcessorID: "t1", Template: template, Arrival: arrival},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var detections []model.Detection
	d.SetDetectionCallback(func(det model.Detection) { detections = append(detections, det) })

	silence := make([]float64, 1000)
	rec := testutil.NewRecord(testStream, base, fs, append(append([]float64(nil), templateSamples...), silence...))
	d.Feed(rec)

	if len(detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(detections))
	}
	if detections[0].NumChannelsUsed > detections[0].NumChannelsAssociated {
		t.Errorf("numChannelsUsed=%d exceeds numChannelsAssociated=%d",
			detections[0].NumChannelsUsed, detections[0].NumChannelsAssociated)
	}
}

func TestDetector_SamplingFrequencyChangeNoSpuriousMatch(t *testing.T) {
	const fs = 100.0
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	templateSamples := testutil.SineBurst(200, fs, 4, 0)
	template := testutil.NewTemplate("t1", testStream, base, fs, templateSamples, 0)
	arrival := testutil.NewArrival(testStream, base, model.Phase("P"))

	cfg := config.DefaultDetectorConfig()
	cfg.TriggerThreshold = 0.95
	cfg.MinArrivals = intPtr(1)

	clock := timeutil.NewMockClock(base)
	d, err := New(cfg, filter.DefaultFactory{}, clock, []TemplateSubscription{
		{ProcessorID: "t1", Template: template, Arrival: arrival},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var detections []model.Detection
	d.SetDetectionCallback(func(det model.Detection) { detections = append(detections, det) })

	noise := testutil.SineBurst(150, fs, 1.3, 0.2)
	d.Feed(testutil.NewRecord(testStream, base, fs, noise))

	secondStart := base.Add(time.Duration(float64(len(noise)) / fs * float64(time.Second)))
	lowerFreqNoise := testutil.SineBurst(150, 50, 1.3, 0.2)
	d.Feed(testutil.NewRecord(testStream, secondStart, 50, lowerFreqNoise))

	// No assertion on exact count, but none should straddle the frequency
	// boundary with a corrupted coefficient > 1 or NaN.
	for _, det := range detections {
		for _, tr := range det.TemplateResults {
			if tr.MatchResult.Coefficient > 1.0001 || tr.MatchResult.Coefficient < -1.0001 {
				t.Errorf("coefficient out of range across a sampling-frequency change: %v", tr.MatchResult.Coefficient)
			}
		}
	}
}

func TestDetector_ResetClearsState(t *testing.T) {
	const fs = 100.0
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	templateSamples := testutil.SineBurst(200, fs, 4, 0)
	template := testutil.NewTemplate("t1", testStream, base, fs, templateSamples, 0)
	arrival := testutil.NewArrival(testStream, base, model.Phase("P"))

	cfg := config.DefaultDetectorConfig()
	clock := timeutil.NewMockClock(base)
	d, err := New(cfg, filter.DefaultFactory{}, clock, []TemplateSubscription{
		{ProcessorID: "t1", Template: template, Arrival: arrival},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	d.Feed(testutil.NewRecord(testStream, base, fs, templateSamples))
	d.Reset()
	d.Reset() // idempotent

	entry := d.byProcID["t1"]
	if entry.buf.Len() != 0 {
		t.Errorf("buffer not cleared after Reset, Len() = %d", entry.buf.Len())
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultDetectorConfig()
	cfg.TriggerThreshold = 5 // out of [-1, 1]

	_, err := New(cfg, filter.DefaultFactory{}, nil, nil)
	if err == nil {
		t.Error("expected configuration error for invalid trigger threshold")
	}
}

func TestDetector_SelfMatchDetectionShape(t *testing.T) {
	const fs = 100.0
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	templateSamples := testutil.SineBurst(200, fs, 4, 0)
	template := testutil.NewTemplate("t1", testStream, base, fs, templateSamples, 0)
	arrival := testutil.NewArrival(testStream, base, model.Phase("P"))

	cfg := config.DefaultDetectorConfig()
	cfg.TriggerThreshold = 0.9
	cfg.MinArrivals = intPtr(1)

	clock := timeutil.NewMockClock(base)
	d, err := New(cfg, filter.DefaultFactory{}, clock, []TemplateSubscription{
		{ProcessorID: "t1", Template: template, Arrival: arrival},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var detections []model.Detection
	d.SetDetectionCallback(func(det model.Detection) { detections = append(detections, det) })

	silence := make([]float64, 1000)
	rec := testutil.NewRecord(testStream, base, fs, append(append([]float64(nil), templateSamples...), silence...))
	d.Feed(rec)

	if len(detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(detections))
	}

	want := model.Detection{
		OriginTime:            base,
		Fit:                   1.0,
		NumStationsAssociated: 1,
		NumStationsUsed:       1,
		NumChannelsAssociated: 1,
		NumChannelsUsed:       1,
	}
	got := detections[0]
	got.TemplateResults = nil // compared separately; varies in content not shape

	diff := cmp.Diff(want, got,
		cmpopts.IgnoreFields(model.Detection{}, "ID"),
		cmpopts.EquateApprox(0, 1e-6),
	)
	if diff != "" {
		t.Errorf("detection mismatch (-want +got):\n%s", diff)
	}
}

func TestDetector_OriginTimeUsesRecomputedPickTime(t *testing.T) {
	const fs = 100.0
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	templateSamples := testutil.SineBurst(200, fs, 4, 0)
	template := testutil.NewTemplate("t1", testStream, base, fs, templateSamples, 0)
	// The reference arrival's pick time is offset 500ms from the template's
	// nominal start, so the recomputed pick time (window.start + lag +
	// pickOffset) diverges from the raw match window start whenever
	// pickOffset != 0 — exactly the case OriginTime must track.
	arrival := testutil.NewArrival(testStream, base.Add(500*time.Millisecond), model.Phase("P"))

	cfg := config.DefaultDetectorConfig()
	cfg.TriggerThreshold = 0.9
	cfg.MinArrivals = intPtr(1)

	clock := timeutil.NewMockClock(base)
	d, err := New(cfg, filter.DefaultFactory{}, clock, []TemplateSubscription{
		{ProcessorID: "t1", Template: template, Arrival: arrival},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var detections []model.Detection
	d.SetDetectionCallback(func(det model.Detection) { detections = append(detections, det) })

	silence := make([]float64, 1000)
	rec := testutil.NewRecord(testStream, base, fs, append(append([]float64(nil), templateSamples...), silence...))
	d.Feed(rec)

	if len(detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(detections))
	}
	want := base.Add(500 * time.Millisecond)
	if !detections[0].OriginTime.Equal(want) {
		t.Errorf("OriginTime = %v, want %v (recomputed pick time, not the raw match window start)",
			detections[0].OriginTime, want)
	}
}

func intPtr(n int) *int { return &n }
