package stream

import (
	"testing"
	"time"

	"github.com/scdetect/scdetect-go/internal/seismic/model"
)

var testStream = model.WaveformStreamID{NetworkCode: "XX", StationCode: "AAA", ChannelCode: "HHZ"}

func mkRecord(start time.Time, fs float64, n int, value float64) model.Record {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = value
	}
	return model.Record{StreamID: testStream, StartTime: start, SamplingFrequency: fs, Samples: samples}
}

func TestBuffer_InitializesOnFirstRecord(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := NewBuffer(testStream, Config{Capacity: 1000})

	reset := buf.Feed(mkRecord(base, 100, 50, 1))
	if reset {
		t.Error("first record should not report a reset")
	}
	if buf.Len() != 50 {
		t.Errorf("Len() = %d, want 50", buf.Len())
	}
	if buf.SamplingFrequency() != 100 {
		t.Errorf("SamplingFrequency() = %v, want 100", buf.SamplingFrequency())
	}
}

func TestBuffer_ContiguousRecordsAppend(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := NewBuffer(testStream, Config{Capacity: 1000})

	buf.Feed(mkRecord(base, 100, 50, 1))
	second := base.Add(500 * time.Millisecond) // exactly 50 samples later at 100Hz
	reset := buf.Feed(mkRecord(second, 100, 50, 2))
	if reset {
		t.Error("contiguous record should not reset")
	}
	if buf.Len() != 100 {
		t.Errorf("Len() = %d, want 100", buf.Len())
	}
}

func TestBuffer_GapWithinToleranceInterpolates(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := NewBuffer(testStream, Config{Capacity: 1000, GapTolerance: time.Second, GapInterpolation: true})

	buf.Feed(mkRecord(base, 100, 50, 1))
	// Leave a 200ms gap (within the 1s tolerance): should interpolate, not reset.
	next := base.Add(500*time.Millisecond + 200*time.Millisecond)
	reset := buf.Feed(mkRecord(next, 100, 50, 2))
	if reset {
		t.Error("gap within tolerance should not reset")
	}
	if buf.Len() <= 100 {
		t.Errorf("expected interpolated samples inserted, got Len() = %d", buf.Len())
	}
}

func TestBuffer_GapInterpolationRampsTowardNewFirstSample(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := NewBuffer(testStream, Config{Capacity: 1000, GapTolerance: time.Second, GapInterpolation: true})

	buf.Feed(mkRecord(base, 100, 50, 1)) // last known sample = 1
	next := base.Add(500*time.Millisecond + 100*time.Millisecond)
	buf.Feed(mkRecord(next, 100, 50, 5)) // new first sample = 5

	samples := buf.Samples()
	// The 50 original samples are all 1; the new record's 50 samples are
	// all 5; anything synthesized in between must strictly ramp from 1
	// toward 5, never jumping straight to a flat pad of either endpoint.
	interpolated := samples[50 : len(samples)-50]
	if len(interpolated) == 0 {
		t.Fatal("expected synthesized samples between the two records")
	}
	for i, v := range interpolated {
		if v <= 1 || v >= 5 {
			t.Errorf("interpolated[%d] = %v, want strictly between 1 and 5", i, v)
		}
	}
	for i := 1; i < len(interpolated); i++ {
		if interpolated[i] <= interpolated[i-1] {
			t.Errorf("interpolated samples not monotonically increasing at index %d: %v -> %v",
				i, interpolated[i-1], interpolated[i])
		}
	}
}

func TestBuffer_GapExceedingToleranceResets(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := NewBuffer(testStream, Config{Capacity: 1000, GapTolerance: 100 * time.Millisecond, GapInterpolation: true})

	buf.Feed(mkRecord(base, 100, 50, 1))
	next := base.Add(5 * time.Second)
	reset := buf.Feed(mkRecord(next, 100, 50, 2))
	if !reset {
		t.Error("gap exceeding tolerance should reset")
	}
	if buf.Len() != 50 {
		t.Errorf("Len() after reset+append = %d, want 50", buf.Len())
	}
}

func TestBuffer_SamplingFrequencyChangeResets(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := NewBuffer(testStream, Config{Capacity: 1000})

	buf.Feed(mkRecord(base, 100, 50, 1))
	reset := buf.Feed(mkRecord(base.Add(500*time.Millisecond), 50, 25, 2))
	if !reset {
		t.Error("sampling frequency change should report a reset")
	}
	if buf.SamplingFrequency() != 50 {
		t.Errorf("SamplingFrequency() = %v, want 50", buf.SamplingFrequency())
	}
	if buf.Len() != 25 {
		t.Errorf("Len() = %d, want 25 (only the new record's samples)", buf.Len())
	}
}

func TestBuffer_CapacityEvicts(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := NewBuffer(testStream, Config{Capacity: 60})

	buf.Feed(mkRecord(base, 100, 50, 1))
	buf.Feed(mkRecord(base.Add(500*time.Millisecond), 100, 50, 2))
	if buf.Len() != 60 {
		t.Errorf("Len() = %d, want capacity 60 after eviction", buf.Len())
	}
}

func TestBuffer_ResetIsIdempotent(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := NewBuffer(testStream, Config{Capacity: 1000})
	buf.Feed(mkRecord(base, 100, 50, 1))

	buf.Reset()
	buf.Reset()

	if buf.Len() != 0 {
		t.Errorf("Len() after double reset = %d, want 0", buf.Len())
	}
	if buf.SamplingFrequency() != 0 {
		t.Errorf("SamplingFrequency() after double reset = %v, want 0", buf.SamplingFrequency())
	}
}
