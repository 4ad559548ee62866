// Package config defines the flat, explicitly-validated configuration
// structs consumed when building a detector, following the pattern of the
// tuning config loader: pointer-optional JSON fields with Get* accessors
// that fall back to documented defaults, and a Validate() that enforces the
// exact boundary semantics resolved against the scdetect reference
// implementation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scdetect/scdetect-go/internal/seismic/model"
)

// arrivalOffsetThresholdFloor is the minimum positive arrivalOffsetThreshold
// accepted; values in (0, floor) are rejected at configuration time
// (spec §4.3, confirmed by ValidateArrivalOffsetThreshold in the original
// scdetect validators.cpp).
const arrivalOffsetThresholdFloor = 2e-6

// DetectorConfig holds the per-detector tuning parameters described in
// spec §6. Optional fields are pointers so that an unset JSON field is
// distinguishable from an explicit zero value.
type DetectorConfig struct {
	// TriggerThreshold is the minimum cross-correlation coefficient a
	// template match must reach to be reported. Required, in [-1, 1].
	TriggerThreshold float64 `json:"trigger_threshold"`

	// ArrivalOffsetThreshold is the POT consistency tolerance in seconds.
	// Negative disables validation; nil means "use the engine default"
	// (validation enabled at DefaultArrivalOffsetThreshold).
	ArrivalOffsetThreshold *float64 `json:"arrival_offset_threshold,omitempty"`

	// MinArrivals is the minimum number of contributing templates required
	// for an on-hold-expired event to be emitted. nil means "all configured
	// templates" (spec §4.4).
	MinArrivals *int `json:"min_arrivals,omitempty"`

	// OnHold is how long a candidate event remains open for new matches.
	OnHold time.Duration `json:"on_hold"`

	// ResultThreshold is an optional composite-fit cutoff; nil means no
	// cutoff (any completed/expired-and-sufficient event is emitted).
	ResultThreshold *float64 `json:"result_threshold,omitempty"`

	// GapTolerance is the maximum inter-record gap eligible for
	// interpolation (or, when interpolation is disabled, the point past
	// which the stream state resets).
	GapTolerance time.Duration `json:"gap_tolerance"`

	// GapInterpolation enables linear interpolation of missing samples
	// for gaps within GapTolerance.
	GapInterpolation bool `json:"gap_interpolation"`

	// FilterString is the opaque filter grammar consumed by the injected
	// filter.Factory. Empty means no filtering.
	FilterString string `json:"filter_string,omitempty"`

	// TargetSamplingFrequency, when > 0, is the frequency streams are
	// resampled to before filtering. 0 disables resampling.
	TargetSamplingFrequency float64 `json:"target_sampling_frequency,omitempty"`

	// IngestionRateLimit, when set, caps the number of Records per second
	// a detector will accept, counted across all of its streams together
	// (one shared limiter with a burst of 1; there is no per-stream limit).
	// Records arriving faster are dropped rather than queued, since the
	// core never blocks (spec §5). nil disables throttling.
	IngestionRateLimit *float64 `json:"ingestion_rate_limit,omitempty"`
}

// DefaultArrivalOffsetThreshold is used when ArrivalOffsetThreshold is nil.
const DefaultArrivalOffsetThreshold = 0.2

// GetArrivalOffsetThreshold returns the configured threshold or the default.
func (c *DetectorConfig) GetArrivalOffsetThreshold() float64 {
	if c.ArrivalOffsetThreshold == nil {
		return DefaultArrivalOffsetThreshold
	}
	return *c.ArrivalOffsetThreshold
}

// GetMinArrivals returns the configured minimum or numTemplates when unset.
func (c *DetectorConfig) GetMinArrivals(numTemplates int) int {
	if c.MinArrivals == nil {
		return numTemplates
	}
	return *c.MinArrivals
}

// GetResultThreshold returns the configured threshold and whether one is set.
func (c *DetectorConfig) GetResultThreshold() (float64, bool) {
	if c.ResultThreshold == nil {
		return 0, false
	}
	return *c.ResultThreshold, true
}

// Validate checks the configuration against the boundary semantics in
// spec §6/§7, resolved precisely against the original scdetect validators:
//
//	TriggerThreshold:        -1 <= t <= 1
//	ArrivalOffsetThreshold:  t < 0 (disabled) or t >= 2e-6
//	MinArrivals:             1 <= n <= numTemplateStreams (when set)
//	ResultThreshold:         -1 <= t <= 1 (when set)
//	OnHold, GapTolerance:    non-negative
func (c *DetectorConfig) Validate(numTemplateStreams int) error {
	if c.TriggerThreshold < -1 || c.TriggerThreshold > 1 {
		return model.NewConfigurationError("trigger_threshold",
			fmt.Sprintf("must be in [-1, 1], got %f", c.TriggerThreshold))
	}

	if c.ArrivalOffsetThreshold != nil {
		t := *c.ArrivalOffsetThreshold
		if t >= 0 && t < arrivalOffsetThresholdFloor {
			return model.NewConfigurationError("arrival_offset_threshold",
				fmt.Sprintf("must be negative (disabled) or >= %g, got %g", arrivalOffsetThresholdFloor, t))
		}
	}

	if c.MinArrivals != nil {
		n := *c.MinArrivals
		if n < 1 {
			return model.NewConfigurationError("min_arrivals",
				fmt.Sprintf("must be >= 1, got %d", n))
		}
		if numTemplateStreams > 0 && n > numTemplateStreams {
			return model.NewConfigurationError("min_arrivals",
				fmt.Sprintf("must be <= configured template count %d, got %d", numTemplateStreams, n))
		}
	}

	if c.ResultThreshold != nil {
		t := *c.ResultThreshold
		if t < -1 || t > 1 {
			return model.NewConfigurationError("result_threshold",
				fmt.Sprintf("must be in [-1, 1], got %f", t))
		}
	}

	if c.OnHold < 0 {
		return model.NewConfigurationError("on_hold", "must be non-negative")
	}
	if c.GapTolerance < 0 {
		return model.NewConfigurationError("gap_tolerance", "must be non-negative")
	}
	if c.TargetSamplingFrequency < 0 {
		return model.NewConfigurationError("target_sampling_frequency", "must be non-negative")
	}
	if c.IngestionRateLimit != nil && *c.IngestionRateLimit <= 0 {
		return model.NewConfigurationError("ingestion_rate_limit", "must be positive when set")
	}

	return nil
}

// DefaultDetectorConfig returns a DetectorConfig with production-sane
// literal defaults. Unlike the teacher's DefaultTrackerConfig, this module
// has no sibling subsystem to share a tuning-defaults file with, so the
// defaults are literal rather than loaded from config/tuning.defaults.json.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		TriggerThreshold: 0.75,
		OnHold:           10 * time.Second,
		GapTolerance:     2 * time.Second,
		GapInterpolation: true,
	}
}

// LoadDetectorConfig loads a DetectorConfig from a JSON file, following the
// same path-validation and size-guard conventions as LoadTuningConfig: the
// path must have a .json extension and the file must be under 1 MiB.
func LoadDetectorConfig(path string) (*DetectorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultDetectorConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}
