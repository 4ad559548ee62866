// Package xcorr implements the per-(template,stream) normalized
// cross-correlation processor described in spec §4.2: a rolling-statistics
// matched filter that scans a stream buffer for lags whose correlation
// against an immutable template waveform exceeds a trigger threshold.
package xcorr

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/scdetect/scdetect-go/internal/seismic/model"
)

// varianceEpsilon is the floor below which a segment or template variance is
// treated as degenerate; the coefficient at that lag is defined to be 0
// rather than dividing by (near) zero (spec §4.2).
const varianceEpsilon = 1e-12

// Processor computes normalized cross-correlation between a fixed template
// and a growing stream buffer, emitting MatchResults as new peaks clear the
// buffer's already-reported watermark.
type Processor struct {
	template model.TemplateWaveform
	arrival  model.Arrival

	templateMean float64
	templateVar  float64 // Σ(t_k - t̄)²
	templateLen  int

	triggerThreshold float64

	// watermark is the buffer index past which lags have not yet been
	// reported. When the buffer has evicted samples from its front since
	// the previous call, it is shifted down by the same count so it keeps
	// pointing at the same stream position; it is cleared on Reset.
	watermark int
	// watermarkStart is the buffer start time the watermark refers to.
	watermarkStart time.Time

	terminated bool
}

// New builds a Processor bound to one template waveform and the reference
// arrival it represents, with triggerThreshold as the minimum reportable
// coefficient.
func New(template model.TemplateWaveform, arrival model.Arrival, triggerThreshold float64) *Processor {
	p := &Processor{
		template:         template,
		arrival:          arrival,
		templateLen:      len(template.Samples),
		triggerThreshold: triggerThreshold,
	}
	p.templateMean = stat.Mean(template.Samples, nil)
	p.templateVar = sumSquaredDeviation(template.Samples, p.templateMean)
	return p
}

// Arrival returns the reference arrival this processor's template represents.
func (p *Processor) Arrival() model.Arrival { return p.arrival }

// Template returns the bound template waveform.
func (p *Processor) Template() model.TemplateWaveform { return p.template }

// Reset clears the reporting watermark, allowing previously-scanned lags
// (now evicted from a reinitialised buffer) to be scanned again.
func (p *Processor) Reset() {
	p.watermark = 0
	p.watermarkStart = time.Time{}
}

// Process scans every not-yet-reported lag whose window fits fully inside
// buf, starting at bufStart. It returns the peak MatchResult and true if a
// coefficient at or above triggerThreshold was found, advancing the
// watermark past the reported window so the same peak is not re-emitted
// (spec §4.2, "Threshold and suppression").
func (p *Processor) Process(samples []float64, bufStart time.Time, samplingFrequency float64) (model.MatchResult, bool) {
	if p.terminated || p.templateLen == 0 || samplingFrequency <= 0 {
		return model.MatchResult{}, false
	}

	if !p.watermarkStart.IsZero() && bufStart.After(p.watermarkStart) {
		p.watermark -= int(math.Round(bufStart.Sub(p.watermarkStart).Seconds() * samplingFrequency))
		if p.watermark < 0 {
			p.watermark = 0
		}
	}
	p.watermarkStart = bufStart

	lastLag := len(samples) - p.templateLen
	if lastLag < p.watermark {
		return model.MatchResult{}, false
	}

	var (
		bestCoeff     float64 = -2 // below any valid coefficient
		bestLag       int
		numEvaluated  int
		foundAnyValid bool
	)

	// Rolling sums for the first admissible window: sumX tracks Σx_k and
	// sumXX tracks Σx_k², so that mean and Σ(x_k-x̄)² update in O(1) per
	// sample as the window advances (spec §4.2).
	start := p.watermark
	n := float64(p.templateLen)
	window := samples[start : start+p.templateLen]
	sumX := floats.Sum(window)
	sumXX := dotSelf(window)

	for lag := start; lag <= lastLag; lag++ {
		if lag != start {
			outgoing := samples[lag-1]
			incoming := samples[lag+p.templateLen-1]
			sumX += incoming - outgoing
			sumXX += incoming*incoming - outgoing*outgoing
		}

		segMean := sumX / n
		segSumSq := sumXX - n*segMean*segMean

		coeff := p.coefficient(samples[lag:lag+p.templateLen], segMean, segSumSq)
		numEvaluated++
		if coeff > bestCoeff {
			bestCoeff = coeff
			bestLag = lag
			foundAnyValid = true
		}
	}

	p.watermark = lastLag + 1

	if !foundAnyValid || bestCoeff < p.triggerThreshold {
		return model.MatchResult{}, false
	}

	windowStart := bufStart.Add(time.Duration(float64(bestLag) / samplingFrequency * float64(time.Second)))
	templateDuration := p.template.Duration()
	lag := windowStart.Sub(p.template.StartTime)

	result := model.MatchResult{
		Window:                   model.TimeWindow{Start: windowStart, End: windowStart.Add(templateDuration)},
		Lag:                      lag,
		Coefficient:              bestCoeff,
		NumberOfSamplesEvaluated: numEvaluated,
	}

	// Suppress re-triggers within one template length of this emission by
	// advancing the watermark at least to the end of the reported window.
	suppressUntil := bestLag + p.templateLen
	if suppressUntil > p.watermark {
		p.watermark = suppressUntil
	}

	return result, true
}

// coefficient computes the normalized cross-correlation at one lag given
// the segment's precomputed mean and sum of squared deviations.
func (p *Processor) coefficient(segment []float64, segMean, segSumSq float64) float64 {
	if segSumSq < varianceEpsilon || p.templateVar < varianceEpsilon {
		return 0
	}
	var cross float64
	for i, t := range p.template.Samples {
		cross += (segment[i] - segMean) * (t - p.templateMean)
	}
	return cross / math.Sqrt(segSumSq*p.templateVar)
}

// Terminate flushes any pending above-threshold peak in the tail of buf not
// yet scanned, then marks the processor read-only (spec §4.2,
// "Termination").
func (p *Processor) Terminate(samples []float64, bufStart time.Time, samplingFrequency float64) (model.MatchResult, bool) {
	if p.terminated {
		return model.MatchResult{}, false
	}
	result, ok := p.Process(samples, bufStart, samplingFrequency)
	p.terminated = true
	return result, ok
}

func sumSquaredDeviation(samples []float64, mean float64) float64 {
	var sum float64
	for _, x := range samples {
		d := x - mean
		sum += d * d
	}
	return sum
}

func dotSelf(samples []float64) float64 {
	var sum float64
	for _, x := range samples {
		sum += x * x
	}
	return sum
}
