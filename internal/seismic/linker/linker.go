// Package linker implements the multi-channel association engine described
// in spec §4.4: it aggregates per-template MatchResults into multi-arrival
// candidate events, validating each prospective merge's geometry against a
// reference Pick-Offset Table and enforcing a minimum-arrivals rule before
// emission.
package linker

import (
	"time"

	"github.com/scdetect/scdetect-go/internal/seismic/model"
	"github.com/scdetect/scdetect-go/internal/seismic/pot"
	"github.com/scdetect/scdetect-go/internal/timeutil"
)

// Status mirrors the linker's lifecycle (spec §4.4).
type Status int

const (
	StatusWaitingForData Status = iota
	StatusProcessing
	StatusTerminated
)

// processorInfo is the linker's record of one registered template
// processor: its id and the reference arrival it represents.
type processorInfo struct {
	arrival model.Arrival
}

// Event is a candidate multi-arrival detection in progress.
type Event struct {
	results map[string]model.TemplateResult // procId -> result
	pot     *pot.Table
	fit     float64
	refProc string
	refPick time.Time
	expiry  time.Time
}

// ArrivalCount returns the number of contributing templates so far.
func (e *Event) ArrivalCount() int { return len(e.results) }

// mergeResult inserts/replaces the entry for procId, recomputes the
// composite fit as the arithmetic mean of all contributing coefficients,
// updates the event's POT, and updates refProc/refPick if this arrival's
// pick time is earlier than the current earliest (spec §4.4, "Composite
// fit").
func (e *Event) mergeResult(procID string, res model.TemplateResult, p *pot.Table) {
	if e.results == nil {
		e.results = make(map[string]model.TemplateResult)
	}
	e.results[procID] = res
	e.pot = p

	var sum float64
	for _, r := range e.results {
		sum += r.MatchResult.Coefficient
	}
	e.fit = sum / float64(len(e.results))

	if e.refProc == "" || res.Arrival.Pick.Time.Before(e.refPick) {
		e.refPick = res.Arrival.Pick.Time
		e.refProc = procID
	}
}

// Result is the linker's published output: a scored, multi-arrival
// candidate ready to be converted into a Detection.
type Result struct {
	Fit             float64
	RefProcessorID  string
	TemplateResults map[string]model.TemplateResult
	POT             *pot.Table
}

// ResultCallback receives one Result per emitted event.
type ResultCallback func(Result)

// Linker aggregates MatchResults across template processors into
// candidate Events within a sliding on-hold window (spec §4.4).
type Linker struct {
	clock timeutil.Clock

	onHold                 time.Duration
	arrivalOffsetThreshold float64 // negative disables POT validation
	minArrivals            *int
	resultThreshold        *float64

	processors map[string]processorInfo
	queue      []*Event

	referencePot   *pot.Table
	referenceDirty bool

	status Status

	onResult ResultCallback
}

// Config configures a Linker's merge window and validation thresholds.
type Config struct {
	OnHold                 time.Duration
	ArrivalOffsetThreshold float64
	MinArrivals            *int
	ResultThreshold        *float64
	Clock                  timeutil.Clock
}

// New builds a Linker in the WaitingForData status.
func New(cfg Config) *Linker {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Linker{
		clock:                  clock,
		onHold:                 cfg.OnHold,
		arrivalOffsetThreshold: cfg.ArrivalOffsetThreshold,
		minArrivals:            cfg.MinArrivals,
		resultThreshold:        cfg.ResultThreshold,
		processors:             make(map[string]processorInfo),
		referenceDirty:         true,
	}
}

// SetResultCallback installs the callback invoked synchronously for every
// emitted Result.
func (l *Linker) SetResultCallback(cb ResultCallback) { l.onResult = cb }

// Add registers a template processor's reference arrival under procID.
func (l *Linker) Add(procID string, arrival model.Arrival) {
	l.processors[procID] = processorInfo{arrival: arrival}
	l.referenceDirty = true
}

// Remove unregisters a template processor.
func (l *Linker) Remove(procID string) {
	delete(l.processors, procID)
	l.referenceDirty = true
}

// Reset clears the candidate queue and returns to WaitingForData, without
// forgetting registered processors.
func (l *Linker) Reset() {
	l.queue = nil
	l.referenceDirty = true
	l.status = StatusWaitingForData
}

func (l *Linker) minArrivalsOrAll() int {
	if l.minArrivals != nil {
		return *l.minArrivals
	}
	return len(l.processors)
}

// Feed computes a recomputed pick time from matchResult and the
// registered template arrival for procID, then invokes Process (spec §4.4,
// "Operation feed"). Feeding an unregistered processor id is unreachable
// under the linker's own bookkeeping — every procID fed to it was
// registered via Add at detector construction time — so it is reported as
// an InvariantViolation rather than silently dropped (spec §7); the linker
// itself remains usable afterward.
func (l *Linker) Feed(procID string, templateStartTime time.Time, matchResult model.MatchResult) error {
	if l.status == StatusTerminated {
		return nil
	}
	info, ok := l.processors[procID]
	if !ok {
		return model.NewInvariantViolation("linker",
			"feed for unregistered processor id "+procID)
	}

	pickOffset := info.arrival.Pick.Time.Sub(templateStartTime)
	newArrival := info.arrival
	newArrival.Pick.Time = matchResult.Window.Start.Add(matchResult.Lag).Add(pickOffset)

	l.process(procID, model.TemplateResult{Arrival: newArrival, MatchResult: matchResult})
	return nil
}

// process implements spec §4.4's merge / new-event / emission phases.
func (l *Linker) process(procID string, res model.TemplateResult) {
	if len(l.processors) == 0 {
		return
	}
	l.status = StatusProcessing

	if l.referenceDirty {
		l.rebuildReferencePot()
	}

	numProcessors := len(l.processors)

	// Merge phase: insert into every compatible event.
	for _, event := range l.queue {
		if event.ArrivalCount() >= numProcessors {
			continue
		}

		existing, has := event.results[procID]
		if has && existing.MatchResult.Coefficient >= res.MatchResult.Coefficient {
			continue
		}

		arrivals := make([]model.Arrival, 0, event.ArrivalCount()+1)
		var existingIDs []model.WaveformStreamID
		for id, r := range event.results {
			if id == procID {
				continue
			}
			arrivals = append(arrivals, r.Arrival)
			existingIDs = append(existingIDs, r.Arrival.Pick.WaveformStreamID)
		}
		arrivals = append(arrivals, res.Arrival)

		candidate := pot.New(arrivals)
		if !pot.Validate(candidate, l.referencePot, existingIDs, l.arrivalOffsetThreshold) {
			continue
		}

		event.mergeResult(procID, res, candidate)
	}

	// New-event phase: always spawn a fresh singleton event.
	newEvent := &Event{expiry: l.clock.Now().Add(l.onHold)}
	newEvent.mergeResult(procID, res, pot.New([]model.Arrival{res.Arrival}))
	l.queue = append(l.queue, newEvent)

	// Emission phase.
	now := l.clock.Now()
	remaining := l.queue[:0]
	for _, event := range l.queue {
		minArrivals := l.minArrivalsOrAll()
		expired := !now.Before(event.expiry)
		complete := event.ArrivalCount() == numProcessors
		expiredSufficient := expired && event.ArrivalCount() >= minArrivals

		if complete || expiredSufficient {
			if l.resultThreshold == nil || event.fit >= *l.resultThreshold {
				l.emit(event)
			}
			continue // drop from queue either way
		}
		if expired {
			continue // expired without meeting minimums: drop
		}
		remaining = append(remaining, event)
	}
	l.queue = remaining
}

func (l *Linker) emit(event *Event) {
	if l.onResult == nil {
		return
	}
	l.onResult(Result{
		Fit:             event.fit,
		RefProcessorID:  event.refProc,
		TemplateResults: event.results,
		POT:             event.pot,
	})
}

// Terminate walks the queue once in insertion order, emitting every
// remaining event that still satisfies minArrivals and resultThreshold,
// then clears the queue and transitions to Terminated (spec §4.4,
// "Termination").
func (l *Linker) Terminate() {
	minArrivals := l.minArrivalsOrAll()
	for _, event := range l.queue {
		if event.ArrivalCount() >= minArrivals && (l.resultThreshold == nil || event.fit >= *l.resultThreshold) {
			l.emit(event)
		}
	}
	l.queue = nil
	l.status = StatusTerminated
}

func (l *Linker) rebuildReferencePot() {
	arrivals := make([]model.Arrival, 0, len(l.processors))
	for _, info := range l.processors {
		arrivals = append(arrivals, info.arrival)
	}
	l.referencePot = pot.New(arrivals)
	l.referenceDirty = false
}
