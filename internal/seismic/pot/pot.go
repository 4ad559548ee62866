// Package pot implements the Pick-Offset Table described in spec §4.3: a
// symmetric pairwise matrix of pick-time offsets, used by the linker to
// validate that a candidate merge preserves a template's known
// inter-station geometry.
package pot

import (
	"math"

	"github.com/scdetect/scdetect-go/internal/seismic/model"
)

// entry is one (i, j) pair's offset and whether it participates in
// pickOffset() / validation.
type entry struct {
	offset  float64 // seconds, |a_i.pick.time - a_j.pick.time|
	enabled bool
}

// Table is a Pick-Offset Table keyed by waveform stream id pairs, built
// from a set of arrivals in insertion order (spec §4.3).
type Table struct {
	order   []model.WaveformStreamID
	entries map[model.WaveformStreamID]map[model.WaveformStreamID]entry
}

// New builds a Table from arrivals, in the given insertion order. Arrivals
// sharing a waveform stream id overwrite earlier ones at the same id.
func New(arrivals []model.Arrival) *Table {
	t := &Table{entries: make(map[model.WaveformStreamID]map[model.WaveformStreamID]entry)}
	byID := make(map[model.WaveformStreamID]model.Arrival)
	for _, a := range arrivals {
		id := a.Pick.WaveformStreamID
		if _, seen := byID[id]; !seen {
			t.order = append(t.order, id)
		}
		byID[id] = a
	}

	for i, idI := range t.order {
		for j, idJ := range t.order {
			if i == j {
				continue
			}
			offset := math.Abs(byID[idI].Pick.Time.Sub(byID[idJ].Pick.Time).Seconds())
			t.set(idI, idJ, entry{offset: offset, enabled: true})
		}
	}
	return t
}

func (t *Table) set(i, j model.WaveformStreamID, e entry) {
	if t.entries[i] == nil {
		t.entries[i] = make(map[model.WaveformStreamID]entry)
	}
	t.entries[i][j] = e
}

func (t *Table) get(i, j model.WaveformStreamID) (entry, bool) {
	row, ok := t.entries[i]
	if !ok {
		return entry{}, false
	}
	e, ok := row[j]
	return e, ok
}

// StreamIDs returns the waveform stream ids present in the table, in
// insertion order.
func (t *Table) StreamIDs() []model.WaveformStreamID {
	return append([]model.WaveformStreamID(nil), t.order...)
}

// PickOffset returns max_{i,j enabled} d[i][j], the table's geometric
// signature scalar (spec §4.3).
func (t *Table) PickOffset() float64 {
	var max float64
	for i, row := range t.entries {
		for j, e := range row {
			if i == j || !e.enabled {
				continue
			}
			if e.offset > max {
				max = e.offset
			}
		}
	}
	return max
}

// disableWithin temporarily disables every entry whose BOTH endpoints are
// in ids, returning a restore function that re-enables exactly what was
// disabled. Pairs already present among an event's existing arrivals were
// validated when they were introduced, so disabling them here scopes
// Validate's comparison to only the newly introduced (new-arrival,
// existing-arrival) pairs (spec §4.3, "Consistency of the reference POT").
func (t *Table) disableWithin(ids []model.WaveformStreamID) (restore func()) {
	set := make(map[model.WaveformStreamID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	type key struct{ i, j model.WaveformStreamID }
	var disabled []key
	for i, row := range t.entries {
		if !set[i] {
			continue
		}
		for j, e := range row {
			if !set[j] || !e.enabled {
				continue
			}
			t.entries[i][j] = entry{offset: e.offset, enabled: false}
			disabled = append(disabled, key{i, j})
		}
	}
	return func() {
		for _, k := range disabled {
			e := t.entries[k.i][k.j]
			t.entries[k.i][k.j] = entry{offset: e.offset, enabled: true}
		}
	}
}

// Validate checks candidate (built from an in-progress event's arrivals
// plus a new arrival) against reference (the all-templates geometry POT),
// per spec §4.3: for every pair of waveform-stream-ids present in both
// tables, other than pairs entirely among existingIDs (temporarily
// disabled in reference for the scope of this call), the absolute
// difference in offsets must not exceed threshold.
//
// threshold < 0 disables validation unconditionally (always passes).
func Validate(candidate, reference *Table, existingIDs []model.WaveformStreamID, threshold float64) bool {
	if threshold < 0 {
		return true
	}

	restore := reference.disableWithin(existingIDs)
	defer restore()

	ids := candidate.StreamIDs()
	for _, i := range ids {
		for _, j := range ids {
			if i == j {
				continue
			}
			candEntry, ok := candidate.get(i, j)
			if !ok || !candEntry.enabled {
				continue
			}
			refEntry, ok := reference.get(i, j)
			if !ok || !refEntry.enabled {
				continue
			}
			if math.Abs(candEntry.offset-refEntry.offset) > threshold {
				return false
			}
		}
	}
	return true
}
