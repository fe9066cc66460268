package telemetry

import "sort"

// Batch is a set of readings written to a sink in one operation.
type Batch struct {
	Readings []Reading
}

// Len returns the number of readings in the batch.
func (b Batch) Len() int {
	return len(b.Readings)
}

// StateChanges returns every state change carried by the batch's readings.
func (b Batch) StateChanges() []StateChange {
	var out []StateChange
	for _, r := range b.Readings {
		out = append(out, r.StateChanges...)
	}
	return out
}

// Deduplicated returns the readings with one entry per Key. The last
// reading for a key wins; state changes from every duplicate are kept,
// with exact repeats removed. Output is ordered by key.
func (b Batch) Deduplicated() []Reading {
	type seenChange struct {
		state bool
		ts    int64
	}

	byKey := make(map[Key]Reading, len(b.Readings))
	changes := make(map[Key]map[seenChange]StateChange)
	for _, r := range b.Readings {
		k := r.Key()
		byKey[k] = r
		if changes[k] == nil {
			changes[k] = make(map[seenChange]StateChange)
		}
		for _, sc := range r.StateChanges {
			changes[k][seenChange{sc.State, sc.Timestamp.Unix()}] = sc
		}
	}

	out := make([]Reading, 0, len(byKey))
	for k, r := range byKey {
		merged := make([]StateChange, 0, len(changes[k]))
		for _, sc := range changes[k] {
			merged = append(merged, sc)
		}
		sort.Slice(merged, func(i, j int) bool {
			if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
				return merged[i].Timestamp.Before(merged[j].Timestamp)
			}
			return !merged[i].State && merged[j].State
		})
		r.StateChanges = merged
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.ModuleID != b.ModuleID {
			return a.ModuleID < b.ModuleID
		}
		if a.PeriodStart != b.PeriodStart {
			return a.PeriodStart < b.PeriodStart
		}
		return a.PeriodEnd < b.PeriodEnd
	})
	return out
}
