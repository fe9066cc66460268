package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/sdr-gateway/internal/protocol"
)

// ErrInvalidReading is returned when a reported reading breaks an invariant.
var ErrInvalidReading = errors.New("telemetry: invalid reading")

// Stats is a four-point summary of a sampled quantity.
type Stats struct {
	Mean     float64 `json:"mean"`
	Max      float64 `json:"max"`
	IQR      float64 `json:"iqr"`
	Kurtosis float64 `json:"kurtosis"`
}

// StatsFrom converts the wire array [mean, max, iqr, kurtosis].
func StatsFrom(v []float64) (Stats, error) {
	if len(v) != protocol.StatsLen {
		return Stats{}, fmt.Errorf("%w: statistics need %d values, got %d", ErrInvalidReading, protocol.StatsLen, len(v))
	}
	return Stats{Mean: v[0], Max: v[1], IQR: v[2], Kurtosis: v[3]}, nil
}

// StateChange is one relay transition of a module.
type StateChange struct {
	ModuleID  string    `json:"module_id"`
	State     bool      `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Reading is one module's summary for a sampling period.
type Reading struct {
	ModuleID      string        `json:"module_id"`
	SampleCount   int           `json:"sample_count"`
	MeanVoltage   float64       `json:"mean_voltage"`
	MeanFrequency float64       `json:"mean_frequency"`
	ApparentPower Stats         `json:"apparent_power"`
	PowerFactor   Stats         `json:"power_factor"`
	KWhUsage      float64       `json:"kwh_usage"`
	PeriodStart   time.Time     `json:"period_start"`
	PeriodEnd     time.Time     `json:"period_end"`
	StateChanges  []StateChange `json:"state_changes"`
}

// Key identifies the row a reading upserts into.
type Key struct {
	ModuleID    string
	PeriodStart int64
	PeriodEnd   int64
}

// Key returns the upsert key of r.
func (r Reading) Key() Key {
	return Key{ModuleID: r.ModuleID, PeriodStart: r.PeriodStart.Unix(), PeriodEnd: r.PeriodEnd.Unix()}
}

// FromReport converts a device report into readings. The whole report is
// rejected if any module entry is invalid.
func FromReport(rep protocol.ReadingReport) ([]Reading, error) {
	if rep.PeriodStart > rep.PeriodEnd {
		return nil, fmt.Errorf("%w: period_start %d is after period_end %d", ErrInvalidReading, rep.PeriodStart, rep.PeriodEnd)
	}

	start := time.Unix(rep.PeriodStart, 0).UTC()
	end := time.Unix(rep.PeriodEnd, 0).UTC()

	out := make([]Reading, 0, len(rep.Data))
	for i, d := range rep.Data {
		if d.ModuleID == "" {
			return nil, fmt.Errorf("%w: entry %d has no module_id", ErrInvalidReading, i)
		}
		if d.SampleCount < 0 {
			return nil, fmt.Errorf("%w: module %s has a negative sample_count", ErrInvalidReading, d.ModuleID)
		}
		apparent, err := StatsFrom(d.ApparentPower)
		if err != nil {
			return nil, fmt.Errorf("module %s apparent_power: %w", d.ModuleID, err)
		}
		pf, err := StatsFrom(d.PowerFactor)
		if err != nil {
			return nil, fmt.Errorf("module %s power_factor: %w", d.ModuleID, err)
		}

		changes := make([]StateChange, 0, len(d.StateChanges))
		for _, sc := range d.StateChanges {
			changes = append(changes, StateChange{
				ModuleID:  d.ModuleID,
				State:     sc.State,
				Timestamp: time.Unix(sc.Timestamp, 0).UTC(),
			})
		}

		out = append(out, Reading{
			ModuleID:      d.ModuleID,
			SampleCount:   d.SampleCount,
			MeanVoltage:   d.MeanVoltage,
			MeanFrequency: d.MeanFrequency,
			ApparentPower: apparent,
			PowerFactor:   pf,
			KWhUsage:      d.KWhUsage,
			PeriodStart:   start,
			PeriodEnd:     end,
			StateChanges:  changes,
		})
	}
	return out, nil
}
