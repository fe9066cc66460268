package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/sdr-gateway/internal/protocol"
)

func moduleReading(id string) protocol.ModuleReading {
	return protocol.ModuleReading{
		ModuleID:      id,
		SampleCount:   5,
		MeanVoltage:   231.5,
		MeanFrequency: 50.01,
		ApparentPower: []float64{120, 300, 40, 2.5},
		PowerFactor:   []float64{0.95, 1, 0.02, 3.1},
		KWhUsage:      0.01,
		StateChanges:  []protocol.StateChangeEvent{{State: true, Timestamp: 1100}},
	}
}

func TestFromReport(t *testing.T) {
	rep := protocol.ReadingReport{
		PeriodStart: 1000,
		PeriodEnd:   1300,
		Data:        []protocol.ModuleReading{moduleReading("m1"), moduleReading("m2")},
	}

	readings, err := FromReport(rep)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	r := readings[0]
	assert.Equal(t, "m1", r.ModuleID)
	assert.Equal(t, time.Unix(1000, 0).UTC(), r.PeriodStart)
	assert.Equal(t, time.Unix(1300, 0).UTC(), r.PeriodEnd)
	assert.Equal(t, Stats{Mean: 120, Max: 300, IQR: 40, Kurtosis: 2.5}, r.ApparentPower)
	assert.Equal(t, Stats{Mean: 0.95, Max: 1, IQR: 0.02, Kurtosis: 3.1}, r.PowerFactor)
	require.Len(t, r.StateChanges, 1)
	assert.Equal(t, StateChange{ModuleID: "m1", State: true, Timestamp: time.Unix(1100, 0).UTC()}, r.StateChanges[0])
}

func TestFromReport_Invalid(t *testing.T) {
	short := moduleReading("m1")
	short.PowerFactor = []float64{1, 2, 3}

	tests := []struct {
		name string
		rep  protocol.ReadingReport
	}{
		{name: "inverted period", rep: protocol.ReadingReport{PeriodStart: 2000, PeriodEnd: 1000}},
		{name: "short stats", rep: protocol.ReadingReport{PeriodStart: 1, PeriodEnd: 2, Data: []protocol.ModuleReading{short}}},
		{name: "missing module", rep: protocol.ReadingReport{PeriodStart: 1, PeriodEnd: 2, Data: []protocol.ModuleReading{moduleReading("")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromReport(tt.rep)
			assert.ErrorIs(t, err, ErrInvalidReading)
		})
	}
}

func TestFromReport_EqualBoundsAllowed(t *testing.T) {
	readings, err := FromReport(protocol.ReadingReport{PeriodStart: 1000, PeriodEnd: 1000, Data: []protocol.ModuleReading{moduleReading("m1")}})
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestBatch_Deduplicated(t *testing.T) {
	first, err := FromReport(protocol.ReadingReport{PeriodStart: 1000, PeriodEnd: 1300, Data: []protocol.ModuleReading{moduleReading("m1")}})
	require.NoError(t, err)

	second := moduleReading("m1")
	second.SampleCount = 9
	second.StateChanges = append(second.StateChanges, protocol.StateChangeEvent{State: false, Timestamp: 1200})
	again, err := FromReport(protocol.ReadingReport{PeriodStart: 1000, PeriodEnd: 1300, Data: []protocol.ModuleReading{second}})
	require.NoError(t, err)

	other, err := FromReport(protocol.ReadingReport{PeriodStart: 1300, PeriodEnd: 1600, Data: []protocol.ModuleReading{moduleReading("m1")}})
	require.NoError(t, err)

	b := Batch{Readings: append(append(first, again...), other...)}
	assert.Equal(t, 3, b.Len())
	assert.Len(t, b.StateChanges(), 4)

	deduped := b.Deduplicated()
	require.Len(t, deduped, 2)
	assert.Equal(t, 9, deduped[0].SampleCount, "last reading for a key wins")
	assert.Len(t, deduped[0].StateChanges, 2, "repeated state change collapsed, new one kept")
	assert.Equal(t, int64(1300), deduped[1].Key().PeriodStart)
}
