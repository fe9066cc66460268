package influxdb

import (
	"context"
	"fmt"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/sdr-gateway/internal/telemetry"
)

// Measurement names.
const (
	MeasurementReadings     = "readings"
	MeasurementStateChanges = "state_changes"
)

// WriteBatch implements batch.Sink. Points are sent in chunks of the
// configured batch size; the first failing chunk aborts the write.
func (c *Client) WriteBatch(ctx context.Context, b telemetry.Batch) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	points := Points(b)
	for start := 0; start < len(points); start += c.batchSize {
		end := min(start+c.batchSize, len(points))
		if err := c.writer.WritePoint(ctx, points[start:end]...); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
	}
	return nil
}

// Points converts a batch into readings and state change points.
func Points(b telemetry.Batch) []*write.Point {
	readings := b.Deduplicated()
	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		points = append(points, ReadingPoint(r))
		for _, sc := range r.StateChanges {
			points = append(points, StateChangePoint(sc))
		}
	}
	return points
}

// ReadingPoint converts one reading. The point is stamped with the period
// end and carries the period start as a field.
func ReadingPoint(r telemetry.Reading) *write.Point {
	return write.NewPoint(
		MeasurementReadings,
		map[string]string{"module_id": r.ModuleID},
		map[string]any{
			"sample_count":            r.SampleCount,
			"mean_voltage":            r.MeanVoltage,
			"mean_frequency":          r.MeanFrequency,
			"mean_apparent_power":     r.ApparentPower.Mean,
			"max_apparent_power":      r.ApparentPower.Max,
			"iqr_apparent_power":      r.ApparentPower.IQR,
			"kurtosis_apparent_power": r.ApparentPower.Kurtosis,
			"mean_power_factor":       r.PowerFactor.Mean,
			"max_power_factor":        r.PowerFactor.Max,
			"iqr_power_factor":        r.PowerFactor.IQR,
			"kurtosis_power_factor":   r.PowerFactor.Kurtosis,
			"kwh_usage":               r.KWhUsage,
			"period_start":            r.PeriodStart.Unix(),
		},
		r.PeriodEnd,
	)
}

// StateChangePoint converts one relay transition.
func StateChangePoint(sc telemetry.StateChange) *write.Point {
	return write.NewPoint(
		MeasurementStateChanges,
		map[string]string{"module_id": sc.ModuleID},
		map[string]any{"state": sc.State},
		sc.Timestamp,
	)
}
