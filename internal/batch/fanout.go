package batch

import (
	"context"

	"github.com/nerrad567/sdr-gateway/internal/telemetry"
)

// Fanout writes every batch to a primary sink and then to best-effort
// mirrors. Only the primary's error fails the flush; mirror errors are
// logged.
type Fanout struct {
	Primary Sink
	Mirrors []Sink
	Logger  Logger
}

// WriteBatch implements Sink.
func (f *Fanout) WriteBatch(ctx context.Context, b telemetry.Batch) error {
	if err := f.Primary.WriteBatch(ctx, b); err != nil {
		return err
	}
	for i, m := range f.Mirrors {
		if err := m.WriteBatch(ctx, b); err != nil && f.Logger != nil {
			f.Logger.Warn("mirror sink write failed", "mirror", i, "readings", b.Len(), "error", err)
		}
	}
	return nil
}
