// Package influxdb mirrors flushed telemetry batches into InfluxDB.
//
// The mirror is a write-only side channel next to the relational store:
// points are never read back. Each reading becomes a "readings" point
// tagged with its module and stamped with the period end; each state
// change becomes a "state_changes" point. Points carry the same tags and
// timestamps on every retry, so a repeated batch overwrites rather than
// duplicates.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	fanout := &batch.Fanout{Primary: repo, Mirrors: []batch.Sink{client}}
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
