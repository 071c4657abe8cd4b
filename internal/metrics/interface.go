// Package metrics records lineage engine activity.
package metrics

import "time"

// Collector is implemented by the Prometheus collector and by Noop.
type Collector interface {
	RecordLineage(status string, nodes int, truncated bool)
	RecordForkMutation(operation, status string)
	RecordRecount(status string, duration time.Duration)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordLineage(string, int, bool)     {}
func (Noop) RecordForkMutation(string, string)   {}
func (Noop) RecordRecount(string, time.Duration) {}
