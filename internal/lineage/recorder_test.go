package lineage

import (
	"sync"
	"time"
)

type recordingCollector struct {
	mu        sync.Mutex
	lineages  []string
	mutations []string
	recounts  []string
}

func (c *recordingCollector) RecordLineage(status string, _ int, _ bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lineages = append(c.lineages, status)
}

func (c *recordingCollector) RecordForkMutation(operation, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutations = append(c.mutations, operation+":"+status)
}

func (c *recordingCollector) RecordRecount(status string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recounts = append(c.recounts, status)
}
