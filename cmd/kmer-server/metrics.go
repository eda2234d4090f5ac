package main

import "sync/atomic"

// Metrics are the server-wide counters INFO reports.
type Metrics struct {
	TotalConnections atomic.Uint64
	TotalCommands    atomic.Uint64
	TotalQueries     atomic.Uint64
	MatchedQueries   atomic.Uint64 // queries with at least one reported read
}

func NewMetrics() *Metrics {
	return &Metrics{}
}
