package storage

import "time"

// Run is one stored crawl run. Identities are stored separately per run.
type Run struct {
	RunID         int64
	Seeds         []string
	Platform      string
	StartedAt     time.Time
	ElapsedMs     int64
	VisitedNodes  int
	ErrorCount    int
	TimeoutCount  int
	DiscoveredIPs []string
	Roster        map[string]string // identity -> display name
}

// RunSummary is a row of the run listing
type RunSummary struct {
	RunID         int64
	Seeds         []string
	Platform      string
	StartedAt     time.Time
	ElapsedMs     int64
	IdentityCount int
}
