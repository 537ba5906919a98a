package models

import "time"

// Run is one detection run.
type Run struct {
	ID         int64
	Mode       string
	StartedAt  time.Time
	FinishedAt *time.Time

	Total       int
	Residential int
	Datacenter  int
	Unknown     int
	Failed      int

	// Error holds the run-level failure, empty on success.
	Error string
}

// RunResult is the stored verdict for one node within a run.
type RunResult struct {
	ID    int64
	RunID int64

	NodeName string
	NodeType string
	Server   string
	Port     int

	IP        string
	Label     string
	Reason    string
	ASN       int64
	Org       string
	Country   string
	LatencyMS *int
	Error     string
}
