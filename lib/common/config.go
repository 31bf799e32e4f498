package common

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Configuration of a dump run
// --------------------------------------------------------------------------

// Config holds the parameters of a `dstudy run` invocation.
type Config struct {
	// host loop
	StudyName string
	Direction string
	NTrials   int
	NJobs     int
	Seed      uint64

	// replication
	Interval       int
	SyncStudyAttrs bool
	Destination    string
	Lock           string
	Serializer     string

	// raft destination
	RaftShardID   uint64
	RaftAddress   string
	RaftRTTMillis uint64
	TimeoutSecond int64

	// logging & metrics
	LogLevel     string
	PrintMetrics bool
}

// Validate checks the values that have no sensible fallback.
func (c *Config) Validate() error {
	if c.StudyName == "" {
		return fmt.Errorf("study name must not be empty")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", c.Interval)
	}
	if c.NTrials < 0 {
		return fmt.Errorf("n-trials must not be negative, got %d", c.NTrials)
	}
	if c.NJobs <= 0 {
		return fmt.Errorf("n-jobs must be positive, got %d", c.NJobs)
	}
	if c.Destination == "" {
		return fmt.Errorf("destination must not be empty")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Study")
	addField("Name", c.StudyName)
	addField("Direction", c.Direction)
	addField("Trials", fmt.Sprintf("%d", c.NTrials))
	addField("Jobs", fmt.Sprintf("%d", c.NJobs))
	addField("Seed", fmt.Sprintf("%d", c.Seed))

	addSection("Replication")
	addField("Interval", fmt.Sprintf("every %d trials", c.Interval))
	addField("Sync Study Attrs", fmt.Sprintf("%t", c.SyncStudyAttrs))
	addField("Destination", c.Destination)
	addField("Lock", c.Lock)
	addField("Serializer", c.Serializer)

	if strings.HasPrefix(c.Destination, "raft:") {
		addSection("RAFT Parameters")
		addField("Shard ID", fmt.Sprintf("%d", c.RaftShardID))
		addField("RAFT Address", c.RaftAddress)
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RaftRTTMillis))
		addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Print Metrics", fmt.Sprintf("%t", c.PrintMetrics))

	return sb.String()
}
