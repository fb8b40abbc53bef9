package cmdcache

import "time"

// Command is one cached command string, scoped to the organization and
// region whose console submitted it.
type Command struct {
	ID           int64
	SubmittedAt  time.Time
	Organization string
	Region       string
	CommandText  string
}

// Scope identifies one console's cache: caps and lookups apply per
// (organization, region) pair.
type Scope struct {
	Organization string
	Region       string
}
