package domain

import "time"

// TrackedDevice is an edge device check-in row from the tracking table.
type TrackedDevice struct {
	DeviceID    string
	LastCheckIn time.Time
	RawCheckIn  string
}
