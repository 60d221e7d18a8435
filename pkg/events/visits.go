// Package events defines the wire payloads exchanged with the location provider
// and emitted to downstream consumers.
package events

import "time"

// Provider notification types carried in the event_type header of crossing records.
const (
	RegionEntered       = "region.entered"
	RegionExited        = "region.exited"
	CustomRegionEntered = "custom_region.entered"
	CustomRegionExited  = "custom_region.exited"
)

// Emitted domain event types.
const (
	PlaceVisitRecordedType = "place_visit.recorded"
	PlaceVisitsClearedType = "place_visits.cleared"
)

// VisitCrossing is the raw crossing record published by the location provider.
// DepartureTimeMillis is zero while the visit is still in progress.
type VisitCrossing struct {
	PlaceName           string `json:"place_name"`
	PlaceID             string `json:"place_id,omitempty"`
	VisitID             string `json:"visit_id,omitempty"`
	ArrivalTimeMillis   int64  `json:"arrival_time_millis"`
	DepartureTimeMillis int64  `json:"departure_time_millis"`
}

// PlaceVisitRecorded is emitted once per distinct normalized visit event.
type PlaceVisitRecorded struct {
	EventID     string    `json:"event_id"`
	PlaceName   string    `json:"place_name"`
	PlaceID     string    `json:"place_id,omitempty"`
	VisitID     string    `json:"visit_id,omitempty"`
	Kind        string    `json:"kind"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	DwellMillis int64     `json:"dwell_millis,omitempty"`
}

// PlaceVisitsCleared is emitted when the stored visit history is wiped.
type PlaceVisitsCleared struct {
	ClearID   string    `json:"clear_id"`
	Removed   int64     `json:"removed"`
	ClearedAt time.Time `json:"cleared_at"`
}
