package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// VisitKind distinguishes the two canonical visit events.
type VisitKind string

const (
	VisitKindArrival   VisitKind = "arrival"
	VisitKindDeparture VisitKind = "departure"
)

// Valid reports whether the kind is one of the known values.
func (k VisitKind) Valid() bool {
	return k == VisitKindArrival || k == VisitKindDeparture
}

// CrossingSource records which provider notification family produced a crossing.
// It is carried for auditing only and plays no part in normalization or identity.
type CrossingSource string

const (
	CrossingSourceRegion       CrossingSource = "region"
	CrossingSourceCustomRegion CrossingSource = "custom_region"
)

// RawCrossing is a visit crossing as reported by the location provider.
// DepartureTimeMillis is zero while the visit is still in progress.
type RawCrossing struct {
	PlaceName           string
	PlaceID             string
	VisitID             string
	ArrivalTimeMillis   int64
	DepartureTimeMillis int64
	Source              CrossingSource
}

// PlaceVisitEvent is the canonical, immutable record of an arrival or departure.
type PlaceVisitEvent struct {
	ID          string
	PlaceName   string
	Kind        VisitKind
	Timestamp   int64 // epoch milliseconds
	PlaceID     string
	VisitID     string
	Source      CrossingSource
	DwellMillis int64
}

// Time returns the event timestamp as a UTC time.
func (e PlaceVisitEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Normalize converts a raw crossing into exactly one visit event. A zero departure
// time is an in-progress arrival; anything else is reported as the departure.
// Input is passed through unvalidated.
func Normalize(c RawCrossing) PlaceVisitEvent {
	ev := PlaceVisitEvent{
		PlaceName: c.PlaceName,
		PlaceID:   c.PlaceID,
		VisitID:   c.VisitID,
		Source:    c.Source,
	}
	if c.DepartureTimeMillis == 0 {
		ev.Kind = VisitKindArrival
		ev.Timestamp = c.ArrivalTimeMillis
	} else {
		ev.Kind = VisitKindDeparture
		ev.Timestamp = c.DepartureTimeMillis
		if c.ArrivalTimeMillis > 0 && c.DepartureTimeMillis > c.ArrivalTimeMillis {
			ev.DwellMillis = c.DepartureTimeMillis - c.ArrivalTimeMillis
		}
	}
	if ev.Source == "" {
		ev.Source = CrossingSourceRegion
	}
	ev.ID = EventKey(ev.PlaceName, ev.Timestamp, ev.Kind)
	return ev
}

// EventKey derives the stable identity of a visit event. Re-delivery of the same
// crossing always yields the same key.
func EventKey(placeName string, timestampMillis int64, kind VisitKind) string {
	composite := fmt.Sprintf("%s|%d|%s", placeName, timestampMillis, kind)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
