package api

import (
	"time"

	"example.com/placevisits/internal/capture"
	"example.com/placevisits/internal/device"
	"example.com/placevisits/internal/domain"
	"example.com/placevisits/internal/permission"
	"example.com/placevisits/pkg/events"
)

// ErrorResponse is the problem body for every failed request.
type ErrorResponse struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// VisitView exposes a stored visit event.
type VisitView struct {
	EventID     string    `json:"event_id"`
	PlaceName   string    `json:"place_name"`
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	PlaceID     string    `json:"place_id,omitempty"`
	VisitID     string    `json:"visit_id,omitempty"`
	Source      string    `json:"source"`
	DwellMillis int64     `json:"dwell_millis,omitempty"`
}

func toVisitView(ev domain.PlaceVisitEvent) VisitView {
	return VisitView{
		EventID:     ev.ID,
		PlaceName:   ev.PlaceName,
		Kind:        string(ev.Kind),
		Timestamp:   ev.Time(),
		PlaceID:     ev.PlaceID,
		VisitID:     ev.VisitID,
		Source:      string(ev.Source),
		DwellMillis: ev.DwellMillis,
	}
}

// ListVisitsResponse packages list results.
type ListVisitsResponse struct {
	Items      []VisitView `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// SnapshotView is the payload of one stream event.
type SnapshotView struct {
	Items []VisitView `json:"items"`
}

// ClearVisitsResponse reports how many events a clear removed.
type ClearVisitsResponse struct {
	Removed int64 `json:"removed"`
}

// EnableCaptureResponse describes the session an enable joined or started.
type EnableCaptureResponse struct {
	SessionID string         `json:"session_id"`
	Status    capture.Status `json:"status"`
}

// SessionResponse combines capture status with the batch awaiting the client.
type SessionResponse struct {
	Capture        capture.Status  `json:"capture"`
	PendingRequest *device.Request `json:"pending_request,omitempty"`
}

// DeviceStateRequest is the payload for PUT /v1/device/state.
type DeviceStateRequest struct {
	PlatformVersion int                                                `json:"platform_version"`
	Permissions     map[permission.Permission]device.PermissionState `json:"permissions"`
}

// ResolveRequest answers a pending permission batch.
type ResolveRequest struct {
	Results map[permission.Permission]bool `json:"results"`
}

// CrossingRequest is the payload for POST /v1/crossings.
type CrossingRequest struct {
	Notification string               `json:"notification"`
	Crossing     events.VisitCrossing `json:"crossing"`
}

// CrossingResponse previews the event the crossing normalizes to. Untracked
// notifications are acknowledged with tracked=false and no event.
type CrossingResponse struct {
	Tracked bool   `json:"tracked"`
	EventID string `json:"event_id,omitempty"`
	Kind    string `json:"kind,omitempty"`
}
