package outbox

import "example.com/placevisits/pkg/events"

const placeVisitRecordedSchema = `{
  "type": "object",
  "title": "PlaceVisitRecorded",
  "properties": {
    "event_id": {"type": "string"},
    "place_name": {"type": "string", "minLength": 1},
    "place_id": {"type": "string"},
    "visit_id": {"type": "string"},
    "kind": {"type": "string", "enum": ["arrival", "departure"]},
    "source": {"type": "string", "enum": ["region", "custom_region"]},
    "timestamp": {"type": "string", "format": "date-time"},
    "dwell_millis": {"type": "integer", "minimum": 0}
  },
  "required": ["event_id", "place_name", "kind", "source", "timestamp"],
  "additionalProperties": false
}`

const placeVisitsClearedSchema = `{
  "type": "object",
  "title": "PlaceVisitsCleared",
  "properties": {
    "clear_id": {"type": "string"},
    "removed": {"type": "integer", "minimum": 0},
    "cleared_at": {"type": "string", "format": "date-time"}
  },
  "required": ["clear_id", "removed", "cleared_at"],
  "additionalProperties": false
}`

var schemaCatalog = map[string]string{
	events.PlaceVisitRecordedType: placeVisitRecordedSchema,
	events.PlaceVisitsClearedType: placeVisitsClearedSchema,
}
