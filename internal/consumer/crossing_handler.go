package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"example.com/placevisits/internal/domain"
	"example.com/placevisits/internal/provider"
	"example.com/placevisits/pkg/events"
)

// CrossingHandler decodes crossing payloads and dispatches them to the provider sink.
type CrossingHandler struct {
	sink provider.Sink
}

// NewCrossingHandler constructs a handler that forwards into sink.
func NewCrossingHandler(sink provider.Sink) *CrossingHandler {
	return &CrossingHandler{sink: sink}
}

// Handle forwards one crossing. Records for unknown notification types are skipped;
// sink failures are returned for retry.
func (h *CrossingHandler) Handle(ctx context.Context, msg Message) error {
	n, err := provider.ParseNotification(msg.EventType)
	if err != nil {
		recordSkipped(msg)
		return nil
	}

	var crossing events.VisitCrossing
	if err := json.Unmarshal(msg.Payload, &crossing); err != nil {
		return fmt.Errorf("%w: decode crossing at offset %d: %v", ErrMalformed, msg.Offset, err)
	}

	err = h.sink.Dispatch(ctx, n, ToRawCrossing(crossing))
	if errors.Is(err, provider.ErrUnknownNotification) {
		return nil
	}
	return err
}

// ToRawCrossing maps the wire record onto the domain input.
func ToRawCrossing(c events.VisitCrossing) domain.RawCrossing {
	return domain.RawCrossing{
		PlaceName:           c.PlaceName,
		PlaceID:             c.PlaceID,
		VisitID:             c.VisitID,
		ArrivalTimeMillis:   c.ArrivalTimeMillis,
		DepartureTimeMillis: c.DepartureTimeMillis,
	}
}
