package provider

import (
	"context"
	"errors"
	"log"
	"os"

	"example.com/placevisits/internal/domain"
)

// Recorder persists a normalized crossing.
type Recorder interface {
	Record(ctx context.Context, crossing domain.RawCrossing) (domain.PlaceVisitEvent, error)
}

// RecordingListener writes every callback into the event store. Crossings the store
// rejects are logged and dropped; any other failure is returned so the source
// redelivers.
type RecordingListener struct {
	recorder Recorder
	logger   *log.Logger
}

// NewRecordingListener constructs a listener over recorder. logger may be nil.
func NewRecordingListener(recorder Recorder, logger *log.Logger) *RecordingListener {
	if logger == nil {
		logger = log.New(os.Stdout, "[provider] ", log.LstdFlags|log.Lshortfile)
	}
	return &RecordingListener{recorder: recorder, logger: logger}
}

func (l *RecordingListener) OnRegionEntered(ctx context.Context, c domain.RawCrossing) error {
	return l.record(ctx, RegionEntered, c)
}

func (l *RecordingListener) OnRegionExited(ctx context.Context, c domain.RawCrossing) error {
	return l.record(ctx, RegionExited, c)
}

func (l *RecordingListener) OnCustomRegionEntry(ctx context.Context, c domain.RawCrossing) error {
	return l.record(ctx, CustomRegionEntered, c)
}

func (l *RecordingListener) OnCustomRegionExit(ctx context.Context, c domain.RawCrossing) error {
	return l.record(ctx, CustomRegionExited, c)
}

func (l *RecordingListener) record(ctx context.Context, n Notification, c domain.RawCrossing) error {
	event, err := l.recorder.Record(ctx, c)
	switch {
	case errors.Is(err, domain.ErrRejected):
		recordFailures.WithLabelValues(string(n), "rejected").Inc()
		l.logger.Printf("%s: dropping %q: %v", n, c.PlaceName, err)
		return nil
	case err != nil:
		recordFailures.WithLabelValues(string(n), "store").Inc()
		l.logger.Printf("%s: record %q failed: %v", n, c.PlaceName, err)
		return err
	}
	l.logger.Printf("%s: recorded %s %q at %d", n, event.Kind, event.PlaceName, event.Timestamp)
	return nil
}
