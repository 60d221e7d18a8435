package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/placevisits/pkg/events"
)

type stubProducer struct {
	mu       sync.Mutex
	err      error
	byTopic  map[string][]kafka.Message
	topicSeq []string
}

func (p *stubProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.byTopic == nil {
		p.byTopic = make(map[string][]kafka.Message)
	}
	p.byTopic[topic] = append(p.byTopic[topic], msgs...)
	p.topicSeq = append(p.topicSeq, topic)
	return nil
}

type schemaCall struct {
	subject string
	schema  string
}

type stubRegistry struct {
	mu    sync.Mutex
	calls []schemaCall
	id    int
	err   error
}

func (s *stubRegistry) EnsureSchema(_ context.Context, subject string, schema string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, schemaCall{subject: subject, schema: schema})
	if s.err != nil {
		return 0, s.err
	}
	if s.id == 0 {
		s.id = 1
	}
	return s.id, nil
}

func newTestDispatcher(producer messageWriter, registry schemaRegistrar) *Dispatcher {
	d := NewDispatcher(nil, producer, registry, time.Second, 10, WithLogger(log.New(io.Discard, "", 0)))
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	return d
}

func TestDeliverFramesPayloadAndSetsHeaders(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 17}
	d := newTestDispatcher(producer, registry)

	msgs := []Message{
		{EventID: 1, EventType: events.PlaceVisitRecordedType, Topic: "place_visit_events", SchemaSubject: "place_visit_events-PlaceVisitRecorded", PartitionKey: "Store A", Payload: []byte(`{"event_id":"a"}`)},
		{EventID: 2, EventType: events.PlaceVisitRecordedType, Topic: "place_visit_events", SchemaSubject: "place_visit_events-PlaceVisitRecorded", PartitionKey: "Store B", Payload: []byte(`{"event_id":"b"}`)},
	}
	require.NoError(t, d.deliver(context.Background(), msgs))

	written := producer.byTopic["place_visit_events"]
	require.Len(t, written, 2)
	require.Equal(t, []byte("Store A"), written[0].Key)
	require.Equal(t, byte(0), written[0].Value[0])
	require.Equal(t, uint32(17), binary.BigEndian.Uint32(written[0].Value[1:5]))
	require.JSONEq(t, `{"event_id":"a"}`, string(written[0].Value[5:]))
	require.Contains(t, written[0].Headers, kafka.Header{Key: "event_type", Value: []byte(events.PlaceVisitRecordedType)})

	// schema id cached after first lookup
	require.Len(t, registry.calls, 1)
	require.Equal(t, placeVisitRecordedSchema, registry.calls[0].schema)
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	producer := &stubProducer{}
	d := newTestDispatcher(producer, &stubRegistry{})

	err := d.deliver(context.Background(), []Message{{EventType: "unknown", Topic: "t"}})
	require.Error(t, err)
	require.Empty(t, producer.byTopic)
}

func TestDeliverPropagatesRegistryAndProducerErrors(t *testing.T) {
	msg := Message{EventType: events.PlaceVisitsClearedType, Topic: "place_visit_events", SchemaSubject: "place_visit_events-PlaceVisitsCleared", Payload: []byte(`{}`)}

	d := newTestDispatcher(&stubProducer{}, &stubRegistry{err: errors.New("registry down")})
	require.ErrorContains(t, d.deliver(context.Background(), []Message{msg}), "registry down")

	d = newTestDispatcher(&stubProducer{err: errors.New("broker down")}, &stubRegistry{})
	require.ErrorContains(t, d.deliver(context.Background(), []Message{msg}), "broker down")
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	m := NewDLQManager(nil, 3, time.Minute, log.New(io.Discard, "", 0))
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 2*time.Minute, m.backoffDelay(2))
	require.Equal(t, 4*time.Minute, m.backoffDelay(3))
	require.Equal(t, time.Hour, m.backoffDelay(10))
	require.Equal(t, time.Hour, m.backoffDelay(64))
}
