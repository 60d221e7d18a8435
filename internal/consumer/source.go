package consumer

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/placevisits/internal/provider"
)

// SourceConfig describes the crossing topic subscription.
type SourceConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaSource is a provider.Source that consumes the crossing topic. Each Run
// opens a fresh reader so a stopped monitor holds no broker connections.
type KafkaSource struct {
	newReader func() Reader
	logger    *log.Logger
	opts      []Option
}

// NewKafkaSource constructs a source for cfg. logger may be nil.
func NewKafkaSource(cfg SourceConfig, logger *log.Logger, opts ...Option) *KafkaSource {
	return &KafkaSource{
		newReader: func() Reader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:        cfg.Brokers,
				Topic:          cfg.Topic,
				GroupID:        cfg.GroupID,
				MinBytes:       1,
				MaxBytes:       10e6,
				CommitInterval: 0,
				MaxWait:        500 * time.Millisecond,
			})
		},
		logger: logger,
		opts:   opts,
	}
}

// NewReaderSource wraps a custom reader factory.
func NewReaderSource(newReader func() Reader, logger *log.Logger, opts ...Option) *KafkaSource {
	return &KafkaSource{newReader: newReader, logger: logger, opts: opts}
}

// Run implements provider.Source.
func (s *KafkaSource) Run(ctx context.Context, sink provider.Sink) error {
	reader := s.newReader()
	defer func() {
		if err := reader.Close(); err != nil && s.logger != nil {
			s.logger.Printf("close reader: %v", err)
		}
	}()
	opts := append([]Option{WithLogger(s.logger)}, s.opts...)
	return NewProcessor(reader, NewCrossingHandler(sink), opts...).Run(ctx)
}
