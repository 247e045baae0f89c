/*
Package notifier publishes change notifications of the backend

Every successful write on a collection is published as a JSON event to a Kafka
topic. The resource path is used as message key, so all events of a collection
land on the same partition in order.
*/
package notifier

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/restifier/core"
	"github.com/relabs-tech/restifier/core/logger"
)

// Event is the message value of a notification
type Event struct {
	Resource  string          `json:"resource"`
	Operation core.Operation  `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// messageWriter is the part of kafka.Writer the notifier uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka is a core.Notifier which writes events to a Kafka topic
type Kafka struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafka returns a notifier for topic on brokers. Messages are written
// asynchronously; delivery failures are logged.
func NewKafka(brokers []string, topic string) *Kafka {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Default().WithError(err).Errorf("Error 4790: cannot deliver %d notifications", len(messages))
			}
		},
	}
	return &Kafka{writer: writer, timeout: 10 * time.Second}
}

// Notify implements core.Notifier
func (k *Kafka) Notify(resource string, operation core.Operation, payload []byte) {
	if !json.Valid(payload) {
		logger.Default().Errorf("Error 4791: invalid notification payload for %s %s", operation, resource)
		return
	}
	value, err := json.Marshal(Event{
		Resource:  resource,
		Operation: operation,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logger.Default().WithError(err).Errorln("Error 4792: cannot marshal notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource),
		Value: value,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(operation)},
		},
	})
	if err != nil {
		logger.Default().WithError(err).Errorf("Error 4793: cannot publish notification for %s %s", operation, resource)
	}
}

// Close flushes pending messages and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
