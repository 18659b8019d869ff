package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// DefaultTopic receives audit events when no topic is configured.
const DefaultTopic = "ksp.audit"

var errClosed = errors.New("audit sink closed")

// Kafka publishes events as JSON, keyed by entity id so the events of one
// entity stay ordered within a partition.
//
// Record hands the message to the producer without waiting. When the
// producer's input buffer is full, or the sink is closed, the event is
// dropped and logged.
type Kafka struct {
	producer sarama.AsyncProducer
	topic    string
	log      logrus.FieldLogger

	// mu guards closed and every send on the producer's input channel.
	mu     sync.Mutex
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewKafka connects an async producer to brokers.
func NewKafka(brokers []string, topic string, log logrus.FieldLogger) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaWithProducer(producer, topic, log), nil
}

// NewKafkaWithProducer wraps an existing producer, which must have
// Return.Errors enabled. The sink owns it from here on.
func NewKafkaWithProducer(p sarama.AsyncProducer, topic string, log logrus.FieldLogger) *Kafka {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	k := &Kafka{producer: p, topic: topic, log: log}
	k.wg.Add(1)
	go k.drainErrors()
	return k
}

func (k *Kafka) Record(_ context.Context, e ledger.AuditEvent) {
	value, err := json.Marshal(e)
	if err != nil {
		k.drop(e, err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.EntityID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("action"), Value: []byte(e.Action)},
		},
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		k.drop(e, errClosed)
		return
	}
	select {
	case k.producer.Input() <- msg:
	default:
		k.drop(e, fmt.Errorf("producer buffer full"))
	}
}

// Close flushes buffered messages and stops the producer.
func (k *Kafka) Close() error {
	var err error
	k.closeOnce.Do(func() {
		k.mu.Lock()
		k.closed = true
		k.mu.Unlock()
		err = k.producer.Close()
		k.wg.Wait()
	})
	return err
}

func (k *Kafka) drainErrors() {
	defer k.wg.Done()
	for perr := range k.producer.Errors() {
		k.log.WithFields(logrus.Fields{
			"topic": perr.Msg.Topic,
			"error": perr.Err.Error(),
		}).Error("audit event not delivered")
	}
}

func (k *Kafka) drop(e ledger.AuditEvent, err error) {
	k.log.WithFields(logrus.Fields{
		"action":    e.Action,
		"entity_id": e.EntityID,
		"error":     err.Error(),
	}).Warn("audit event dropped")
}
