/*
Package audit provides ledger.AuditSink implementations.

PURPOSE:
  Every state change in the engine produces one ledger.AuditEvent after its
  unit of work commits. Sinks deliver those events somewhere durable. A sink
  never blocks the caller for long and never fails the operation: delivery
  problems are logged and the event is dropped.

SINKS:
  Kafka: JSON events on a topic through a sarama async producer
  Log:   one structured logrus line per event
  Multi: fan-out to several sinks in order

SEE ALSO:
  - ledger/ports.go: AuditSink and AuditEvent
*/
package audit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// Log writes events to a logrus logger.
type Log struct {
	log logrus.FieldLogger
}

func NewLog(log logrus.FieldLogger) *Log {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Log{log: log}
}

func (l *Log) Record(_ context.Context, e ledger.AuditEvent) {
	l.log.WithFields(logrus.Fields{
		"action":    e.Action,
		"entity":    e.Entity,
		"entity_id": e.EntityID,
		"actor_id":  e.ActorID,
		"ip":        e.IP,
		"at":        e.At,
	}).Info("audit")
}

// Multi records to each sink in order.
type Multi []ledger.AuditSink

func (m Multi) Record(ctx context.Context, e ledger.AuditEvent) {
	for _, s := range m {
		s.Record(ctx, e)
	}
}
