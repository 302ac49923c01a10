package queue

import (
	"fmt"

	"go.uber.org/zap"
)

// Subjects carried on the queue. Session events fan out to the realtime hub
// and any external consumers; top-up events feed notification pipelines.
const (
	SubjectSessionStarted = "charging.session.started"
	SubjectSessionActive  = "charging.session.active"
	SubjectSessionStopped = "charging.session.stopped"
	SubjectSessionExpired = "charging.session.expired"
	SubjectSessionFailed  = "charging.session.failed"
	SubjectTopUpApproved  = "payment.topup.approved"
)

// MessageQueue defines the interface for a message queue adapter
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte) error) error
	Close() error
}

// New selects the queue backend by configuration. NATS is the default;
// RabbitMQ serves deployments that already run an AMQP broker.
func New(kind, natsURL, amqpURL string, log *zap.Logger) (MessageQueue, error) {
	switch kind {
	case "", "nats":
		return NewNATSQueue(natsURL, log)
	case "rabbitmq":
		return NewRabbitMQQueue(amqpURL, log)
	default:
		return nil, fmt.Errorf("unknown queue kind %q", kind)
	}
}
