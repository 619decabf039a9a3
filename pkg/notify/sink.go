package notify

import (
	"context"
	"errors"
	"log"

	"library-lending/pkg/metrics"
)

// Sink delivers a message somewhere a person will see it.
type Sink interface {
	Deliver(ctx context.Context, m Message) error
}

type LogSink struct{}

func (LogSink) Deliver(_ context.Context, m Message) error {
	log.Printf("[notify] %s -> %s :: %s :: %s", m.Kind, m.Recipient, m.Title, m.Body)
	return nil
}

// Fanout hands every message to each sink in turn. A failing sink does not
// stop the others.
type Fanout struct {
	Sinks   []Sink
	Metrics *metrics.Metrics
}

func (f Fanout) Deliver(ctx context.Context, m Message) error {
	var errs []error
	for _, s := range f.Sinks {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	f.Metrics.Delivered(m.Kind)
	return errors.Join(errs...)
}

// ChanSink queues messages for a single reader, such as a streaming HTTP
// response. When the buffer is full the message is dropped and logged.
type ChanSink struct {
	ch chan Message
}

func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{ch: make(chan Message, buffer)}
}

func (s *ChanSink) C() <-chan Message { return s.ch }

func (s *ChanSink) Deliver(_ context.Context, m Message) error {
	select {
	case s.ch <- m:
	default:
		log.Printf("[notify] stream buffer full, dropping %s for %s", m.Kind, m.Recipient)
	}
	return nil
}

// Publisher is the part of mq.Publisher the AMQP sink needs.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// AMQPSink publishes each message on routing key notify.<audience>.<kind>.
type AMQPSink struct {
	Pub Publisher
}

func RoutingKey(m Message) string {
	return "notify." + string(m.Audience) + "." + m.Kind
}

func (s AMQPSink) Deliver(ctx context.Context, m Message) error {
	return s.Pub.PublishJSON(ctx, RoutingKey(m), m)
}
