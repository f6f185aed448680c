package kafka

import (
	"encoding/json"
	"time"

	"usedtrade/logger"
	"usedtrade/service/queue"
	"usedtrade/tools/errs"

	"github.com/Shopify/sarama"
)

// DeadLetter is the record mirrored to Kafka for an entry the consumers gave up on.
type DeadLetter struct {
	Stream     string         `json:"stream"`
	Group      string         `json:"group"`
	EntryID    string         `json:"entryId"`
	Deliveries int64          `json:"deliveries"`
	Reason     string         `json:"reason"`
	Values     map[string]any `json:"values"`
	FailedAt   time.Time      `json:"failedAt"`
}

// DeadLetterProducer mirrors dead-lettered stream entries to a topic so they
// can be inspected or replayed outside Redis.
type DeadLetterProducer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewDeadLetterProducer connects to the brokers and makes sure the topic exists.
func NewDeadLetterProducer(c Config) (*DeadLetterProducer, error) {
	c = c.withDefaults()
	client, err := sarama.NewClient(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err == nil {
		if err := EnsureTopic(admin, c.DeadLetterTopic, c); err != nil {
			logger.Warnf("[Kafka] ensure topic %s failed: %v", c.DeadLetterTopic, err)
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	return NewDeadLetterProducerWith(p, c.DeadLetterTopic), nil
}

func NewDeadLetterProducerWith(p sarama.SyncProducer, topic string) *DeadLetterProducer {
	return &DeadLetterProducer{producer: p, topic: topic}
}

// Publish sends the entry keyed by its room token.
func (d *DeadLetterProducer) Publish(group string, e queue.Entry, reason string) error {
	rec := DeadLetter{
		Stream:     e.Stream,
		Group:      group,
		EntryID:    e.ID,
		Deliveries: e.Deliveries,
		Reason:     reason,
		Values:     e.Values,
		FailedAt:   time.Now().UTC(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return errs.WrapMsg(err, "dead letter marshal")
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Value: sarama.ByteEncoder(b),
	}
	if room, ok := e.Values[queue.FieldRoomID].(string); ok && room != "" {
		msg.Key = sarama.StringEncoder(room)
	}
	partition, offset, err := d.producer.SendMessage(msg)
	if err != nil {
		return errs.WrapMsg(err, "dead letter send", "topic", d.topic, "id", e.ID)
	}
	logger.Debugf("[Kafka] dead letter sent id=%s partition=%d offset=%d", e.ID, partition, offset)
	return nil
}

func (d *DeadLetterProducer) Close() error {
	return d.producer.Close()
}
