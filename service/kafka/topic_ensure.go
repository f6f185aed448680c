package kafka

import (
	"errors"

	"usedtrade/logger"
	"usedtrade/tools/errs"

	"github.com/Shopify/sarama"
)

// EnsureTopic creates topic when it does not exist yet.
func EnsureTopic(admin sarama.ClusterAdmin, topic string, c Config) error {
	c = c.withDefaults()
	desc, err := admin.DescribeTopics([]string{topic})
	if err == nil && len(desc) == 1 && desc[0].Err == sarama.ErrNoError {
		logger.Infof("[Kafka] topic exists: %s (partitions=%d)", topic, len(desc[0].Partitions))
		return nil
	}
	td := &sarama.TopicDetail{
		NumPartitions:     c.Partitions,
		ReplicationFactor: c.ReplicationFactor,
		ConfigEntries: map[string]*string{
			"cleanup.policy":   strPtr("delete"),
			"compression.type": strPtr("producer"),
		},
	}
	if err := admin.CreateTopic(topic, td, false); err != nil {
		var te *sarama.TopicError
		if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
			logger.Infof("[Kafka] topic exists (race): %s", topic)
			return nil
		}
		return errs.WrapMsg(err, "create topic", "topic", topic)
	}
	logger.Infof("[Kafka] topic created: %s (partitions=%d, rf=%d)", topic, c.Partitions, c.ReplicationFactor)
	return nil
}

func strPtr(s string) *string { return &s }
