package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers           []string
	DeadLetterTopic   string
	Retries           int
	Compression       string // none/snappy/lz4/zstd
	Partitions        int32
	ReplicationFactor int16
	Version           sarama.KafkaVersion
}

func (c Config) withDefaults() Config {
	if c.DeadLetterTopic == "" {
		c.DeadLetterTopic = "chat.dead-letter"
	}
	if c.Retries <= 0 {
		c.Retries = 1
	}
	if c.Partitions <= 0 {
		c.Partitions = 1
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.Version == (sarama.KafkaVersion{}) {
		c.Version = sarama.V2_1_0_0
	}
	return c
}

// BuildBaseConfig is the producer configuration used for the dead-letter mirror.
func BuildBaseConfig(c Config) *sarama.Config {
	c = c.withDefaults()
	cfg := sarama.NewConfig()
	cfg.Version = c.Version

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.Retries
	// the key is the room token, so one room keeps its order
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
