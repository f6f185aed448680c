package config

import "time"

type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Codec    CodecConfig    `mapstructure:"codec"`
	Queue    QueueConfig    `mapstructure:"queue"`
	WS       WSConfig       `mapstructure:"ws"`
	Session  SessionConfig  `mapstructure:"session"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Nats     NatsConfig     `mapstructure:"nats"`
	Nacos    NacosConfig    `mapstructure:"nacos"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	NodeID          int64         `mapstructure:"node_id"`
	DisplayOffset   string        `mapstructure:"display_offset"` // e.g. "+09:00"
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres | sqlite
	DSN          string `mapstructure:"dsn"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type MongoConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	Collection  string `mapstructure:"collection"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Alg    string `mapstructure:"alg"`
}

type CodecConfig struct {
	Key string `mapstructure:"key"`
}

type QueueConfig struct {
	Batch          int64         `mapstructure:"batch"`
	Block          time.Duration `mapstructure:"block"`
	ClaimIdle      time.Duration `mapstructure:"claim_idle"`
	MaxDeliveries  int64         `mapstructure:"max_deliveries"`
	MaxLen         int64         `mapstructure:"max_len"`
	ConsumerPrefix string        `mapstructure:"consumer_prefix"`
}

type WSConfig struct {
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	SendQueue          int           `mapstructure:"send_queue"`
	PingInterval       time.Duration `mapstructure:"ping_interval"`
	WriteWait          time.Duration `mapstructure:"write_wait"`
	MaxFrameSize       int64         `mapstructure:"max_frame_size"`
	AllowAnonymousSend bool          `mapstructure:"allow_anonymous_send"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Brokers         []string `mapstructure:"brokers"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
	Compression     string   `mapstructure:"compression"`
	Retries         int      `mapstructure:"retries"`
}

type NatsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Servers []string `mapstructure:"servers"`
	Name    string   `mapstructure:"name"`
	Subject string   `mapstructure:"subject"`
}

type NacosConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      uint64 `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	DataID    string `mapstructure:"data_id"`
	Group     string `mapstructure:"group"`
}
