// Package global connects the process to its backing services from the
// loaded configuration.
package global

import (
	"context"
	"net"
	"os"
	"strconv"

	"usedtrade/data/database/mgo/mongoutil"
	"usedtrade/data/database/sqldb"
	"usedtrade/global/config"
	"usedtrade/logger"
	"usedtrade/module/chat/consumer"
	"usedtrade/module/chat/directory"
	"usedtrade/module/chat/model"
	"usedtrade/service/kafka"
	"usedtrade/service/nacos"
	"usedtrade/service/natsx"
	redis "usedtrade/service/storage/redis"
	"usedtrade/tools/ids"

	"gorm.io/gorm"
)

func ConfigLogger(c config.AppConfig) {
	logger.SetLevel(c.Log.Level)
}

func ConfigIds(c config.AppConfig) {
	ids.SetNodeID(c.Server.NodeID)
}

func ConfigRedis(c config.AppConfig) error {
	return redis.InitRedis(redis.Config{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		PoolSize: c.Redis.PoolSize,
	})
}

// ConfigDB opens the relational store. Only the chat tables are migrated;
// users and listings belong to other services.
func ConfigDB(c config.AppConfig) (*gorm.DB, error) {
	cfg := sqldb.Config{
		Driver:       c.Database.Driver,
		DSN:          c.Database.DSN,
		MaxOpenConns: c.Database.MaxOpenConns,
	}
	if c.Database.AutoMigrate {
		cfg.Models = model.Owned()
	}
	return sqldb.Open(cfg)
}

// ConfigUsers picks the user directory: mongo when enabled, else the users
// table. The returned close func is never nil.
func ConfigUsers(ctx context.Context, c config.AppConfig, db *gorm.DB) (directory.Users, func(context.Context) error, error) {
	if !c.Mongo.Enabled {
		return directory.NewSQLUsers(db), func(context.Context) error { return nil }, nil
	}
	cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
		Uri:         c.Mongo.URI,
		Database:    c.Mongo.Database,
		MaxPoolSize: c.Mongo.MaxPoolSize,
		MaxRetry:    3,
	})
	if err != nil {
		return nil, nil, err
	}
	users := directory.NewMongoUsers(cli.GetDB(), c.Mongo.Collection)
	if err := users.EnsureIndexes(ctx); err != nil {
		logger.Warnf("[Mongo] ensure indexes: %v", err)
	}
	logger.Infof("[Mongo] user directory database=%s collection=%s", c.Mongo.Database, c.Mongo.Collection)
	return users, cli.Close, nil
}

// ConfigKafka returns the dead-letter mirror, nil when kafka is disabled.
func ConfigKafka(c config.AppConfig) (*kafka.DeadLetterProducer, error) {
	if !c.Kafka.Enabled {
		return nil, nil
	}
	return kafka.NewDeadLetterProducer(kafka.Config{
		Brokers:         c.Kafka.Brokers,
		DeadLetterTopic: c.Kafka.DeadLetterTopic,
		Retries:         c.Kafka.Retries,
		Compression:     c.Kafka.Compression,
	})
}

// ConfigNats returns the broadcast relay, nil when nats is disabled.
func ConfigNats(c config.AppConfig) (*natsx.Relay, func(), error) {
	if !c.Nats.Enabled {
		return nil, func() {}, nil
	}
	nc, err := natsx.Connect(natsx.Config{Servers: c.Nats.Servers, Name: c.Nats.Name})
	if err != nil {
		return nil, nil, err
	}
	relay := natsx.NewRelay(nc, c.Nats.Subject, NodeName(c))
	return relay, func() {
		_ = relay.Stop()
		nc.Close()
	}, nil
}

// QueueOptions maps the queue section onto the consumer knobs.
func QueueOptions(c config.AppConfig) consumer.Options {
	return consumer.Options{
		Batch:         c.Queue.Batch,
		Block:         c.Queue.Block,
		ClaimIdle:     c.Queue.ClaimIdle,
		MaxDeliveries: c.Queue.MaxDeliveries,
	}
}

// Nacos is the optional remote side: a config watcher and this node's
// registration.
type Nacos struct {
	Watcher  *nacos.Watcher
	Registry *nacos.Registry
}

// ConfigNacos starts watching the remote config and registers the node.
// onChange receives every configuration that passed validation.
func ConfigNacos(c config.AppConfig, port uint64, onChange func(config.AppConfig)) (*Nacos, error) {
	if !c.Nacos.Enabled {
		return nil, nil
	}
	opts := nacos.Options{Host: c.Nacos.Host, Port: c.Nacos.Port, Namespace: c.Nacos.Namespace}
	cc, err := nacos.NewConfigClient(opts)
	if err != nil {
		return nil, err
	}
	w := nacos.NewWatcher(cc, c.Nacos.DataID, c.Nacos.Group, func(content []byte) error {
		next, err := config.Overlay(content)
		if err != nil {
			return err
		}
		onChange(next)
		return nil
	})
	if err := w.Start(); err != nil {
		return nil, err
	}
	n := &Nacos{Watcher: w}

	nc, err := nacos.NewNamingClient(opts)
	if err != nil {
		logger.Warnf("[Nacos] naming client: %v", err)
		return n, nil
	}
	n.Registry = nacos.NewRegistry(nc, "usedtrade-chat", hostIP(), port).WithNode(c.Server.NodeID)
	if err := n.Registry.Register(); err != nil {
		logger.Warnf("[Nacos] register: %v", err)
		n.Registry = nil
	}
	return n, nil
}

func (n *Nacos) Close() {
	if n == nil {
		return
	}
	if n.Registry != nil {
		if err := n.Registry.Deregister(); err != nil {
			logger.Warnf("[Nacos] deregister: %v", err)
		}
	}
	if err := n.Watcher.Stop(); err != nil {
		logger.Warnf("[Nacos] stop watcher: %v", err)
	}
}

// NodeName identifies this process in relay headers and consumer names.
func NodeName(c config.AppConfig) string {
	host, _ := os.Hostname()
	if host == "" {
		host = "node"
	}
	return host + "-" + strconv.FormatInt(c.Server.NodeID, 10)
}

// hostIP is the address announced to nacos: $POD_IP, else the first
// non-loopback IPv4 address.
func hostIP() string {
	if ip := os.Getenv("POD_IP"); ip != "" {
		return ip
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok && !n.IP.IsLoopback() && n.IP.To4() != nil {
			return n.IP.String()
		}
	}
	return "127.0.0.1"
}
