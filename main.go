package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"usedtrade/global"
	"usedtrade/global/config"
	"usedtrade/logger"
	"usedtrade/middleware"
	midsec "usedtrade/middleware/security"
	"usedtrade/module/chat/api"
	"usedtrade/module/chat/consumer"
	"usedtrade/module/chat/directory"
	"usedtrade/module/chat/repo"
	"usedtrade/module/chat/service"
	"usedtrade/service/chat"
	"usedtrade/service/chat/handlers"
	"usedtrade/service/health"
	"usedtrade/service/queue"
	"usedtrade/service/storage"
	redis "usedtrade/service/storage/redis"
	"usedtrade/tools/chrono"
	"usedtrade/tools/codec"
	"usedtrade/tools/errs"
	"usedtrade/tools/safe"
	"usedtrade/tools/security"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("[Boot] load config", zap.Error(err))
		os.Exit(1)
	}
	global.ConfigLogger(cfg)
	global.ConfigIds(cfg)

	display, err := chrono.NewDisplay(cfg.Server.DisplayOffset)
	must(err, "display offset")
	roomCodec, err := codec.NewRoomCodec([]byte(cfg.Codec.Key))
	must(err, "room codec")

	must(global.ConfigRedis(cfg), "redis")
	rdb := redis.GetRedis()
	db, err := global.ConfigDB(cfg)
	must(err, "database")
	repos := repo.New(db)

	ctx := context.Background()
	users, closeUsers, err := global.ConfigUsers(ctx, cfg, db)
	must(err, "user directory")

	deadLetters, err := global.ConfigKafka(cfg)
	if err != nil {
		logger.Warnf("[Boot] kafka dead-letter mirror disabled: %v", err)
	}
	relay, closeNats, err := global.ConfigNats(cfg)
	if err != nil {
		logger.Warnf("[Boot] nats relay disabled, broadcasts stay on this node: %v", err)
		relay, closeNats = nil, func() {}
	}

	index := storage.NewMessageIndex(rdb, cfg.Cache.TTL)
	detail := storage.NewDetailStore(rdb, cfg.Cache.TTL)
	sessions := storage.NewSessionTracker(rdb, cfg.Session.TTL)
	readPoints := service.NewReadPointStore(storage.NewReadPointCache(rdb), repos.ReadPoints)
	q := queue.NewClient(rdb, cfg.Queue.MaxLen)

	if n, err := readPoints.WarmAll(ctx); err != nil {
		logger.Warnf("[Boot] read point warm-up: %v", err)
	} else {
		logger.Infof("[Boot] warmed %d read points", n)
	}

	svc := service.New(service.Deps{
		Codec:      roomCodec,
		Repos:      repos,
		Index:      index,
		Detail:     detail,
		ReadPoints: readPoints,
		Users:      users,
		Listings:   directory.NewSQLListings(db),
		Display:    display,
	})

	// consumers
	consumerName := cfg.Queue.ConsumerPrefix + "-" + global.NodeName(cfg)
	sup := consumer.NewSupervisor(q, global.QueueOptions(cfg), consumer.NewHandlers(roomCodec, repos).Pipelines(consumerName)...)
	if deadLetters != nil {
		sup.WithDeadLetterSink(deadLetters)
	}
	must(sup.Start(ctx), "consumers")

	// gateway
	var fanout chat.Relay
	if relay != nil {
		fanout = relay
	}
	gateway := chat.NewServer(chat.Config{
		AllowedOrigins: cfg.WS.AllowedOrigins,
		SendQueue:      cfg.WS.SendQueue,
		PingInterval:   cfg.WS.PingInterval,
		WriteWait:      cfg.WS.WriteWait,
		MaxFrameSize:   cfg.WS.MaxFrameSize,
	}, fanout, sessions)
	handlers.RegisterAll(gateway, &handlers.Deps{
		Codec:              roomCodec,
		Queue:              q,
		Sessions:           sessions,
		Index:              index,
		Detail:             detail,
		ReadPoints:         readPoints,
		Display:            display,
		JWT:                jwtOptions(cfg),
		AllowAnonymousSend: cfg.WS.AllowAnonymousSend,
	})
	if relay != nil {
		err := relay.Start(func(roomID string, body []byte) {
			gateway.Broadcaster().Deliver(roomID, body)
		})
		if err != nil {
			logger.Warnf("[Boot] nats relay subscribe: %v", err)
		}
	}

	// http
	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	middleware.Manager().Add(middleware.AccessLog())
	r.Use(gin.Recovery(), middleware.Manager().Use())
	r.GET("/ws", middleware.Origin(cfg.WS.AllowedOrigins), gateway.HandleWS)
	auth := midsec.DefaultOptions([]byte(cfg.JWT.Secret))
	auth.JWT = jwtOptions(cfg)
	api.NewServer(svc, display).Register(r, midsec.Middleware(auth))

	httpSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: r}
	safe.Go("http", func() {
		logger.Infof("[HTTP] listening on %s", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errs.Is(err, http.ErrServerClosed) {
			logger.Error("[HTTP] serve", zap.Error(err))
		}
	})

	// grpc health
	hs := health.NewServer(health.Config{})
	hs.AddProbe("redis", redis.Ping)
	hs.AddProbe("database", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	must(err, "grpc listen")
	safe.Go("grpc", func() {
		if err := hs.Serve(lis); err != nil {
			logger.Error("[Health] serve", zap.Error(err))
		}
	})

	// nacos
	nacosNode, err := global.ConfigNacos(cfg, httpPort(cfg.Server.HTTPAddr), func(next config.AppConfig) {
		global.ConfigLogger(next)
		sup.Tune(global.QueueOptions(next))
	})
	if err != nil {
		logger.Warnf("[Boot] nacos disabled: %v", err)
	}

	logger.Infof("[Boot] chat node %s started", global.NodeName(cfg))

	wait := gfshutdown.GracefulShutdown(ctx, cfg.Server.ShutdownTimeout, map[string]gfshutdown.Operation{
		"chat": func(ctx context.Context) error {
			nacosNode.Close()
			if err := httpSrv.Shutdown(ctx); err != nil {
				logger.Warnf("[Shutdown] http: %v", err)
			}
			gateway.Close()
			closeNats()
			if err := sup.Shutdown(ctx); err != nil {
				logger.Warnf("[Shutdown] consumers: %v", err)
			}
			hs.Stop(ctx)
			if deadLetters != nil {
				_ = deadLetters.Close()
			}
			if err := closeUsers(ctx); err != nil {
				logger.Warnf("[Shutdown] mongo: %v", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
			return redis.CloseRedis()
		},
	})
	code := <-wait
	logger.Infof("[Boot] exited with code %d", code)
	logger.Sync()
	os.Exit(code)
}

func jwtOptions(cfg config.AppConfig) security.Options {
	opts := security.DefaultOptions([]byte(cfg.JWT.Secret))
	if cfg.JWT.Alg != "" {
		opts.Alg = cfg.JWT.Alg
	}
	return opts
}

func httpPort(addr string) uint64 {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, _ := strconv.ParseUint(port, 10, 64)
	return p
}

func must(err error, what string) {
	if err != nil {
		logger.Error("[Boot] "+what, zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
