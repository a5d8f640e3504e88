package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trakwell-ai/websocket-notify/internal/config"
	"github.com/trakwell-ai/websocket-notify/internal/dispatch"
	"github.com/trakwell-ai/websocket-notify/internal/logger"
	"github.com/trakwell-ai/websocket-notify/internal/redis"
	"github.com/trakwell-ai/websocket-notify/internal/relay"
	"github.com/trakwell-ai/websocket-notify/internal/session"
	"github.com/trakwell-ai/websocket-notify/internal/transport"
)

const jobTimeout = 2 * time.Minute

type Infra struct {
	Redis      *redis.Client
	Store      *session.Store
	Hub        *transport.Hub
	Dispatcher *dispatch.Dispatcher
	Relay      *relay.Relay

	cron       *cron.Cron
	stopListen context.CancelFunc
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	redisClient, err := redis.New(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, err
	}

	logger.Info("redis ready", nil)

	index := session.NewIndex(redisClient.Client, cfg.TimeToLive)

	// Cold-start rebuild. The index is an optimization: a failed rebuild is
	// logged, not fatal, because readers fall back to scanning.
	if err := index.Rebuild(ctx); err != nil {
		logger.Error("presence index rebuild failed", map[string]any{
			"error": err.Error(),
		})
	}

	store := session.NewStore(redisClient.Client, index, cfg.TimeToLive)
	sweeper := session.NewSweeper(redisClient.Client, index, cfg.TimeToLive)

	hub := transport.NewHub()

	var private, public dispatch.Group
	if cfg.PrivateEnabled {
		private = hub.Group(session.RoomPrivate)
	}
	if cfg.PublicEnabled {
		public = hub.Group(session.RoomPublic)
	}
	dispatcher := dispatch.New(store, private, public)

	rly := relay.New(redisClient.Client, cfg.RelayChannel)

	listenCtx, stopListen := context.WithCancel(context.Background())
	go rly.Listen(listenCtx, func(userID, room string, n dispatch.Notification) {
		target, err := dispatch.ResolveTarget(userID, room)
		if err != nil {
			logger.Warn("relay: dropping envelope", map[string]any{
				"room":  room,
				"error": err.Error(),
			})
			return
		}
		dctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if _, err := dispatcher.Dispatch(dctx, target, n); err != nil {
			logger.Error("relay: dispatch failed", map[string]any{
				"error": err.Error(),
			})
		}
	})

	c := cron.New()
	_, err = c.AddFunc("@every "+cfg.SweepInterval.String(), func() {
		sctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		sum := sweeper.Sweep(sctx)
		logger.Info("sweep complete", map[string]any{
			"sessionsRemoved": sum.SessionsRemoved,
			"listsScanned":    sum.ListsScanned,
			"orphansRemoved":  sum.OrphansRemoved,
		})
	})
	if err != nil {
		stopListen()
		return nil, err
	}
	c.Start()

	return &Infra{
		Redis:      redisClient,
		Store:      store,
		Hub:        hub,
		Dispatcher: dispatcher,
		Relay:      rly,
		cron:       c,
		stopListen: stopListen,
	}, nil
}

func (i *Infra) Close() error {
	i.stopListen()
	<-i.cron.Stop().Done()
	return i.Redis.Close()
}
