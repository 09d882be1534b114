package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/config"
	"github.com/iliyamo/temple-portals/internal/database"
	"github.com/iliyamo/temple-portals/internal/queue"
	"github.com/iliyamo/temple-portals/internal/redisfeed"
	"github.com/iliyamo/temple-portals/internal/store"
	"github.com/iliyamo/temple-portals/internal/store/memstore"
	"github.com/iliyamo/temple-portals/internal/store/mysqlstore"
)

// backend is the store and the optional Redis client of one process.
type backend struct {
	store   store.Store
	redis   *redis.Client
	closers []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

// openBackend builds the store selected by FEED_BACKEND. The memory
// backend needs no external services and keeps Redis off.
func openBackend(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*backend, error) {
	if cfg.FeedBackend == config.FeedMemory {
		logger.Warn("FEED_BACKEND=memory: data lives in this process only")
		return &backend{store: memstore.New()}, nil
	}
	return openDurable(ctx, cfg, logger)
}

// openDurable connects MySQL and the configured change broker.
func openDurable(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*backend, error) {
	if cfg.FeedBackend == config.FeedMemory {
		return nil, errors.New("this command needs FEED_BACKEND=redis or amqp")
	}
	b := &backend{}
	rdb := config.NewRedisClient(cfg)
	if rdb != nil {
		b.redis = rdb
		b.closers = append(b.closers, rdb.Close)
	} else {
		logger.WithField("addr", cfg.RedisAddr).Warn("redis unreachable: rate limiting and approval locks disabled")
	}

	var broker mysqlstore.Broker
	switch cfg.FeedBackend {
	case config.FeedRedis:
		if rdb == nil {
			b.Close()
			return nil, fmt.Errorf("FEED_BACKEND=redis but redis at %s is unreachable", cfg.RedisAddr)
		}
		rb := redisfeed.New(rdb, logger)
		b.closers = append(b.closers, rb.Close)
		broker = rb
	case config.FeedAMQP:
		qb := queue.New(cfg.AMQPURL, logger)
		b.closers = append(b.closers, qb.Close)
		broker = qb
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The database closes after the brokers: closers run in reverse.
	b.closers = append([]func() error{db.Close}, b.closers...)
	if err := ctx.Err(); err != nil {
		b.Close()
		return nil, err
	}
	b.store = mysqlstore.New(db, broker, logger)
	return b, nil
}
