package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/config"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
)

var (
	cacheClient *redis.Client
	cacheOnce   sync.Once
)

// GetRedis returns the shared extraction cache client. Timeouts are short:
// a slow cache turns into misses, not into slow redaction.
func GetRedis(cfg *config.Config) *redis.Client {
	cacheOnce.Do(func() {
		cacheClient = redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		})

		if err := PingRedis(context.Background()); err != nil {
			logger.Log.WithError(err).Warn("Redis unavailable, extraction results will not be cached")
			return
		}
		logger.Log.WithField("addr", cacheClient.Options().Addr).Info("Connected to Redis")
	})

	return cacheClient
}

// PingRedis reports whether the extraction cache answers.
func PingRedis(ctx context.Context) error {
	if cacheClient == nil {
		return errors.New("redis not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return cacheClient.Ping(ctx).Err()
}

func CloseRedis() error {
	if cacheClient == nil {
		return nil
	}
	return cacheClient.Close()
}
