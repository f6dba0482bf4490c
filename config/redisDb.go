package config

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ConnectRedisWithRetry pings addr until it answers or maxAttempts is reached.
// maxAttempts <= 0 retries until ctx is done.
func ConnectRedisWithRetry(ctx context.Context, addr string, maxAttempts int) (*redis.Client, *redislock.Client, error) {
	if addr == "" {
		return nil, nil, errors.New("redis address is empty")
	}

	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: "",
			DB:       0, // use default DB
			PoolSize: 100,
		})
		err := rdb.Ping(ctx).Err()
		if err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, addr)
			return rdb, redislock.New(rdb), nil
		}
		_ = rdb.Close()

		if maxAttempts > 0 && attempt >= maxAttempts {
			return nil, nil, err
		}
		sleep := backoff(attempt)
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, addr, err, sleep)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func backoff(attempt int) time.Duration {
	sleep := time.Second * time.Duration(1<<min(attempt, 5))
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}
