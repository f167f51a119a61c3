package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/contentsquare/counterd/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the configured redis and checks it's reachable.
// A single address gives a plain client, several give a cluster client.
func NewRedisClient(cfg config.Redis) (redis.UniversalClient, error) {
	timeout := time.Duration(cfg.Timeout)
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return r, nil
}
