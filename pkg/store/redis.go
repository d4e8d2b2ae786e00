package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions carries the connection settings resolved by the config layer.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects with the given options, defaulting the address to
// localhost. Returns an error when the server does not answer a ping within
// two seconds.
func NewRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}
