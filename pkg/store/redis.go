// pkg/store/redis.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmp/vatevents/pkg/log"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on a Redis server, with sentinel firing observed
// through keyspace notifications. The pub/sub subscription runs on its own
// connection; a blocking subscribe cannot share a connection with regular
// commands.
type Redis struct {
	client *redis.Client
	db     int
	lg     *log.Logger
}

func NewRedis(ctx context.Context, url string, lg *log.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", url, err)
	}

	return &Redis{client: client, db: opts.DB, lg: lg}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *Redis) Arm(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.Expire(ctx, key, ttl).Result()
}

func (r *Redis) SubscribeExpiries(ctx context.Context) (<-chan string, error) {
	// Expired-key events are off by default; turning them on is
	// best-effort since managed servers commonly forbid CONFIG SET and
	// have it enabled out of band.
	if err := r.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		r.lg.Warnf("notify-keyspace-events: %v", err)
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", r.db)
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%s: %w", channel, err)
	}

	ch := make(chan string, 64)
	go func() {
		defer close(ch)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				select {
				case ch <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
