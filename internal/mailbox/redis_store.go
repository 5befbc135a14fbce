package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pjdir/internal/constants"
)

// RedisStore backs mailbox slots with Redis: SET with TTL for slots and
// pub/sub channels for long-poll wakeups. Because every relay process
// talks to the same backend, atomicity comes from Redis itself.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(host, port, username, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Username: username,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func slotKey(id string, dir Direction) string {
	return constants.RedisKeyPrefix + id + ":" + string(dir)
}

func notifyChannel(id string, dir Direction) string {
	return constants.RedisChanPrefix + id + ":" + string(dir)
}

func (st *RedisStore) Put(ctx context.Context, id string, dir Direction, payload []byte, ttl time.Duration) error {
	if err := st.client.Set(ctx, slotKey(id, dir), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	// Publish strictly after the write is acknowledged so a woken waiter
	// always finds the data it was told about.
	if err := st.client.Publish(ctx, notifyChannel(id, dir), "").Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (st *RedisStore) Get(ctx context.Context, id string, dir Direction) ([]byte, error) {
	var data string
	var err error
	if dir.consumeOnRead() {
		data, err = st.client.GetDel(ctx, slotKey(id, dir)).Result()
	} else {
		data, err = st.client.Get(ctx, slotKey(id, dir)).Result()
	}
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return []byte(data), nil
}

func (st *RedisStore) WaitFor(ctx context.Context, id string, dir Direction) ([]byte, error) {
	sub := st.client.Subscribe(ctx, notifyChannel(id, dir))
	defer sub.Close()

	// Confirm the subscription is live before the re-check below, which
	// closes the race where the payload lands between an initial read
	// and the subscribe.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	if payload, err := st.Get(ctx, id, dir); err != nil || payload != nil {
		return payload, err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			// Deadline elapsed or caller went away. Not an error.
			return nil, nil
		case _, ok := <-ch:
			if !ok {
				return nil, fmt.Errorf("redis subscription closed")
			}
			payload, err := st.Get(ctx, id, dir)
			if err != nil || payload != nil {
				return payload, err
			}
			// Spurious wake (another waiter consumed first); keep waiting.
		}
	}
}

func (st *RedisStore) Close() error {
	return st.client.Close()
}
