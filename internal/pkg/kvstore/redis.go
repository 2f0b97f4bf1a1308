package kvstore

import (
	"context"
	"encoding/json"
	"sync"

	pkgredis "github.com/prism-ai/prism/internal/pkg/redis"
)

const (
	redisKeyPrefix     = "prism:kv:"
	redisChangeChannel = "prism:kv:changes"
)

// Redis is a Store shared across server instances. Writes are last-write-wins
// and every change is broadcast so other instances can react.
type Redis struct {
	rc *pkgredis.Client
}

// NewRedis wraps a connected redis client.
func NewRedis(rc *pkgredis.Client) *Redis {
	return &Redis{rc: rc}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	return r.rc.Lookup(ctx, redisKeyPrefix+key)
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.rc.Set(ctx, redisKeyPrefix+key, value, 0); err != nil {
		return err
	}
	return r.publish(ctx, Change{Key: key})
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rc.Del(ctx, redisKeyPrefix+key); err != nil {
		return err
	}
	return r.publish(ctx, Change{Key: key, Deleted: true})
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan Change, func()) {
	sub := r.rc.Subscribe(ctx, redisChangeChannel)
	out := make(chan Change, defaultSubBufSize)
	ctx, stop := context.WithCancel(ctx)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			_ = sub.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}
				select {
				case out <- change:
				default:
				}
			}
		}
	}()
	return out, cancel
}

func (r *Redis) publish(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return r.rc.Publish(ctx, redisChangeChannel, data)
}
