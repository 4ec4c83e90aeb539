package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared-storage adapter, for deployments where multiple
// gateway processes should serve each other's results. The tag index is a
// Redis set per tag plus a per-key set of its tags, so invalidation and
// delete both clean up the index.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds an adapter over client. prefix namespaces all keys;
// empty means "lotus".
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "lotus"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) valueKey(key string) string { return r.prefix + ":v:" + key }
func (r *Redis) tagKey(tag string) string   { return r.prefix + ":t:" + tag }
func (r *Redis) tagsOfKey(key string) string {
	return r.prefix + ":k:" + key
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, r.valueKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.valueKey(key), value, ttl)
	pipe.Del(ctx, r.tagsOfKey(key))
	if len(tags) > 0 {
		members := make([]any, len(tags))
		for i, tag := range tags {
			members[i] = tag
			pipe.SAdd(ctx, r.tagKey(tag), key)
		}
		pipe.SAdd(ctx, r.tagsOfKey(key), members...)
		if ttl > 0 {
			pipe.Expire(ctx, r.tagsOfKey(key), ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	tags, err := r.client.SMembers(ctx, r.tagsOfKey(key)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := r.client.TxPipeline()
	for _, tag := range tags {
		pipe.SRem(ctx, r.tagKey(tag), key)
	}
	pipe.Del(ctx, r.valueKey(key), r.tagsOfKey(key))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Touch(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, r.valueKey(key), ttl).Err()
}

func (r *Redis) InvalidateTags(ctx context.Context, tags []string) error {
	for _, tag := range tags {
		keys, err := r.client.SMembers(ctx, r.tagKey(tag)).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		for _, key := range keys {
			if err := r.Delete(ctx, key); err != nil {
				return err
			}
		}
		if err := r.client.Del(ctx, r.tagKey(tag)).Err(); err != nil {
			return err
		}
	}
	return nil
}
