package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/models"
)

const (
	fieldPageID      = "page_id"
	fieldOwnerID     = "owner_id"
	fieldName        = "name"
	fieldDescription = "description"

	scanBatch = 500
)

// adjustScript increments a counter only when the page hash exists, so late
// counter events never materialize a partial record.
var adjustScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
end
return false
`)

var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], 'name', ARGV[1], 'description', ARGV[2])
  return 1
end
return 0
`)

// RedisStore keeps each page as a hash at <prefix>page:<page_id>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedis dials the configured server and verifies it with a ping.
func OpenRedis(ctx context.Context, cfg config.StoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(client, cfg.RedisKeyPrefix), nil
}

func (r *RedisStore) key(pageID int64) string {
	return r.prefix + "page:" + strconv.FormatInt(pageID, 10)
}

func (r *RedisStore) Init(context.Context) error { return nil }

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) Put(ctx context.Context, rec models.PageStatistics) error {
	key := r.key(rec.PageID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			fieldPageID:                     rec.PageID,
			fieldOwnerID:                    rec.OwnerID,
			fieldName:                       rec.Name,
			fieldDescription:                rec.Description,
			string(models.CounterPosts):     rec.Counters.AmountOfPosts,
			string(models.CounterLikes):     rec.Counters.AmountOfLikes,
			string(models.CounterFollowers): rec.Counters.AmountOfFollowers,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put page %d: %w", rec.PageID, err)
	}
	return nil
}

func (r *RedisStore) UpdateFields(ctx context.Context, pageID int64, meta models.PageMeta) error {
	if err := updateScript.Run(ctx, r.client, []string{r.key(pageID)}, meta.Name, meta.Description).Err(); err != nil {
		return fmt.Errorf("redis update page %d: %w", pageID, err)
	}
	return nil
}

func (r *RedisStore) AdjustCounter(ctx context.Context, pageID int64, counter models.Counter, delta int64) error {
	if !counter.Valid() {
		return fmt.Errorf("unknown counter %q", counter)
	}
	err := adjustScript.Run(ctx, r.client, []string{r.key(pageID)}, string(counter), delta).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis adjust %s on page %d: %w", counter, pageID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, pageID int64) error {
	if err := r.client.Del(ctx, r.key(pageID)).Err(); err != nil {
		return fmt.Errorf("redis delete page %d: %w", pageID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, pageID int64) (*models.PageStatistics, error) {
	fields, err := r.client.HGetAll(ctx, r.key(pageID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get page %d: %w", pageID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(fields)
}

func (r *RedisStore) QueryByOwner(ctx context.Context, ownerID int64) ([]models.PageStatistics, error) {
	out := []models.PageStatistics{}
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"page:*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			pipe := r.client.Pipeline()
			cmds := make([]*redis.MapStringStringCmd, len(keys))
			for i, k := range keys {
				cmds[i] = pipe.HGetAll(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return nil, fmt.Errorf("redis scan fetch: %w", err)
			}
			for _, cmd := range cmds {
				fields := cmd.Val()
				// deleted between SCAN and HGETALL
				if len(fields) == 0 {
					continue
				}
				rec, err := decodeHash(fields)
				if err != nil {
					return nil, err
				}
				if rec.OwnerID == ownerID {
					out = append(out, *rec)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out, nil
}

func (r *RedisStore) QueryByOwnerAndPage(ctx context.Context, ownerID, pageID int64) (*models.PageStatistics, error) {
	rec, err := r.Get(ctx, pageID)
	return ownedBy(rec, err, ownerID)
}

func decodeHash(fields map[string]string) (*models.PageStatistics, error) {
	var rec models.PageStatistics
	ints := []struct {
		name string
		dst  *int64
	}{
		{fieldPageID, &rec.PageID},
		{fieldOwnerID, &rec.OwnerID},
		{string(models.CounterPosts), &rec.Counters.AmountOfPosts},
		{string(models.CounterLikes), &rec.Counters.AmountOfLikes},
		{string(models.CounterFollowers), &rec.Counters.AmountOfFollowers},
	}
	for _, f := range ints {
		raw, ok := fields[f.name]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis field %s=%q: %w", f.name, raw, err)
		}
		*f.dst = v
	}
	rec.Name = fields[fieldName]
	rec.Description = fields[fieldDescription]
	return &rec, nil
}
