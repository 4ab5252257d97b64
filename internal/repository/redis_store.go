package repository

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type RedisInfo struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
}

// NewRedisConnection opens a client and checks it can reach the server.
func NewRedisConnection(info RedisInfo) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         info.Addr,
		Password:     info.Password,
		DB:           info.DB,
		MaxRetries:   info.MaxRetries,
		DialTimeout:  info.DialTimeout,
		ReadTimeout:  info.Timeout,
		WriteTimeout: info.Timeout,
	})

	timeout := info.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// RedisStore keeps each section in its own hash.
type RedisStore struct {
	client *goredis.Client
	prefix string
}

func NewRedisStore(client *goredis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "reconciler"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(section string) string {
	return s.prefix + ":" + section
}

func (s *RedisStore) Load(ctx context.Context, section string) (map[string]string, error) {
	out, err := s.client.HGetAll(ctx, s.key(section)).Result()
	if err != nil {
		return nil, fmt.Errorf("load section %s: %w", section, err)
	}
	return out, nil
}

// Save replaces all sections in one MULTI/EXEC block.
func (s *RedisStore) Save(ctx context.Context, sections map[string]map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, section := range sortedSections(sections) {
			pipe.Del(ctx, s.key(section))
			entries := sections[section]
			if len(entries) == 0 {
				continue
			}
			fields := make(map[string]interface{}, len(entries))
			for k, v := range entries {
				fields[k] = v
			}
			pipe.HSet(ctx, s.key(section), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
