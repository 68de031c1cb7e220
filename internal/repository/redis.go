package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/models"

	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "task_status:"

// RedisStatusRepository keeps task status records as JSON strings that
// expire ttl after their last write.
type RedisStatusRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisStatusRepository(client *redis.Client, ttl time.Duration) *RedisStatusRepository {
	return &RedisStatusRepository{
		client: client,
		ttl:    ttl,
	}
}

func statusKey(task string) string {
	return statusKeyPrefix + task
}

func (r *RedisStatusRepository) GetStatus(ctx context.Context, task string) (*models.SyncTaskInfo, error) {
	if r.client == nil {
		return nil, errors.New("redis client is nil")
	}
	val, err := r.client.Get(ctx, statusKey(task)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task status from redis: %w", err)
	}

	var info models.SyncTaskInfo
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task status: %w", err)
	}
	return &info, nil
}

func (r *RedisStatusRepository) SetStatus(ctx context.Context, info *models.SyncTaskInfo) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal task status: %w", err)
	}
	if err := r.client.Set(ctx, statusKey(info.TaskName), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set task status in redis: %w", err)
	}
	return nil
}

// ListStatuses returns every unexpired record, ordered by task name.
func (r *RedisStatusRepository) ListStatuses(ctx context.Context) ([]*models.SyncTaskInfo, error) {
	if r.client == nil {
		return nil, errors.New("redis client is nil")
	}

	var keys []string
	iter := r.client.Scan(ctx, 0, statusKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan task statuses: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load task statuses: %w", err)
	}

	out := make([]*models.SyncTaskInfo, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var info models.SyncTaskInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task status: %w", err)
		}
		out = append(out, &info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskName < out[j].TaskName })
	return out, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
