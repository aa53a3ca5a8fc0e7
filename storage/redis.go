package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/servicehub/taskflow-engine/types"
)

const (
	taskTypePrefix = "tasktype:"
	templatePrefix = "template:"
	taskPrefix     = "task:"
	documentPrefix = "document:"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
// Versioned saves use WATCH transactions so concurrent writers race on the
// key itself, not just on the stored version field.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

func entityKey(entity types.EntityRef) string {
	return fmt.Sprintf("entity:%s:%d:tasks", entity.Kind, entity.ID)
}

// saveToRedis marshals and sets a value under prefix+id.
func (s *RedisStorage) saveToRedis(ctx context.Context, prefix string, id uint64, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s%d: %v", prefix, id, err)
		}
		key := fmt.Sprintf("%s%d", prefix, id)
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// getFromRedis retrieves and unmarshals a value stored under prefix+id.
func getFromRedis[T any](ctx context.Context, client *redis.Client, prefix string, id uint64, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		key := fmt.Sprintf("%s%d", prefix, id)
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return result, nil
	})
}

// storedVersion extracts only the version field from a stored record.
func storedVersion(data []byte) (uint64, error) {
	var v struct {
		Version uint64 `json:"version"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, err
	}
	return v.Version, nil
}

// saveVersioned performs a compare-and-swap write under a WATCH transaction.
// onCreate, if non-nil, adds extra pipeline commands for first-time writes.
func (s *RedisStorage) saveVersioned(ctx context.Context, key string, expectedVersion uint64, payload []byte, onCreate func(pipe redis.Pipeliner)) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		if exists {
			version, err := storedVersion(data)
			if err != nil {
				return fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}
			if version != expectedVersion {
				return fmt.Errorf("%w: %s is at version %d, expected %d", ErrVersionConflict, key, version, expectedVersion)
			}
		} else if expectedVersion != 0 {
			return fmt.Errorf("%w: %s does not exist, expected version %d", ErrVersionConflict, key, expectedVersion)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if !exists && onCreate != nil {
				onCreate(pipe)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s was modified concurrently", ErrVersionConflict, key)
	}
	return err
}

// SaveTaskType saves a task type to Redis.
func (s *RedisStorage) SaveTaskType(ctx context.Context, tt types.TaskType) error {
	return s.saveToRedis(ctx, taskTypePrefix, tt.ID, tt)
}

// ListTaskTypes returns all task types stored in Redis, ordered by ID.
func (s *RedisStorage) ListTaskTypes(ctx context.Context) ([]types.TaskType, error) {
	return withContext(ctx, func() ([]types.TaskType, error) {
		keys, err := s.client.Keys(ctx, taskTypePrefix+"*").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan task type keys: %v", err)
		}
		out := make([]types.TaskType, 0, len(keys))
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to get %s: %v", key, err)
			}
			var tt types.TaskType
			if err := json.Unmarshal(data, &tt); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}
			out = append(out, tt)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}

// SaveTemplate saves a workflow template to Redis.
func (s *RedisStorage) SaveTemplate(ctx context.Context, tpl types.WorkflowTemplate) error {
	return s.saveToRedis(ctx, templatePrefix, tpl.ID, tpl)
}

// GetTemplate retrieves a workflow template from Redis.
func (s *RedisStorage) GetTemplate(ctx context.Context, id uint64) (types.WorkflowTemplate, error) {
	return getFromRedis[types.WorkflowTemplate](ctx, s.client, templatePrefix, id, ErrTemplateNotFound)
}

// SaveTask persists a task instance with a compare-and-swap version check.
func (s *RedisStorage) SaveTask(ctx context.Context, task types.TaskInstance, expectedVersion uint64) error {
	return withContextError(ctx, func() error {
		task.Version = expectedVersion + 1
		payload, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task %d: %v", task.ID, err)
		}
		key := fmt.Sprintf("%s%d", taskPrefix, task.ID)
		return s.saveVersioned(ctx, key, expectedVersion, payload, func(pipe redis.Pipeliner) {
			pipe.SAdd(ctx, entityKey(task.Entity), task.ID)
		})
	})
}

// GetTask retrieves a task instance from Redis.
func (s *RedisStorage) GetTask(ctx context.Context, id uint64) (types.TaskInstance, error) {
	return getFromRedis[types.TaskInstance](ctx, s.client, taskPrefix, id, ErrTaskNotFound)
}

// ListTasks returns the entity's task instances ordered by sequence order.
func (s *RedisStorage) ListTasks(ctx context.Context, entity types.EntityRef) ([]types.TaskInstance, error) {
	return withContext(ctx, func() ([]types.TaskInstance, error) {
		ids, err := s.client.SMembers(ctx, entityKey(entity)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read entity task index: %v", err)
		}
		out := make([]types.TaskInstance, 0, len(ids))
		for _, id := range ids {
			data, err := s.client.Get(ctx, taskPrefix+id).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to get task %s: %v", id, err)
			}
			var task types.TaskInstance
			if err := json.Unmarshal(data, &task); err != nil {
				return nil, fmt.Errorf("failed to unmarshal task %s: %v", id, err)
			}
			out = append(out, task)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
		return out, nil
	})
}

// SaveDocument persists a stock document with a compare-and-swap version check.
func (s *RedisStorage) SaveDocument(ctx context.Context, doc types.StockDocument, expectedVersion uint64) error {
	return withContextError(ctx, func() error {
		doc.Version = expectedVersion + 1
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document %d: %v", doc.ID, err)
		}
		key := fmt.Sprintf("%s%d", documentPrefix, doc.ID)
		return s.saveVersioned(ctx, key, expectedVersion, payload, nil)
	})
}

// GetDocument retrieves a stock document from Redis.
func (s *RedisStorage) GetDocument(ctx context.Context, id uint64) (types.StockDocument, error) {
	return getFromRedis[types.StockDocument](ctx, s.client, documentPrefix, id, ErrDocumentNotFound)
}

// DeleteDocument removes a stock document from Redis.
func (s *RedisStorage) DeleteDocument(ctx context.Context, id uint64) error {
	return withContextError(ctx, func() error {
		key := fmt.Sprintf("%s%d", documentPrefix, id)
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to delete %s: %v", key, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: key=%s", ErrDocumentNotFound, key)
		}
		return nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
