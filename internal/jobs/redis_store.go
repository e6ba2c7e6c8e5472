package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"scenecast/internal/domain"
)

const redisKeyPrefix = "scenecast:job:"

// RedisStore shares job records between processes. Records expire after ttl.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects using a redis:// or rediss:// URL and verifies the
// connection.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("jobs: parse redis url: %w", err)
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("jobs: redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

// Save writes the job unless the stored copy is already terminal. The check
// and the write run in one optimistic transaction.
func (s *RedisStore) Save(ctx context.Context, job domain.GenerationJob) error {
	id := strings.TrimSpace(job.ID)
	if id == "" {
		return domain.InvalidInput("job id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs: encode job: %w", err)
	}
	key := redisKey(id)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if terminal, err := storedTerminal(current); err == nil && terminal {
				return domain.ErrJobFinalized
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err = s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil && !errors.Is(err, domain.ErrJobFinalized) {
		return fmt.Errorf("jobs: save %s: %w", id, err)
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.GenerationJob, error) {
	raw, err := s.rdb.Get(ctx, redisKey(strings.TrimSpace(id))).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.GenerationJob{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.GenerationJob{}, fmt.Errorf("jobs: get %s: %w", id, err)
	}
	var job domain.GenerationJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.GenerationJob{}, fmt.Errorf("jobs: decode %s: %w", id, err)
	}
	return job, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

func storedTerminal(raw []byte) (bool, error) {
	var probe struct {
		Stage domain.Stage `json:"stage"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false, err
	}
	return probe.Stage.Terminal(), nil
}

var _ Store = (*RedisStore)(nil)
