package redisad

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"reviewsync/internal/domain"
)

// Queue is a fire-and-forget sync-job queue on a redis list: the API LPUSHes
// and returns immediately, the worker BRPOPs at its own pace.
type Queue struct {
	c   *redis.Client
	key string
}

func NewQueue(addr, pass string, db int, key string) *Queue {
	return &Queue{
		c:   redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}),
		key: key,
	}
}

func (q *Queue) Enqueue(ctx context.Context, job domain.SyncJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal sync job: %w", err)
	}
	return q.c.LPush(ctx, q.key, b).Err()
}

// Dequeue blocks until a job arrives or ctx is canceled.
func (q *Queue) Dequeue(ctx context.Context) (domain.SyncJob, error) {
	res, err := q.c.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return domain.SyncJob{}, err
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return domain.SyncJob{}, fmt.Errorf("unexpected brpop reply of %d elements", len(res))
	}
	var job domain.SyncJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return domain.SyncJob{}, fmt.Errorf("unmarshal sync job: %w", err)
	}
	return job, nil
}
