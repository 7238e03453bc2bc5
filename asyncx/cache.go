package asyncx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultResultTTL is how long a terminal result stays in the cache.
const DefaultResultTTL = time.Hour

// CachedResult is the value stored under task_result:<task_id>.
type CachedResult struct {
	Status Status `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// View renders the cached entry in the same shape a store read produces.
func (c CachedResult) View(taskID string) TaskView {
	v := TaskView{TaskID: taskID, Status: c.Status, Cached: true}
	switch c.Status {
	case StatusCompleted:
		r := c.Result
		v.Result = &r
	case StatusFailed:
		e := c.Error
		v.ErrorMessage = &e
	}
	return v
}

// ResultSource is the shortcut side of the read path. A miss is reported as
// ok=false with a nil error.
type ResultSource interface {
	GetResult(ctx context.Context, taskID string) (CachedResult, bool, error)
}

// ResultCache writes and reads terminal task results in redis with a fixed TTL.
type ResultCache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewResultCache(rdb redis.UniversalClient, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{rdb: rdb, ttl: ttl, prefix: "task_result:"}
}

func (c *ResultCache) key(taskID string) string { return c.prefix + taskID }

// PutResult stores a terminal entry. Non-terminal statuses are rejected so the
// cache never shadows progress recorded in the store.
func (c *ResultCache) PutResult(ctx context.Context, taskID string, res CachedResult) error {
	if !res.Status.IsTerminal() {
		return fmt.Errorf("cache %s: status %s is not terminal", taskID, res.Status)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(taskID), b, c.ttl).Err()
}

func (c *ResultCache) GetResult(ctx context.Context, taskID string) (CachedResult, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedResult{}, false, nil
	}
	if err != nil {
		return CachedResult{}, false, err
	}
	var res CachedResult
	if err := json.Unmarshal(val, &res); err != nil {
		return CachedResult{}, false, fmt.Errorf("decode cached result %s: %w", taskID, err)
	}
	return res, true, nil
}

// Ping reports whether redis is reachable.
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
