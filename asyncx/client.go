package asyncx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Client wraps asynq.Client and a Store to persist lifecycle metadata.
type Client struct {
	client  *asynq.Client
	store   Store
	queue   string
	timeout time.Duration
}

type ClientOptions struct {
	Queue string
	// Timeout bounds one whole work item, retries included.
	Timeout time.Duration
}

func NewClient(redisOpt asynq.RedisConnOpt, store Store, opts ClientOptions) *Client {
	q := opts.Queue
	if q == "" {
		q = "default"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		client:  asynq.NewClient(redisOpt),
		store:   store,
		queue:   q,
		timeout: timeout,
	}
}

// Submit writes rec as pending and then enqueues taskType with payload (JSON
// encoded) under the record's id. The two steps are not atomic: if enqueue
// fails the record stays pending and the error is returned.
// asynq's own retry is disabled; retries belong to the handler's RetryPolicy.
func (c *Client) Submit(ctx context.Context, rec TaskRecord, taskType string, payload any, options ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.client == nil {
		return nil, fmt.Errorf("nil asynq client")
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if c.store != nil {
		if err := c.store.InsertPending(ctx, rec); err != nil {
			return nil, err
		}
	}
	t := asynq.NewTask(taskType, payloadBytes)
	opts := append([]asynq.Option{
		asynq.TaskID(rec.ID),
		asynq.MaxRetry(0),
		asynq.Timeout(c.timeout),
	}, options...)
	info, err := c.client.EnqueueContext(ctx, t, append(opts, asynq.Queue(c.queue))...)
	if err != nil {
		return nil, fmt.Errorf("enqueue task %s: %w", rec.ID, err)
	}
	return info, nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
