package reconcile

import (
	"context"
	"time"

	"survey-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// CallCap bounds concurrent outbound calls per interviewer.
type CallCap interface {
	Acquire(ctx context.Context, interviewerID string) (bool, error)
	Release(ctx context.Context, interviewerID string) error
}

const (
	DefaultMaxActiveCalls = 1
	DefaultCapTTL         = 15 * time.Minute
)

// RedisCallCap keeps the per-interviewer counter in Redis so every API
// instance shares it. TTL frees slots leaked by a crashed process or a
// webhook that never arrives.
type RedisCallCap struct {
	Client redis.Scripter
	Limit  int
	TTL    time.Duration
}

func (c RedisCallCap) Acquire(ctx context.Context, interviewerID string) (bool, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = DefaultMaxActiveCalls
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultCapTTL
	}
	return utils.AcquireConcurrencyCap(ctx, c.Client, utils.InterviewerCallKey(interviewerID), limit, ttl)
}

func (c RedisCallCap) Release(ctx context.Context, interviewerID string) error {
	return utils.ReleaseConcurrencyCap(ctx, c.Client, utils.InterviewerCallKey(interviewerID))
}
