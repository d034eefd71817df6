package events

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher mirrors progression events to an external sink for collaborator
// services (dashboards, economy). Best-effort only.
type Publisher interface {
	Publish(ctx context.Context, evtType, orgID, milestoneType, actorID, ts, payloadJSON string)
}

const defaultStream = "ascent.events"

// RedisPublisher appends events to a redis stream.
type RedisPublisher struct {
	Client *redis.Client
	Stream string
	Log    *zap.SugaredLogger
}

// NewRedisPublisher connects to addr and targets stream (defaulted when empty).
func NewRedisPublisher(addr, stream string, log *zap.SugaredLogger) *RedisPublisher {
	if stream == "" {
		stream = defaultStream
	}
	return &RedisPublisher{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Stream: stream,
		Log:    log,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, evtType, orgID, milestoneType, actorID, ts, payloadJSON string) {
	err := p.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream,
		Values: map[string]any{
			"type":           evtType,
			"org_id":         orgID,
			"milestone_type": milestoneType,
			"actor_id":       actorID,
			"ts":             ts,
			"payload":        payloadJSON,
		},
	}).Err()
	if err != nil && p.Log != nil {
		p.Log.Warnw("event mirror publish failed", "type", evtType, "err", err)
	}
}

// Close releases the redis connection.
func (p *RedisPublisher) Close() error {
	return p.Client.Close()
}
