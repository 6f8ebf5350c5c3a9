package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence marks session liveness in Redis so operators (and, later, other
// instances) can see which sessions are live or awaiting reconnection.
// Markers are best-effort observability; the session table stays the source
// of truth.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) MarkActive(ctx context.Context, sessionID string) error {
	return p.client.Set(ctx, p.key(sessionID), "active", p.ttl).Err()
}

func (p *Presence) MarkPaused(ctx context.Context, sessionID string) error {
	return p.client.Set(ctx, p.key(sessionID), "paused", p.ttl).Err()
}

func (p *Presence) Clear(ctx context.Context, sessionID string) error {
	return p.client.Del(ctx, p.key(sessionID)).Err()
}

// Status reads the current marker; empty string means no marker.
func (p *Presence) Status(ctx context.Context, sessionID string) (string, error) {
	val, err := p.client.Get(ctx, p.key(sessionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (p *Presence) key(sessionID string) string {
	return "session:presence:" + sessionID
}
