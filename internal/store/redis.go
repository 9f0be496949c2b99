package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the redis client. Besides backing the queue it stages accepted
// probe captures briefly so the archival worker can pick them up.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// StageCapture stores probe bytes under the record id with a TTL. The worker
// fetches them for archival; expiry just means the capture is not archived.
func (r *Redis) StageCapture(ctx context.Context, recordID string, image []byte, ttl time.Duration) error {
	return r.Client.Set(ctx, captureKey(recordID), image, ttl).Err()
}

// FetchCapture retrieves staged probe bytes, or nil when expired/absent.
func (r *Redis) FetchCapture(ctx context.Context, recordID string) ([]byte, error) {
	data, err := r.Client.Get(ctx, captureKey(recordID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

// DropCapture removes a staged capture after archival.
func (r *Redis) DropCapture(ctx context.Context, recordID string) error {
	return r.Client.Del(ctx, captureKey(recordID)).Err()
}

func captureKey(recordID string) string { return "attendance:capture:" + recordID }
