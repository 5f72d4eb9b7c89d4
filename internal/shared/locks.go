package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wellhead-erp/wellhead/internal/workflow"
)

var releaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// DocumentLocker serialises work on one document with a redis lease.
type DocumentLocker struct {
	client *redis.Client
	logger *slog.Logger
}

// NewDocumentLocker constructs the locker.
func NewDocumentLocker(client *redis.Client, logger *slog.Logger) *DocumentLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentLocker{client: client, logger: logger}
}

// Acquire takes the lease on key or returns workflow.ErrLocked when another
// holder owns it. The returned release only deletes the key while it still
// carries this holder's token.
func (l *DocumentLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrLocked, key)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
