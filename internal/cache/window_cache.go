package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"inkwell/internal/model"
)

// WindowCache keeps the hot chat window as a capped Redis list per chat.
type WindowCache struct {
	client    redisv9.Cmdable
	windowTTL time.Duration
}

func NewWindowCache(client redisv9.Cmdable, windowTTL time.Duration) *WindowCache {
	if windowTTL <= 0 {
		windowTTL = 30 * time.Minute
	}
	return &WindowCache{client: client, windowTTL: windowTTL}
}

// Push appends to a warm window and trims it to limit. A cold window is left cold so the
// next read rebuilds it from the database instead of serving a partial list.
func (c *WindowCache) Push(ctx context.Context, tenantID, chatID string, msg model.ChatMessage, limit int) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal window message failed: %w", err)
	}
	key := windowKey(tenantID, chatID)
	pipe := c.client.TxPipeline()
	pipe.RPushX(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-limit), -1)
	pipe.Expire(ctx, key, c.windowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push window failed: %w", err)
	}
	return nil
}

// Window returns the cached window, oldest first. ok is false on a cache miss.
func (c *WindowCache) Window(ctx context.Context, tenantID, chatID string) ([]model.ChatMessage, bool, error) {
	raws, err := c.client.LRange(ctx, windowKey(tenantID, chatID), 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis read window failed: %w", err)
	}
	if len(raws) == 0 {
		return nil, false, nil
	}
	messages := make([]model.ChatMessage, 0, len(raws))
	for _, raw := range raws {
		var m model.ChatMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, false, fmt.Errorf("unmarshal cached window failed: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, true, nil
}

// Reset replaces the window with messages.
func (c *WindowCache) Reset(ctx context.Context, tenantID, chatID string, messages []model.ChatMessage) error {
	key := windowKey(tenantID, chatID)
	values := make([]any, 0, len(messages))
	for _, m := range messages {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal window message failed: %w", err)
		}
		values = append(values, payload)
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, c.windowTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis reset window failed: %w", err)
	}
	return nil
}

func (c *WindowCache) Invalidate(ctx context.Context, tenantID, chatID string) error {
	if err := c.client.Del(ctx, windowKey(tenantID, chatID)).Err(); err != nil {
		return fmt.Errorf("redis delete window failed: %w", err)
	}
	return nil
}

func windowKey(tenantID, chatID string) string {
	return fmt.Sprintf("chat:window:%s:%s", tenantID, chatID)
}
