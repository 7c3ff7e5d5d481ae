package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"cloutopia/internal/model"
)

const (
	historyKeyPrefix = "chat:history:"
	dirtyKeyPrefix   = "chat:history:dirty:"
)

// HistoryCache keeps recent chat history per session in Redis. A dirty
// marker is set while an exchange is on its way to the persist worker;
// readers bypass the cache while it exists.
type HistoryCache struct {
	client         redisv9.UniversalClient
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewHistoryCache(client redisv9.UniversalClient, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 30 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

// Get returns the cached history. ok is false on a miss or while the
// session is dirty.
func (c *HistoryCache) Get(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error) {
	var getCmd *redisv9.StringCmd
	var dirtyCmd *redisv9.IntCmd
	_, err := c.client.Pipelined(ctx, func(p redisv9.Pipeliner) error {
		dirtyCmd = p.Exists(ctx, dirtyKey(sessionID))
		getCmd = p.Get(ctx, historyKey(sessionID))
		return nil
	})
	if err != nil && !errors.Is(err, redisv9.Nil) {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}
	if dirtyCmd.Val() > 0 {
		return nil, false, nil
	}

	raw, err := getCmd.Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var messages []model.ChatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return messages, true, nil
}

// Set stores messages unless the session turned dirty in the meantime.
func (c *HistoryCache) Set(ctx context.Context, sessionID string, messages []model.ChatMessage) error {
	dirty, err := c.IsDirty(ctx, sessionID)
	if err != nil {
		return err
	}
	if dirty {
		return nil
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, historyKey(sessionID), payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

// Invalidate marks the session dirty and drops its cached history.
func (c *HistoryCache) Invalidate(ctx context.Context, sessionID string) error {
	_, err := c.client.TxPipelined(ctx, func(p redisv9.Pipeliner) error {
		p.Set(ctx, dirtyKey(sessionID), "1", c.dirtyMarkerTTL)
		p.Del(ctx, historyKey(sessionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate history failed: %w", err)
	}
	return nil
}

// Settle clears the dirty marker once the pending exchange is stored.
func (c *HistoryCache) Settle(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, dirtyKey(sessionID), historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis settle history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, historyKey(sessionID), dirtyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, sessionID string) (bool, error) {
	exists, err := c.client.Exists(ctx, dirtyKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func historyKey(sessionID string) string {
	return historyKeyPrefix + sessionID
}

func dirtyKey(sessionID string) string {
	return dirtyKeyPrefix + sessionID
}
