// Package cache implements the Redis-backed response cache sitting in front
// of the AI backend (the cache gate) plus the per-user conversation-list
// cache. Values are JSON-marshaled; keys are namespaced per concern and per
// user so a user's entries can be invalidated wholesale.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/casemate/go-conversation-backend/internal/aiclient"
)

// Default TTLs. AI-response entries are deliberately short-lived: the cache
// only exists to absorb repeated identical prompts, not to serve as a store.
const (
	DefaultAIResponseTTL = 5 * time.Minute
	DefaultUserDataTTL   = 30 * time.Minute
)

// ResponseCache caches upstream AI responses keyed by (prompt, mode) and
// arbitrary per-user payloads (conversation listings) keyed by name.
//
// A nil Redis client degrades every operation to a miss/no-op, so the rest
// of the system works unchanged without Redis configured.
type ResponseCache struct {
	client        *redisv9.Client
	aiResponseTTL time.Duration
	userDataTTL   time.Duration
}

// New constructs a ResponseCache. Non-positive TTLs fall back to defaults.
func New(client *redisv9.Client, aiResponseTTL, userDataTTL time.Duration) *ResponseCache {
	if aiResponseTTL <= 0 {
		aiResponseTTL = DefaultAIResponseTTL
	}
	if userDataTTL <= 0 {
		userDataTTL = DefaultUserDataTTL
	}
	return &ResponseCache{
		client:        client,
		aiResponseTTL: aiResponseTTL,
		userDataTTL:   userDataTTL,
	}
}

// GetAIResponse returns the cached upstream response for (prompt, mode),
// or found=false on miss.
func (c *ResponseCache) GetAIResponse(ctx context.Context, prompt, mode string) (*aiclient.Response, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, aiResponseKey(prompt, mode)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get ai response failed: %w", err)
	}
	var resp aiclient.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached ai response failed: %w", err)
	}
	return &resp, true, nil
}

// SetAIResponse stores an upstream response under (prompt, mode) with the
// configured short TTL.
func (c *ResponseCache) SetAIResponse(ctx context.Context, prompt, mode string, resp *aiclient.Response) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal ai response cache failed: %w", err)
	}
	if err := c.client.Set(ctx, aiResponseKey(prompt, mode), payload, c.aiResponseTTL).Err(); err != nil {
		return fmt.Errorf("redis set ai response failed: %w", err)
	}
	return nil
}

// GetUserData loads a per-user cached payload into out, returning found=false
// on miss.
func (c *ResponseCache) GetUserData(ctx context.Context, userID, name string, out any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	raw, err := c.client.Get(ctx, userDataKey(userID, name)).Result()
	if err == redisv9.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get user data failed: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("unmarshal cached user data failed: %w", err)
	}
	return true, nil
}

// SetUserData stores a per-user payload with the configured list TTL.
func (c *ResponseCache) SetUserData(ctx context.Context, userID, name string, v any) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal user data cache failed: %w", err)
	}
	if err := c.client.Set(ctx, userDataKey(userID, name), payload, c.userDataTTL).Err(); err != nil {
		return fmt.Errorf("redis set user data failed: %w", err)
	}
	return nil
}

// ClearUserCache deletes every cached entry under the user's namespace.
// Used after any mutation so subsequent listings reflect new ordering.
func (c *ResponseCache) ClearUserCache(ctx context.Context, userID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	pattern := userDataKey(userID, "*")
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan user keys failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete user keys failed: %w", err)
	}
	return nil
}

// aiResponseKey hashes the prompt so arbitrarily long user text maps to a
// bounded key.
func aiResponseKey(prompt, mode string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("ai:response:%s:%s", mode, hex.EncodeToString(sum[:]))
}

func userDataKey(userID, name string) string {
	return fmt.Sprintf("user:%s:%s", userID, name)
}
