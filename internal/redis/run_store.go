package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"powerlog/internal/models"
)

const keyPrefix = "powerlog:runs:"

// RunStore caches the summary of the latest conversion of each log.
type RunStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRunStore returns redis-backed store. A zero ttl keeps entries forever.
func NewRunStore(client redis.Cmdable, ttl time.Duration) *RunStore {
	return &RunStore{client: client, ttl: ttl}
}

// Key returns the redis key of runID.
func Key(runID string) string {
	return fmt.Sprintf("%s%s", keyPrefix, runID)
}

// Save stores summary under its run id.
func (s *RunStore) Save(ctx context.Context, summary models.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, Key(summary.RunID), data, s.ttl).Err()
}

// Get returns the cached summary of runID.
func (s *RunStore) Get(ctx context.Context, runID string) (*models.RunSummary, error) {
	result, err := s.client.Get(ctx, Key(runID)).Result()
	if err != nil {
		return nil, err
	}
	var summary models.RunSummary
	if err := json.Unmarshal([]byte(result), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Delete removes the cached summary.
func (s *RunStore) Delete(ctx context.Context, runID string) error {
	return s.client.Del(ctx, Key(runID)).Err()
}
