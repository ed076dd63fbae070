package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seanblong/videorag/pkg/models"
)

const (
	redisKeyPrefix = "videorag:video:"
	redisIndexKey  = "videorag:videos"
)

// RedisStore keeps each artifact as one JSON value plus a set of known video ids.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedis connects to the Redis server at url (redis://[:password@]host:port/db).
func NewRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func redisKey(videoID string) string { return redisKeyPrefix + videoID }

func (s *RedisStore) SaveVideo(ctx context.Context, a models.VideoArtifact) error {
	if err := Validate(a); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisKey(a.VideoID), data, 0)
		p.SAdd(ctx, redisIndexKey, a.VideoID)
		return nil
	})
	return err
}

func (s *RedisStore) LoadVideo(ctx context.Context, videoID string) (models.VideoArtifact, bool, error) {
	data, err := s.rdb.Get(ctx, redisKey(videoID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.VideoArtifact{}, false, nil
	}
	if err != nil {
		return models.VideoArtifact{}, false, err
	}

	var a models.VideoArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return models.VideoArtifact{}, false, fmt.Errorf("decode artifact %s: %w", videoID, err)
	}
	if err := Validate(a); err != nil {
		return models.VideoArtifact{}, false, err
	}
	return a, true, nil
}

// ListVideos returns the stored videos, newest first. Ids whose value has disappeared are
// skipped.
func (s *RedisStore) ListVideos(ctx context.Context) ([]models.VideoSummary, error) {
	ids, err := s.rdb.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]models.VideoSummary, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var a models.VideoArtifact
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			continue
		}
		out = append(out, Summarize(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].VideoID < out[j].VideoID
	})
	return out, nil
}
