package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/proktor/internal/config"
	"github.com/stemsi/proktor/internal/model"
)

// RedisMirror keeps the answer mirror in a Redis hash per session, one field
// per question. The hash survives server restarts and client reloads alike.
type RedisMirror struct {
	rdb *redis.Client
}

// NewRedisMirror creates a Redis-backed mirror.
func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

func (m *RedisMirror) key(ref model.SessionRef) string {
	return config.CacheKey.StudentAnswersKey(ref.ExamID.String(), ref.StudentID)
}

// Save writes one answer field into the session hash.
func (m *RedisMirror) Save(ctx context.Context, ref model.SessionRef, questionID uuid.UUID, val model.AnswerValue) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	if err := m.rdb.HSet(ctx, m.key(ref), questionID.String(), raw).Err(); err != nil {
		return fmt.Errorf("hset answer: %w", err)
	}
	return nil
}

// Load reads the whole hash back into a snapshot. Fields that fail to parse
// are skipped: a corrupt entry must not block session resume.
func (m *RedisMirror) Load(ctx context.Context, ref model.SessionRef) (model.AnswerSnapshot, error) {
	fields, err := m.rdb.HGetAll(ctx, m.key(ref)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall answers: %w", err)
	}

	snap := make(model.AnswerSnapshot, len(fields))
	for field, raw := range fields {
		qid, err := uuid.Parse(field)
		if err != nil {
			continue
		}
		var val model.AnswerValue
		if err := json.Unmarshal([]byte(raw), &val); err != nil {
			continue
		}
		snap[qid] = val
	}
	return snap, nil
}

// Clear deletes the session hash.
func (m *RedisMirror) Clear(ctx context.Context, ref model.SessionRef) error {
	return m.rdb.Del(ctx, m.key(ref)).Err()
}
