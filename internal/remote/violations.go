package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/proktor/internal/config"
	"github.com/stemsi/proktor/internal/model"
)

// RedisViolationReporter records violations in Redis: an INCR for the remote
// count and a queue push for the violation worker to persist. Best-effort:
// callers tolerate errors and keep counting locally.
type RedisViolationReporter struct {
	rdb           *redis.Client
	maxViolations int64
}

// NewRedisViolationReporter creates a new RedisViolationReporter.
func NewRedisViolationReporter(rdb *redis.Client, maxViolations int) *RedisViolationReporter {
	return &RedisViolationReporter{rdb: rdb, maxViolations: int64(maxViolations)}
}

// violationQueueItem is the persist queue payload consumed by the violation worker.
type violationQueueItem struct {
	StudentID int    `json:"student_id"`
	ExamID    string `json:"exam_id"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

// ReportViolation increments the remote counter and enqueues a durable record.
func (r *RedisViolationReporter) ReportViolation(ctx context.Context, ref model.SessionRef, kind model.ViolationKind) (*model.ViolationReceipt, error) {
	countKey := config.CacheKey.StudentViolationCountKey(ref.ExamID.String(), ref.StudentID)

	item, _ := json.Marshal(violationQueueItem{
		StudentID: ref.StudentID,
		ExamID:    ref.ExamID.String(),
		Kind:      string(kind),
		Timestamp: time.Now().Unix(),
	})

	pipe := r.rdb.Pipeline()
	incr := pipe.Incr(ctx, countKey)
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, item)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("report violation: %w", err)
	}

	count := incr.Val()
	return &model.ViolationReceipt{
		CurrentCount:   count,
		IsDisqualified: count >= r.maxViolations,
	}, nil
}
