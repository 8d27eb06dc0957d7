package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/proktor/internal/config"
	"github.com/stemsi/proktor/internal/model"
)

// RedisAnswerSink pushes answer snapshots into Redis: the session hash gets
// the latest values and the persist queue feeds the answer worker, which
// upserts them into PostgreSQL. Re-pushing the same snapshot is safe because
// both paths are last-write-wins per question.
type RedisAnswerSink struct {
	rdb *redis.Client
}

// NewRedisAnswerSink creates a new RedisAnswerSink.
func NewRedisAnswerSink(rdb *redis.Client) *RedisAnswerSink {
	return &RedisAnswerSink{rdb: rdb}
}

// answerQueueItem is the persist queue payload consumed by the answer worker.
type answerQueueItem struct {
	StudentID int    `json:"student_id"`
	ExamID    string `json:"exam_id"`
	QID       string `json:"q_id"`
	Answer    string `json:"answer"`
}

// PushAnswers writes the snapshot hash fields and enqueues one persist item
// per answer in a single pipeline round trip.
func (s *RedisAnswerSink) PushAnswers(ctx context.Context, ref model.SessionRef, snap model.AnswerSnapshot) error {
	if len(snap) == 0 {
		return nil
	}

	key := config.CacheKey.StudentAnswersKey(ref.ExamID.String(), ref.StudentID)

	pipe := s.rdb.Pipeline()
	for qid, val := range snap {
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("marshal answer %s: %w", qid, err)
		}

		pipe.HSet(ctx, key, qid.String(), raw)

		item, _ := json.Marshal(answerQueueItem{
			StudentID: ref.StudentID,
			ExamID:    ref.ExamID.String(),
			QID:       qid.String(),
			Answer:    string(raw),
		})
		pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, item)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push answers: %w", err)
	}
	return nil
}
