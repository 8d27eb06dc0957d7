package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/config"
)

const (
	ResultBatchSize    = 50
	ResultBatchTimeout = 2 * time.Second
	ResultPollTimeout  = 1 * time.Second
)

// ResultWorker consumes the persist results queue and writes terminal
// session states (status, final score, finish time) to PostgreSQL, then
// clears the per-session Redis caches.
type ResultWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewResultWorker creates a new ResultWorker.
func NewResultWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "result_worker").Logger(),
	}
}

// ResultPayload is the queue item describing one finished session.
type ResultPayload struct {
	StudentID int      `json:"student_id"`
	ExamID    string   `json:"exam_id"`
	Status    string   `json:"status"`
	Score     *float64 `json:"score,omitempty"`
}

// Start begins the batching worker loop. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")

	batch := make([]*ResultPayload, 0, ResultBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ResultBatchSize || time.Since(lastFlush) >= ResultBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p ResultPayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

func (w *ResultWorker) flushSafe(ctx context.Context, batch []*ResultPayload) {
	if len(batch) == 0 {
		return
	}

	failed := make([]*ResultPayload, 0)
	for _, p := range batch {
		if err := w.persistSingle(ctx, p); err != nil {
			w.log.Error().Err(err).
				Int("student_id", p.StudentID).
				Str("exam_id", p.ExamID).
				Msg("Result persist failed, requeueing")
			failed = append(failed, p)
		}
	}

	if len(failed) > 0 {
		pipe := w.rdb.Pipeline()
		for _, p := range failed {
			raw, _ := json.Marshal(p)
			pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw)
		}
		_, _ = pipe.Exec(ctx)
		return
	}

	// Whole batch persisted; drop the per-session Redis caches.
	w.clearSessionCaches(ctx, batch)
}

func (w *ResultWorker) persistSingle(ctx context.Context, p *ResultPayload) error {
	examID, err := uuid.Parse(p.ExamID)
	if err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1,
		     final_score = $2,
		     finished_at = NOW()
		 WHERE exam_id = $3 AND student_id = $4`,
		p.Status, p.Score, examID, p.StudentID,
	)
	return err
}

func (w *ResultWorker) clearSessionCaches(ctx context.Context, batch []*ResultPayload) {
	pipe := w.rdb.Pipeline()

	for _, p := range batch {
		pipe.Del(ctx, config.CacheKey.StudentAnswersKey(p.ExamID, p.StudentID))
		pipe.Del(ctx, config.CacheKey.StudentViolationCountKey(p.ExamID, p.StudentID))
		pipe.Del(ctx, config.CacheKey.StudentSessionStartKey(p.ExamID, p.StudentID))
	}

	_, _ = pipe.Exec(ctx)
}
