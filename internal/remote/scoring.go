package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/model"
)

// HTTPScoringClient calls the external scoring service over HTTP. The service
// is trusted: whatever score and status it returns is final.
type HTTPScoringClient struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPScoringClient creates a scoring client with the given endpoint and
// per-request timeout.
func NewHTTPScoringClient(url string, timeout time.Duration, log zerolog.Logger) *HTTPScoringClient {
	return &HTTPScoringClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "scoring_client").Logger(),
	}
}

type scoringRequest struct {
	SessionID string               `json:"session_id"`
	ExamID    string               `json:"exam_id"`
	StudentID int                  `json:"student_id"`
	Forced    bool                 `json:"forced"`
	Answers   model.AnswerSnapshot `json:"answers"`
}

// SubmitForScoring posts the final snapshot and forced flag, returning the
// authoritative score and verdict.
func (c *HTTPScoringClient) SubmitForScoring(ctx context.Context, ref model.SessionRef, snap model.AnswerSnapshot, forced bool) (*model.ScoreResult, error) {
	body, err := json.Marshal(scoringRequest{
		SessionID: ref.SessionID.String(),
		ExamID:    ref.ExamID.String(),
		StudentID: ref.StudentID,
		Forced:    forced,
		Answers:   snap,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal scoring request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoring service returned %d", resp.StatusCode)
	}

	var result model.ScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode scoring response: %w", err)
	}

	if result.Status != model.ScoreStatusOK && result.Status != model.ScoreStatusDisqualified {
		return nil, fmt.Errorf("scoring service returned unknown status %q", result.Status)
	}

	c.log.Info().
		Str("session_id", ref.SessionID.String()).
		Float64("score", result.Score).
		Str("status", string(result.Status)).
		Bool("forced", forced).
		Msg("Scoring completed")

	return &result, nil
}
