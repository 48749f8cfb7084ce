package services

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/insightloop/surveyd/internal/models"
)

// MaxResponseBytes caps the serialized size of one session's answers.
const MaxResponseBytes = 100000

// SubmissionStore abstracts the persistence operations of the
// submission pipeline. Both writes are conditional: they return false
// without touching the row when it is already completed, so the
// in_progress -> completed transition happens at most once even under
// concurrent submits. The condition must be evaluated atomically with
// the write (a single conditional statement, not read-then-write).
type SubmissionStore interface {
	UpsertInProgressResponse(r *models.SurveyResponse) (bool, error)
	CompleteResponse(r *models.SurveyResponse) (bool, error)
}

type SaveResult struct {
	SavedAt time.Time
}

type SubmitResult struct {
	SubmittedAt time.Time
}

// SubmissionService accepts partial saves and final submissions.
// Ownership is established upstream: the session id passed in is the
// verified subject of the bearer credential, never client-supplied.
type SubmissionService struct {
	store   SubmissionStore
	limiter *RateLimiter
	now     func() time.Time
	logger  *slog.Logger
}

func NewSubmissionService(store SubmissionStore, limiter *RateLimiter) *SubmissionService {
	return &SubmissionService{
		store:   store,
		limiter: limiter,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
}

// Save upserts the session's answers, keeping status in_progress.
// Repeated saves overwrite (last-write-wins on last_saved_at). A save
// against an already-completed row is refused so the completion
// invariant holds.
func (s *SubmissionService) Save(sessionID string, responses models.AnswerSet) (*SaveResult, error) {
	if sessionID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	if err := checkPayloadSize(responses); err != nil {
		return nil, err
	}
	now := s.now()
	ok, err := s.store.UpsertInProgressResponse(&models.SurveyResponse{
		SessionID:   sessionID,
		Responses:   responses,
		Status:      models.StatusInProgress,
		StartedAt:   now,
		LastSavedAt: now,
	})
	if err != nil {
		return nil, NewUpstreamError("save failed")
	}
	if !ok {
		return nil, NewAlreadySubmittedError("Already submitted")
	}
	return &SaveResult{SavedAt: now}, nil
}

// Submit finalizes the session's answers. The completion write is a
// single conditional update, so exactly one submit wins; later attempts
// (including concurrent retries) get AlreadySubmitted and the stored
// completed_at never changes again. A failed rate-limit increment is
// logged and swallowed: under-counting abuse is the safe failure
// direction, losing a submitted response is not.
func (s *SubmissionService) Submit(sessionID string, responses models.AnswerSet, fingerprintHash string) (*SubmitResult, error) {
	if sessionID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	if err := checkPayloadSize(responses); err != nil {
		return nil, err
	}
	now := s.now()
	completedAt := now
	ok, err := s.store.CompleteResponse(&models.SurveyResponse{
		SessionID:       sessionID,
		Responses:       responses,
		Status:          models.StatusCompleted,
		StartedAt:       now,
		LastSavedAt:     now,
		CompletedAt:     &completedAt,
		FingerprintHash: fingerprintHash,
	})
	if err != nil {
		return nil, NewUpstreamError("submit failed")
	}
	if !ok {
		return nil, NewAlreadySubmittedError("Already submitted")
	}
	if err := s.limiter.Increment(fingerprintHash); err != nil {
		s.logger.Warn("rate limit increment failed", "fingerprint", fingerprintHash, "error", err)
	}
	return &SubmitResult{SubmittedAt: now}, nil
}

func checkPayloadSize(responses models.AnswerSet) error {
	b, err := json.Marshal(responses)
	if err != nil {
		return NewInvalidError("responses not serializable")
	}
	if len(b) > MaxResponseBytes {
		return NewPayloadTooLargeError("Response too large")
	}
	return nil
}
