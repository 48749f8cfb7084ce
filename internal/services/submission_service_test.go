package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/insightloop/surveyd/internal/models"
)

// stubSubmissionStore mirrors the conditional-write contract of the
// real stores: a completed row is immutable.
type stubSubmissionStore struct {
	responses map[string]*models.SurveyResponse
	saveErr   error
}

func newStubSubmissionStore() *stubSubmissionStore {
	return &stubSubmissionStore{responses: map[string]*models.SurveyResponse{}}
}

func (s *stubSubmissionStore) UpsertInProgressResponse(r *models.SurveyResponse) (bool, error) {
	if s.saveErr != nil {
		return false, s.saveErr
	}
	existing, ok := s.responses[r.SessionID]
	if !ok {
		cp := *r
		s.responses[r.SessionID] = &cp
		return true, nil
	}
	if existing.Status == models.StatusCompleted {
		return false, nil
	}
	existing.Responses = r.Responses
	existing.LastSavedAt = r.LastSavedAt
	return true, nil
}

func (s *stubSubmissionStore) CompleteResponse(r *models.SurveyResponse) (bool, error) {
	if s.saveErr != nil {
		return false, s.saveErr
	}
	existing, ok := s.responses[r.SessionID]
	if !ok {
		cp := *r
		s.responses[r.SessionID] = &cp
		return true, nil
	}
	if existing.Status == models.StatusCompleted {
		return false, nil
	}
	existing.Responses = r.Responses
	existing.Status = models.StatusCompleted
	existing.LastSavedAt = r.LastSavedAt
	existing.CompletedAt = r.CompletedAt
	existing.FingerprintHash = r.FingerprintHash
	return true, nil
}

func newTestSubmissionService(store SubmissionStore, rl *stubRateLimitStore) *SubmissionService {
	if rl == nil {
		rl = newStubRateLimitStore()
	}
	return NewSubmissionService(store, NewRateLimiter(rl, DefaultRateLimitPolicy()))
}

func TestSaveLastWriteWins(t *testing.T) {
	store := newStubSubmissionStore()
	svc := newTestSubmissionService(store, nil)
	t1 := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)

	svc.now = func() time.Time { return t1 }
	if _, err := svc.Save("S1", models.AnswerSet{"q1": models.TextAnswer("first")}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	svc.now = func() time.Time { return t2 }
	if _, err := svc.Save("S1", models.AnswerSet{"q1": models.TextAnswer("second")}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	row := store.responses["S1"]
	if row.Status != models.StatusInProgress {
		t.Fatalf("status = %q, want in_progress", row.Status)
	}
	if !row.Responses["q1"].Matches("second") {
		t.Fatal("latest payload must win")
	}
	if !row.LastSavedAt.Equal(t2) {
		t.Fatalf("last_saved_at = %v, want %v", row.LastSavedAt, t2)
	}
	if !row.StartedAt.Equal(t1) {
		t.Fatalf("started_at = %v, want first save time %v", row.StartedAt, t1)
	}
}

func TestSaveRequiresSession(t *testing.T) {
	svc := newTestSubmissionService(newStubSubmissionStore(), nil)
	_, err := svc.Save("", models.AnswerSet{})
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("save without session must be unauthorized, got %v", err)
	}
}

func TestPayloadTooLargeRejectedWithoutWrite(t *testing.T) {
	store := newStubSubmissionStore()
	svc := newTestSubmissionService(store, nil)
	huge := models.AnswerSet{"q1": models.TextAnswer(strings.Repeat("x", MaxResponseBytes+1))}

	_, err := svc.Save("S1", huge)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorPayloadTooLarge {
		t.Fatalf("oversize save must fail with payload_too_large, got %v", err)
	}
	_, err = svc.Submit("S1", huge, "fp1")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorPayloadTooLarge {
		t.Fatalf("oversize submit must fail with payload_too_large, got %v", err)
	}
	if len(store.responses) != 0 {
		t.Fatal("no row may be written for an oversize payload")
	}
}

func TestSubmitCompletesOnceAndIncrements(t *testing.T) {
	store := newStubSubmissionStore()
	rl := newStubRateLimitStore()
	svc := newTestSubmissionService(store, rl)
	now := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	result, err := svc.Submit("S1", models.AnswerSet{"q1": models.TextAnswer("done")}, "fp1")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if !result.SubmittedAt.Equal(now) {
		t.Fatalf("submittedAt = %v, want %v", result.SubmittedAt, now)
	}
	row := store.responses["S1"]
	if row.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed", row.Status)
	}
	if row.FingerprintHash != "fp1" {
		t.Fatalf("fingerprint = %q, want fp1", row.FingerprintHash)
	}
	if rl.records["fp1"] == nil || rl.records["fp1"].SubmissionCount != 1 {
		t.Fatal("successful submit must increment the rate limit exactly once")
	}
}

func TestSubmitTwiceIsAlreadySubmitted(t *testing.T) {
	store := newStubSubmissionStore()
	rl := newStubRateLimitStore()
	svc := newTestSubmissionService(store, rl)
	t1 := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return t1 }

	if _, err := svc.Submit("S1", models.AnswerSet{"q1": models.TextAnswer("v1")}, "fp1"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	firstCompleted := *store.responses["S1"].CompletedAt

	svc.now = func() time.Time { return t1.Add(time.Minute) }
	_, err := svc.Submit("S1", models.AnswerSet{"q1": models.TextAnswer("v2")}, "fp1")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorAlreadySubmitted {
		t.Fatalf("second submit must be already_submitted, got %v", err)
	}

	row := store.responses["S1"]
	if !row.CompletedAt.Equal(firstCompleted) {
		t.Fatal("completed_at must never change after the first completion")
	}
	if !row.Responses["q1"].Matches("v1") {
		t.Fatal("a rejected submit must not overwrite the stored answers")
	}
	if rl.records["fp1"].SubmissionCount != 1 {
		t.Fatalf("rate limit count = %d, want 1 (no double counting)", rl.records["fp1"].SubmissionCount)
	}
}

func TestSubmitAfterSavePreservesStartedAt(t *testing.T) {
	store := newStubSubmissionStore()
	svc := newTestSubmissionService(store, nil)
	t1 := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(12 * time.Minute)

	svc.now = func() time.Time { return t1 }
	if _, err := svc.Save("S1", models.AnswerSet{"q1": models.TextAnswer("partial")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	svc.now = func() time.Time { return t2 }
	if _, err := svc.Submit("S1", models.AnswerSet{"q1": models.TextAnswer("final")}, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	row := store.responses["S1"]
	if !row.StartedAt.Equal(t1) {
		t.Fatalf("started_at = %v, want save time %v", row.StartedAt, t1)
	}
	if row.CompletedAt == nil || !row.CompletedAt.Equal(t2) {
		t.Fatalf("completed_at = %v, want %v", row.CompletedAt, t2)
	}
}

func TestSaveAfterSubmitRefused(t *testing.T) {
	store := newStubSubmissionStore()
	svc := newTestSubmissionService(store, nil)

	if _, err := svc.Submit("S1", models.AnswerSet{"q1": models.TextAnswer("final")}, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := svc.Save("S1", models.AnswerSet{"q1": models.TextAnswer("late")})
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorAlreadySubmitted {
		t.Fatalf("save after submit must be already_submitted, got %v", err)
	}
	if store.responses["S1"].Status != models.StatusCompleted {
		t.Fatal("completed row must stay completed")
	}
}

func TestIncrementFailureDoesNotFailSubmit(t *testing.T) {
	store := newStubSubmissionStore()
	rl := newStubRateLimitStore()
	rl.incErr = errors.New("counter service down")
	svc := newTestSubmissionService(store, rl)

	if _, err := svc.Submit("S1", models.AnswerSet{"q1": models.TextAnswer("done")}, "fp1"); err != nil {
		t.Fatalf("submit must succeed even when the increment fails, got %v", err)
	}
	if store.responses["S1"].Status != models.StatusCompleted {
		t.Fatal("response must be committed despite increment failure")
	}
}
