package api

import (
	"sort"
	"sync"
	"time"

	"github.com/insightloop/surveyd/internal/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It is the test
// backend and the fallback when no database path is configured. The
// conditional-write semantics match the SQLite store exactly.
type MemoryStore struct {
	mu         sync.RWMutex
	rateLimits map[string]*models.RateLimitRecord
	responses  map[string]*models.SurveyResponse
	contacts   []*models.Contact
	pageViews  []*models.PageViewEvent
	progress   []*models.QuestionProgressEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rateLimits: map[string]*models.RateLimitRecord{},
		responses:  map[string]*models.SurveyResponse{},
	}
}

func (s *MemoryStore) GetRateLimit(fingerprintHash string) (*models.RateLimitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rateLimits[fingerprintHash]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) IncrementRateLimit(fingerprintHash string, threshold int, blockedUntil time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rateLimits[fingerprintHash]
	if !ok {
		rec = &models.RateLimitRecord{FingerprintHash: fingerprintHash}
		s.rateLimits[fingerprintHash] = rec
	}
	rec.SubmissionCount++
	if rec.SubmissionCount >= threshold && rec.BlockedUntil == nil {
		t := blockedUntil
		rec.BlockedUntil = &t
	}
	return nil
}

func (s *MemoryStore) UpsertInProgressResponse(r *models.SurveyResponse) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *MemoryStore) CompleteResponse(r *models.SurveyResponse) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *MemoryStore) GetResponse(sessionID string) (*models.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListCompletedResponses() ([]*models.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SurveyResponse, 0)
	for _, r := range s.responses {
		if r.Status == models.StatusCompleted {
			cp := *r
			out = append(out, &cp)
		}
	}
	// newest completion first
	sort.Slice(out, func(i, j int) bool {
		ti, tj := timeOrZero(out[i].CompletedAt), timeOrZero(out[j].CompletedAt)
		if ti.Equal(tj) {
			return out[i].SessionID < out[j].SessionID
		}
		return ti.After(tj)
	})
	return out, nil
}

func (s *MemoryStore) AddContact(c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.contacts = append(s.contacts, &cp)
	return nil
}

func (s *MemoryStore) SetContactContacted(id string, contacted bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.ID == id {
			c.Contacted = contacted
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListContacts() ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		cp := *c
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

func (s *MemoryStore) AddPageView(e *models.PageViewEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.pageViews = append(s.pageViews, &cp)
	return nil
}

func (s *MemoryStore) AddQuestionProgress(e *models.QuestionProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.progress = append(s.progress, &cp)
	return nil
}

func (s *MemoryStore) ListPageViews() ([]*models.PageViewEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PageViewEvent, 0, len(s.pageViews))
	for _, e := range s.pageViews {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListQuestionProgress() ([]*models.QuestionProgressEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.QuestionProgressEvent, 0, len(s.progress))
	for _, e := range s.progress {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
