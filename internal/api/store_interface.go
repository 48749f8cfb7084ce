package api

import (
	"time"

	"github.com/insightloop/surveyd/internal/models"
)

// Store is the full persistence surface of the service. The SQLite
// store implements it for production; MemoryStore backs tests and
// zero-config runs. Each service depends only on the narrow slice it
// declares, so any Store satisfies all of them.
type Store interface {
	// Rate limiting. IncrementRateLimit is atomic: it bumps the counter
	// and sets blocked_until (once) when the count reaches threshold,
	// in a single store-level operation.
	GetRateLimit(fingerprintHash string) (*models.RateLimitRecord, error)
	IncrementRateLimit(fingerprintHash string, threshold int, blockedUntil time.Time) error

	// Survey responses. Both writes return false, leaving the row
	// untouched, when it is already completed.
	UpsertInProgressResponse(r *models.SurveyResponse) (bool, error)
	CompleteResponse(r *models.SurveyResponse) (bool, error)
	GetResponse(sessionID string) (*models.SurveyResponse, error)
	ListCompletedResponses() ([]*models.SurveyResponse, error)

	// Follow-up contacts.
	AddContact(c *models.Contact) error
	SetContactContacted(id string, contacted bool) (bool, error)
	ListContacts() ([]*models.Contact, error)

	// Funnel events, append-only.
	AddPageView(e *models.PageViewEvent) error
	AddQuestionProgress(e *models.QuestionProgressEvent) error
	ListPageViews() ([]*models.PageViewEvent, error)
	ListQuestionProgress() ([]*models.QuestionProgressEvent, error)
}

var _ Store = (*MemoryStore)(nil)
