package services

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insightloop/surveyd/internal/models"
)

const maxContactFieldLen = 200

type ContactStore interface {
	AddContact(c *models.Contact) error
	SetContactContacted(id string, contacted bool) (bool, error)
}

// ContactService handles the public lead-capture form. Deliberately
// unauthenticated and outside the survey rate limit: the form is
// reachable without a survey session.
type ContactService struct {
	store ContactStore
	now   func() time.Time
	idGen func() string
}

func NewContactService(store ContactStore) *ContactService {
	return &ContactService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: uuid.NewString,
	}
}

func (s *ContactService) Submit(name, contact string) (*models.Contact, error) {
	name = strings.TrimSpace(name)
	contact = strings.TrimSpace(contact)
	if name == "" || contact == "" {
		return nil, NewInvalidError("Name and contact are required")
	}
	if len(name) > maxContactFieldLen || len(contact) > maxContactFieldLen {
		return nil, NewInvalidError("Input too long")
	}
	c := &models.Contact{
		ID:          s.idGen(),
		Name:        name,
		Contact:     contact,
		SubmittedAt: s.now(),
	}
	if err := s.store.AddContact(c); err != nil {
		return nil, NewUpstreamError("contact save failed")
	}
	return c, nil
}

func (s *ContactService) SetContacted(id string, contacted bool) error {
	if id == "" {
		return NewInvalidError("id required")
	}
	ok, err := s.store.SetContactContacted(id, contacted)
	if err != nil {
		return NewUpstreamError("contact update failed")
	}
	if !ok {
		return NewNotFoundError("contact not found")
	}
	return nil
}
