package services

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/insightloop/surveyd/internal/models"
)

type AdminStore interface {
	ListCompletedResponses() ([]*models.SurveyResponse, error)
	ListContacts() ([]*models.Contact, error)
}

// AdminTokenSigner mints a bearer token carrying the admin role.
type AdminTokenSigner func(email string, ttl time.Duration) (string, error)

// AdminService backs the administrator read path. A single operator
// credential is configured at wiring time; the password is held only
// as a bcrypt hash.
type AdminService struct {
	store    AdminStore
	email    string
	passHash []byte
	sign     AdminTokenSigner
	tokenTTL time.Duration
}

func NewAdminService(store AdminStore, email string, passHash []byte, signer AdminTokenSigner) *AdminService {
	return &AdminService{
		store:    store,
		email:    strings.ToLower(strings.TrimSpace(email)),
		passHash: passHash,
		sign:     signer,
		tokenTTL: 12 * time.Hour,
	}
}

func (s *AdminService) Login(email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if s.email == "" || len(s.passHash) == 0 {
		return "", NewUnauthorizedError("admin access not configured")
	}
	if email != s.email {
		return "", NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(s.passHash, []byte(password)); err != nil {
		return "", NewUnauthorizedError("invalid credentials")
	}
	if s.sign == nil {
		return "", NewUpstreamError("token signer not configured")
	}
	token, err := s.sign(email, s.tokenTTL)
	if err != nil {
		return "", NewUpstreamError("token signing failed")
	}
	return token, nil
}

// ListResponses returns completed responses, newest completion first.
func (s *AdminService) ListResponses() ([]*models.SurveyResponse, error) {
	rs, err := s.store.ListCompletedResponses()
	if err != nil {
		return nil, NewUpstreamError("response listing failed")
	}
	return rs, nil
}

// ListContacts returns captured contacts, newest first.
func (s *AdminService) ListContacts() ([]*models.Contact, error) {
	cs, err := s.store.ListContacts()
	if err != nil {
		return nil, NewUpstreamError("contact listing failed")
	}
	return cs, nil
}
