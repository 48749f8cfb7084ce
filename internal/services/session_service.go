package services

import (
	"time"

	"github.com/google/uuid"
)

// TokenIssuer mints a bearer credential whose subject is the given
// session id. In production this is the JWT signer from the middleware
// package; tests inject a stub.
type TokenIssuer func(sessionID string, ttl time.Duration) (string, error)

// StartResult is the outcome of a session start attempt. A rate-limited
// denial is a normal result (CanSubmit=false with a friendly message),
// surfaced to the client as HTTP 200.
type StartResult struct {
	CanSubmit bool   `json:"canSubmit"`
	SessionID string `json:"sessionId,omitempty"`
	Token     string `json:"token,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SessionService orchestrates anonymous session creation. It is
// stateless apart from its call into the rate limiter; session identity
// lives entirely in the issued credential.
type SessionService struct {
	limiter  *RateLimiter
	issue    TokenIssuer
	tokenTTL time.Duration
	idGen    func() string
}

func NewSessionService(limiter *RateLimiter, issuer TokenIssuer) *SessionService {
	return &SessionService{
		limiter:  limiter,
		issue:    issuer,
		tokenTTL: 24 * time.Hour,
		idGen:    uuid.NewString,
	}
}

func (s *SessionService) Start(fingerprintHash string) (*StartResult, error) {
	adm, err := s.limiter.CheckAndAdmit(fingerprintHash)
	if err != nil {
		return nil, err
	}
	if !adm.Admitted {
		return &StartResult{CanSubmit: false, Message: adm.Message}, nil
	}
	if s.issue == nil {
		return nil, NewUpstreamError("session issuer not configured")
	}
	sessionID := s.idGen()
	token, err := s.issue(sessionID, s.tokenTTL)
	if err != nil {
		return nil, NewUpstreamError("session issuer unavailable")
	}
	return &StartResult{CanSubmit: true, SessionID: sessionID, Token: token}, nil
}
