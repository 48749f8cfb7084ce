package services

import (
	"time"

	"github.com/insightloop/surveyd/internal/models"
)

// RateLimitStore abstracts the persistence operations the rate limiter
// needs. IncrementRateLimit must be atomic at the store layer: the
// caller never performs a read-modify-write itself, so concurrent
// submissions from the same fingerprint (multiple tabs) count correctly.
type RateLimitStore interface {
	GetRateLimit(fingerprintHash string) (*models.RateLimitRecord, error)
	IncrementRateLimit(fingerprintHash string, threshold int, blockedUntil time.Time) error
}

// RateLimitPolicy holds the admission thresholds. These are policy
// knobs, configurable at wiring time.
type RateLimitPolicy struct {
	MaxSubmissions int
	BlockWindow    time.Duration
}

func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{MaxSubmissions: 3, BlockWindow: 30 * 24 * time.Hour}
}

// Admission is the rate limiter's verdict. A denial is a normal
// outcome, not an error; Message carries the respondent-facing text.
type Admission struct {
	Admitted bool
	Message  string
}

const deniedMessage = "You have already completed this survey. Thank you!"

type RateLimiter struct {
	store  RateLimitStore
	policy RateLimitPolicy
	now    func() time.Time
}

func NewRateLimiter(store RateLimitStore, policy RateLimitPolicy) *RateLimiter {
	if policy.MaxSubmissions <= 0 {
		policy = DefaultRateLimitPolicy()
	}
	return &RateLimiter{
		store:  store,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckAndAdmit decides whether a new session may start for the given
// fingerprint. Fingerprinting is best-effort, not a security boundary:
// a missing fingerprint admits unconditionally, as does an unknown one.
func (l *RateLimiter) CheckAndAdmit(fingerprintHash string) (Admission, error) {
	if fingerprintHash == "" {
		return Admission{Admitted: true}, nil
	}
	rec, err := l.store.GetRateLimit(fingerprintHash)
	if err != nil {
		return Admission{}, NewUpstreamError("rate limit lookup failed")
	}
	if rec == nil {
		return Admission{Admitted: true}, nil
	}
	if rec.SubmissionCount >= l.policy.MaxSubmissions &&
		rec.BlockedUntil != nil && rec.BlockedUntil.After(l.now()) {
		return Admission{Admitted: false, Message: deniedMessage}, nil
	}
	return Admission{Admitted: true}, nil
}

// Increment counts one completed submission for the fingerprint. Called
// only on successful final submit, never on save. The store sets
// blocked_until once the count reaches the policy threshold.
func (l *RateLimiter) Increment(fingerprintHash string) error {
	if fingerprintHash == "" {
		return nil
	}
	blockedUntil := l.now().Add(l.policy.BlockWindow)
	return l.store.IncrementRateLimit(fingerprintHash, l.policy.MaxSubmissions, blockedUntil)
}
