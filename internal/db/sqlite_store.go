package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/insightloop/surveyd/internal/api"
	"github.com/insightloop/surveyd/internal/models"
)

// SQLiteStore is the durable api.Store. The two response writes and the
// rate-limit increment are single conditional statements, so the
// at-most-once completion and monotonic-counter invariants hold under
// concurrent requests without caller-side locking.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func NewStore(db *sql.DB) (api.Store, error) {
	return NewSQLiteStore(db)
}

var _ api.Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) GetRateLimit(fingerprintHash string) (*models.RateLimitRecord, error) {
	row := s.db.QueryRow(
		`SELECT fingerprint_hash, submission_count, blocked_until FROM rate_limits WHERE fingerprint_hash = ?`,
		fingerprintHash,
	)
	var rec models.RateLimitRecord
	var blocked sql.NullTime
	if err := row.Scan(&rec.FingerprintHash, &rec.SubmissionCount, &blocked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rate limit: %w", err)
	}
	if blocked.Valid {
		t := blocked.Time
		rec.BlockedUntil = &t
	}
	return &rec, nil
}

// IncrementRateLimit bumps the counter atomically and sets
// blocked_until the first time the count reaches threshold. One
// statement, so concurrent submits from the same fingerprint never
// lose an increment.
func (s *SQLiteStore) IncrementRateLimit(fingerprintHash string, threshold int, blockedUntil time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO rate_limits (fingerprint_hash, submission_count, blocked_until)
		 VALUES (?1, 1, CASE WHEN 1 >= ?2 THEN ?3 END)
		 ON CONFLICT(fingerprint_hash) DO UPDATE SET
		   submission_count = submission_count + 1,
		   blocked_until = CASE
		     WHEN submission_count + 1 >= ?2 THEN COALESCE(blocked_until, ?3)
		     ELSE blocked_until
		   END`,
		fingerprintHash, threshold, blockedUntil,
	)
	if err != nil {
		return fmt.Errorf("increment rate limit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertInProgressResponse(r *models.SurveyResponse) (bool, error) {
	responses, err := encodeAnswers(r.Responses)
	if err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		`INSERT INTO survey_responses (session_id, responses, status, started_at, last_saved_at)
		 VALUES (?, ?, 'in_progress', ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   responses = excluded.responses,
		   last_saved_at = excluded.last_saved_at
		 WHERE survey_responses.status != 'completed'`,
		r.SessionID, responses, r.StartedAt, r.LastSavedAt,
	)
	if err != nil {
		return false, fmt.Errorf("save response: %w", err)
	}
	return rowsAffected(res), nil
}

// CompleteResponse performs the one-way in_progress -> completed
// transition as a conditional upsert. Zero rows affected means another
// submit already completed the session; the stored row is untouched.
func (s *SQLiteStore) CompleteResponse(r *models.SurveyResponse) (bool, error) {
	responses, err := encodeAnswers(r.Responses)
	if err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		`INSERT INTO survey_responses
		   (session_id, responses, status, started_at, last_saved_at, completed_at, fingerprint_hash)
		 VALUES (?, ?, 'completed', ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   responses = excluded.responses,
		   status = 'completed',
		   last_saved_at = excluded.last_saved_at,
		   completed_at = excluded.completed_at,
		   fingerprint_hash = excluded.fingerprint_hash
		 WHERE survey_responses.status != 'completed'`,
		r.SessionID, responses, r.StartedAt, r.LastSavedAt, timePtrArg(r.CompletedAt), nullString(r.FingerprintHash),
	)
	if err != nil {
		return false, fmt.Errorf("complete response: %w", err)
	}
	return rowsAffected(res), nil
}

func (s *SQLiteStore) GetResponse(sessionID string) (*models.SurveyResponse, error) {
	row := s.db.QueryRow(
		`SELECT session_id, responses, status, started_at, last_saved_at, completed_at, fingerprint_hash
		 FROM survey_responses WHERE session_id = ?`,
		sessionID,
	)
	r, err := scanResponse(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get response: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListCompletedResponses() ([]*models.SurveyResponse, error) {
	rows, err := s.db.Query(
		`SELECT session_id, responses, status, started_at, last_saved_at, completed_at, fingerprint_hash
		 FROM survey_responses WHERE status = 'completed' ORDER BY completed_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list completed responses: %w", err)
	}
	defer rows.Close()
	var out []*models.SurveyResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("list completed responses: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddContact(c *models.Contact) error {
	_, err := s.db.Exec(
		`INSERT INTO follow_up_contacts (id, name, contact, contacted, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Contact, boolToInt(c.Contacted), c.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("add contact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetContactContacted(id string, contacted bool) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE follow_up_contacts SET contacted = ? WHERE id = ?`,
		boolToInt(contacted), id,
	)
	if err != nil {
		return false, fmt.Errorf("update contact: %w", err)
	}
	return rowsAffected(res), nil
}

func (s *SQLiteStore) ListContacts() ([]*models.Contact, error) {
	rows, err := s.db.Query(
		`SELECT id, name, contact, contacted, submitted_at FROM follow_up_contacts ORDER BY submitted_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	var out []*models.Contact
	for rows.Next() {
		var c models.Contact
		var contacted int
		if err := rows.Scan(&c.ID, &c.Name, &c.Contact, &contacted, &c.SubmittedAt); err != nil {
			return nil, fmt.Errorf("list contacts: %w", err)
		}
		c.Contacted = contacted != 0
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddPageView(e *models.PageViewEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO page_views (id, started, viewed_at) VALUES (?, ?, ?)`,
		e.ID, boolToInt(e.Started), e.ViewedAt,
	)
	if err != nil {
		return fmt.Errorf("add page view: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddQuestionProgress(e *models.QuestionProgressEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO question_progress (id, question_id, session_id, reached_at) VALUES (?, ?, ?, ?)`,
		e.ID, string(e.QuestionID), nullString(e.SessionID), e.ReachedAt,
	)
	if err != nil {
		return fmt.Errorf("add question progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPageViews() ([]*models.PageViewEvent, error) {
	rows, err := s.db.Query(`SELECT id, started, viewed_at FROM page_views ORDER BY viewed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list page views: %w", err)
	}
	defer rows.Close()
	var out []*models.PageViewEvent
	for rows.Next() {
		var e models.PageViewEvent
		var started int
		if err := rows.Scan(&e.ID, &started, &e.ViewedAt); err != nil {
			return nil, fmt.Errorf("list page views: %w", err)
		}
		e.Started = started != 0
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListQuestionProgress() ([]*models.QuestionProgressEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, question_id, session_id, reached_at FROM question_progress ORDER BY reached_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list question progress: %w", err)
	}
	defer rows.Close()
	var out []*models.QuestionProgressEvent
	for rows.Next() {
		var e models.QuestionProgressEvent
		var qid string
		var sid sql.NullString
		if err := rows.Scan(&e.ID, &qid, &sid, &e.ReachedAt); err != nil {
			return nil, fmt.Errorf("list question progress: %w", err)
		}
		e.QuestionID = models.QuestionID(qid)
		e.SessionID = sid.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResponse(row rowScanner) (*models.SurveyResponse, error) {
	var r models.SurveyResponse
	var responses string
	var status string
	var completed sql.NullTime
	var fingerprint sql.NullString
	if err := row.Scan(&r.SessionID, &responses, &status, &r.StartedAt, &r.LastSavedAt, &completed, &fingerprint); err != nil {
		return nil, err
	}
	r.Status = models.ResponseStatus(status)
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	r.FingerprintHash = fingerprint.String
	r.Responses = decodeAnswers(responses)
	return &r, nil
}

func encodeAnswers(answers models.AnswerSet) (string, error) {
	if answers == nil {
		answers = models.AnswerSet{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return string(b), nil
}

func decodeAnswers(raw string) models.AnswerSet {
	var out models.AnswerSet
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("sqlite store: decode answers", "error", err)
		return models.AnswerSet{}
	}
	return out
}

func rowsAffected(res sql.Result) bool {
	n, err := res.RowsAffected()
	if err != nil {
		slog.Warn("sqlite store: rows affected", "error", err)
		return false
	}
	return n > 0
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timePtrArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
