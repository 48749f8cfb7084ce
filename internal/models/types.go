package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QuestionID identifies a survey question (e.g. "q3"). Question ids are
// defined by the frontend survey definition; the backend treats them as
// opaque keys.
type QuestionID string

type answerKind int

const (
	answerText answerKind = iota
	answerMulti
)

// Answer is one respondent's answer to a single question: either free
// text (also used for single-choice questions, which store the chosen
// label) or a set of selected choices for multi-select questions.
// On the wire it is a JSON string or a JSON array of strings.
type Answer struct {
	kind    answerKind
	text    string
	choices []string
}

func TextAnswer(s string) Answer { return Answer{kind: answerText, text: s} }

func MultiChoiceAnswer(choices ...string) Answer {
	return Answer{kind: answerMulti, choices: append([]string(nil), choices...)}
}

func (a Answer) IsMulti() bool { return a.kind == answerMulti }

// Text returns the free-text value and whether this is a text answer.
func (a Answer) Text() (string, bool) { return a.text, a.kind == answerText }

// Choices returns a copy of the selected choices and whether this is a
// multi-choice answer.
func (a Answer) Choices() ([]string, bool) {
	if a.kind != answerMulti {
		return nil, false
	}
	return append([]string(nil), a.choices...), true
}

// Matches reports whether the answer equals value (text answers) or
// includes value among the selected choices (multi-choice answers).
func (a Answer) Matches(value string) bool {
	if a.kind == answerText {
		return a.text == value
	}
	for _, c := range a.choices {
		if c == value {
			return true
		}
	}
	return false
}

// ContainsSubstring reports whether any selected choice (or the text
// value) contains sub. Used by segment matching against long choice
// labels.
func (a Answer) ContainsSubstring(sub string) bool {
	if a.kind == answerText {
		return strings.Contains(a.text, sub)
	}
	for _, c := range a.choices {
		if strings.Contains(c, sub) {
			return true
		}
	}
	return false
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.kind == answerMulti {
		return json.Marshal(a.choices)
	}
	return json.Marshal(a.text)
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var choices []string
		if err := json.Unmarshal(data, &choices); err != nil {
			return fmt.Errorf("decode multi-choice answer: %w", err)
		}
		*a = Answer{kind: answerMulti, choices: choices}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("decode text answer: %w", err)
	}
	*a = Answer{kind: answerText, text: text}
	return nil
}

// AnswerSet maps question ids to answers for one session.
type AnswerSet map[QuestionID]Answer

// ResponseStatus is the lifecycle state of a survey response. The only
// permitted transition is in_progress -> completed, exactly once.
type ResponseStatus string

const (
	StatusInProgress ResponseStatus = "in_progress"
	StatusCompleted  ResponseStatus = "completed"
)

// SurveyResponse is one session's survey answers. The session id is both
// the primary key and the ownership token: only the bearer of the
// matching session credential may write the row.
type SurveyResponse struct {
	SessionID       string         `json:"session_id"`
	Responses       AnswerSet      `json:"responses"`
	Status          ResponseStatus `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	LastSavedAt     time.Time      `json:"last_saved_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	FingerprintHash string         `json:"fingerprint_hash,omitempty"`
}

// RateLimitRecord tracks completed submissions per device fingerprint.
// Rows are never deleted; submission_count only increases.
type RateLimitRecord struct {
	FingerprintHash string     `json:"fingerprint_hash"`
	SubmissionCount int        `json:"submission_count"`
	BlockedUntil    *time.Time `json:"blocked_until,omitempty"`
}

// Contact is a follow-up lead captured by the public contact form.
type Contact struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Contact     string    `json:"contact"`
	Contacted   bool      `json:"contacted"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PageViewEvent records one landing-page view. Started marks views
// where the visitor began the survey. Append-only.
type PageViewEvent struct {
	ID       string    `json:"id"`
	Started  bool      `json:"started"`
	ViewedAt time.Time `json:"viewed_at"`
}

// QuestionProgressEvent records that a session reached a question.
// Append-only; consumed only by the analytics aggregator.
type QuestionProgressEvent struct {
	ID         string     `json:"id"`
	QuestionID QuestionID `json:"question_id"`
	SessionID  string     `json:"session_id,omitempty"`
	ReachedAt  time.Time  `json:"reached_at"`
}
