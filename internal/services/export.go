package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/insightloop/surveyd/internal/models"
)

// ExportResponsesCSV renders completed responses with one row per
// session. The header carries the fixed columns followed by the union
// of question ids across all rows, sorted for stable output.
// Multi-choice answers are joined with "; " inside a single cell.
func ExportResponsesCSV(rs []*models.SurveyResponse) ([]byte, error) {
	qidSet := map[models.QuestionID]struct{}{}
	for _, r := range rs {
		for qid := range r.Responses {
			qidSet[qid] = struct{}{}
		}
	}
	qids := make([]string, 0, len(qidSet))
	for qid := range qidSet {
		qids = append(qids, string(qid))
	}
	sort.Strings(qids)

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := append([]string{"session_id", "started_at", "completed_at"}, qids...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rs {
		rec := []string{r.SessionID, formatTime(r.StartedAt), formatTimePtr(r.CompletedAt)}
		for _, qid := range qids {
			rec = append(rec, answerCell(r.Responses[models.QuestionID(qid)]))
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportContactsCSV renders the captured contacts.
func ExportContactsCSV(cs []*models.Contact) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write([]string{"id", "name", "contact", "contacted", "submitted_at"}); err != nil {
		return nil, err
	}
	for _, c := range cs {
		rec := []string{c.ID, c.Name, c.Contact, strconv.FormatBool(c.Contacted), formatTime(c.SubmittedAt)}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func answerCell(a models.Answer) string {
	if choices, ok := a.Choices(); ok {
		return strings.Join(choices, "; ")
	}
	text, _ := a.Text()
	return text
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
