package services

import (
	"math"
	"sort"

	"github.com/insightloop/surveyd/internal/models"
)

// AnalyticsStore provides the three raw collections the aggregator
// consumes. Implementations return rows in stored order.
type AnalyticsStore interface {
	ListPageViews() ([]*models.PageViewEvent, error)
	ListQuestionProgress() ([]*models.QuestionProgressEvent, error)
	ListCompletedResponses() ([]*models.SurveyResponse, error)
}

type QuestionDropOff struct {
	QuestionID  models.QuestionID `json:"question"`
	Reached     int               `json:"reached"`
	DropOffRate int               `json:"dropOffRate"`
}

// FunnelMetrics is a derived view over the raw event rows. It is never
// persisted; it is recomputed on demand.
type FunnelMetrics struct {
	PageViews                int               `json:"pageViews"`
	Started                  int               `json:"started"`
	Completed                int               `json:"completed"`
	AvgCompletionTimeMinutes float64           `json:"avgCompletionTimeMinutes"`
	DropOffByQuestion        []QuestionDropOff `json:"dropOffByQuestion"`
}

// Segment selects completed responses by answer values on one question.
// AnyOf matches whole values (text equality or choice membership);
// AnyContains matches substrings of choice labels, which the insight
// definitions use against long multi-select options.
type Segment struct {
	Key         string
	Label       string
	Question    models.QuestionID
	AnyOf       []string
	AnyContains []string
}

type Insight struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Percent int    `json:"percent"`
}

// BuildFunnelMetrics computes the funnel view from raw rows. It is a
// pure function: no side effects, no mutation of inputs, deterministic
// for the same inputs.
//
// Drop-off per question is round((started-reached)/started*100); a
// negative rate (more sessions reached a question than "started" was
// recorded) is an instrumentation anomaly and is preserved as-is.
// Questions are ordered by descending drop-off rate, ties keeping
// first-encounter order.
func BuildFunnelMetrics(pageViews []*models.PageViewEvent, progress []*models.QuestionProgressEvent, completed []*models.SurveyResponse) *FunnelMetrics {
	started := 0
	for _, pv := range pageViews {
		if pv.Started {
			started++
		}
	}

	var avgMinutes float64
	times := make([]float64, 0, len(completed))
	for _, r := range completed {
		if r.CompletedAt == nil || r.StartedAt.IsZero() {
			continue
		}
		times = append(times, r.CompletedAt.Sub(r.StartedAt).Minutes())
	}
	if len(times) > 0 {
		sum := 0.0
		for _, m := range times {
			sum += m
		}
		avgMinutes = roundTenth(sum / float64(len(times)))
	}

	reached := map[models.QuestionID]int{}
	order := make([]models.QuestionID, 0)
	for _, qp := range progress {
		if _, seen := reached[qp.QuestionID]; !seen {
			order = append(order, qp.QuestionID)
		}
		reached[qp.QuestionID]++
	}
	dropOff := make([]QuestionDropOff, 0, len(order))
	for _, qid := range order {
		n := reached[qid]
		rate := 0
		if started > 0 {
			rate = roundPercent(float64(started-n) / float64(started) * 100)
		}
		dropOff = append(dropOff, QuestionDropOff{QuestionID: qid, Reached: n, DropOffRate: rate})
	}
	sort.SliceStable(dropOff, func(i, j int) bool { return dropOff[i].DropOffRate > dropOff[j].DropOffRate })

	return &FunnelMetrics{
		PageViews:                len(pageViews),
		Started:                  started,
		Completed:                len(completed),
		AvgCompletionTimeMinutes: avgMinutes,
		DropOffByQuestion:        dropOff,
	}
}

// SegmentRate is round(matching/total*100) over completed responses,
// or 0 when there are none (never a division error).
func SegmentRate(completed []*models.SurveyResponse, seg Segment) int {
	if len(completed) == 0 {
		return 0
	}
	matching := 0
	for _, r := range completed {
		if segmentMatches(r.Responses, seg) {
			matching++
		}
	}
	return roundPercent(float64(matching) / float64(len(completed)) * 100)
}

func segmentMatches(answers models.AnswerSet, seg Segment) bool {
	a, ok := answers[seg.Question]
	if !ok {
		return false
	}
	for _, v := range seg.AnyOf {
		if a.Matches(v) {
			return true
		}
	}
	for _, sub := range seg.AnyContains {
		if a.ContainsSubstring(sub) {
			return true
		}
	}
	return false
}

type AnalyticsService struct {
	store    AnalyticsStore
	segments []Segment
}

func NewAnalyticsService(store AnalyticsStore, segments []Segment) *AnalyticsService {
	return &AnalyticsService{store: store, segments: segments}
}

func (s *AnalyticsService) Funnel() (*FunnelMetrics, error) {
	pvs, err := s.store.ListPageViews()
	if err != nil {
		return nil, err
	}
	qps, err := s.store.ListQuestionProgress()
	if err != nil {
		return nil, err
	}
	completed, err := s.store.ListCompletedResponses()
	if err != nil {
		return nil, err
	}
	return BuildFunnelMetrics(pvs, qps, completed), nil
}

func (s *AnalyticsService) Insights() ([]Insight, error) {
	completed, err := s.store.ListCompletedResponses()
	if err != nil {
		return nil, err
	}
	out := make([]Insight, 0, len(s.segments))
	for _, seg := range s.segments {
		out = append(out, Insight{Key: seg.Key, Label: seg.Label, Percent: SegmentRate(completed, seg)})
	}
	return out, nil
}

// DefaultSegments mirrors the product-insight cards on the admin
// dashboard. The question ids and option labels come from the survey
// definition shipped with the frontend.
func DefaultSegments() []Segment {
	return []Segment{
		{
			Key:      "tried_and_quit",
			Label:    "Tried journaling but stopped",
			Question: "q3",
			AnyOf:    []string{"Yes, but I stopped", "I've tried a few times but it never stuck"},
		},
		{
			Key:      "pattern_struggle",
			Label:    "Struggle to see their patterns",
			Question: "q7",
			AnyOf: []string{
				"Not really: I know something's there but can't see it clearly",
				"No, this is something I actively struggle with",
			},
		},
		{
			Key:         "therapy_gaps",
			Label:       "Therapy users with unmet needs",
			Question:    "q10",
			AnyContains: []string{"gap between sessions", "recall specific situations"},
		},
		{
			Key:      "ai_open",
			Label:    "Excited or curious about AI for self-reflection",
			Question: "q13",
			AnyOf: []string{
				"Excited: that sounds genuinely useful",
				"Curious but cautious: I'd want to understand how it works",
			},
		},
		{
			Key:      "willing_to_pay",
			Label:    "Willing to pay $5+/month",
			Question: "q17",
			AnyOf: []string{
				"$5 to $10 per month",
				"$11 to $20 per month",
				"$21 to $30 per month",
				"More than $30 per month, if it actually worked",
			},
		},
	}
}

// roundPercent matches the dashboard's Math.round: halves round toward
// positive infinity, and negatives survive.
func roundPercent(x float64) int { return int(math.Floor(x + 0.5)) }

func roundTenth(x float64) float64 { return math.Floor(x*10+0.5) / 10 }
