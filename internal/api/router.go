package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insightloop/surveyd/internal/middleware"
	"github.com/insightloop/surveyd/internal/models"
	"github.com/insightloop/surveyd/internal/services"
)

// Config carries the wiring-time knobs for the HTTP surface.
type Config struct {
	AdminEmail    string
	AdminPassHash []byte
	RateLimit     services.RateLimitPolicy
}

type Router struct {
	store       Store
	sessions    *services.SessionService
	submissions *services.SubmissionService
	contacts    *services.ContactService
	analytics   *services.AnalyticsService
	admin       *services.AdminService
}

func NewRouter(store Store, cfg Config) *Router {
	limiter := services.NewRateLimiter(store, cfg.RateLimit)
	return &Router{
		store:       store,
		sessions:    services.NewSessionService(limiter, middleware.SignSessionToken),
		submissions: services.NewSubmissionService(store, limiter),
		contacts:    services.NewContactService(store),
		analytics:   services.NewAnalyticsService(store, services.DefaultSegments()),
		admin:       services.NewAdminService(store, cfg.AdminEmail, cfg.AdminPassHash, middleware.SignAdminToken),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/survey/session", rt.handleStartSession) // POST
	mux.HandleFunc("/api/survey/save", rt.handleSave)            // POST
	mux.HandleFunc("/api/survey/submit", rt.handleSubmit)        // POST
	mux.HandleFunc("/api/contact", rt.handleContact)             // POST
	mux.HandleFunc("/api/track/page-view", rt.handleTrackPageView)
	mux.HandleFunc("/api/track/question", rt.handleTrackQuestion)

	mux.HandleFunc("/api/admin/login", rt.handleAdminLogin) // POST
	mux.Handle("/api/admin/responses", middleware.RequireAdmin(http.HandlerFunc(rt.handleAdminResponses)))
	mux.Handle("/api/admin/contacts", middleware.RequireAdmin(http.HandlerFunc(rt.handleAdminContacts)))
	mux.Handle("/api/admin/contacts/", middleware.RequireAdmin(http.HandlerFunc(rt.handleAdminContactScoped)))
	mux.Handle("/api/admin/analytics", middleware.RequireAdmin(http.HandlerFunc(rt.handleAdminAnalytics)))
	mux.Handle("/api/admin/insights", middleware.RequireAdmin(http.HandlerFunc(rt.handleAdminInsights)))
	mux.Handle("/api/admin/export", middleware.RequireAdmin(http.HandlerFunc(rt.handleAdminExport)))
}

// POST /api/survey/session {fingerprint?}
// A rate-limited denial is HTTP 200 with canSubmit=false; only an
// issuer or store failure is an error.
func (rt *Router) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := rt.sessions.Start(req.Fingerprint)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /api/survey/save {responses} with session bearer token.
func (rt *Router) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	sessionID, ok := middleware.SessionIDFromContext(r.Context())
	if !ok {
		writeErrorJSON(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Responses models.AnswerSet `json:"responses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := rt.submissions.Save(sessionID, req.Responses)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"savedAt": result.SavedAt.Format(time.RFC3339),
	})
}

// POST /api/survey/submit {responses, fingerprint?} with session bearer token.
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	sessionID, ok := middleware.SessionIDFromContext(r.Context())
	if !ok {
		writeErrorJSON(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Responses   models.AnswerSet `json:"responses"`
		Fingerprint string           `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := rt.submissions.Submit(sessionID, req.Responses, req.Fingerprint)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"submittedAt": result.SubmittedAt.Format(time.RFC3339),
	})
}

// POST /api/contact {name, contact} — public, no auth.
func (rt *Router) handleContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Name    string `json:"name"`
		Contact string `json:"contact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := rt.contacts.Submit(req.Name, req.Contact); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// POST /api/track/page-view {started}
func (rt *Router) handleTrackPageView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Started bool `json:"started"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e := &models.PageViewEvent{ID: uuid.NewString(), Started: req.Started, ViewedAt: time.Now().UTC()}
	if err := rt.store.AddPageView(e); err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "event save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// POST /api/track/question {questionId}
func (rt *Router) handleTrackQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		QuestionID string `json:"questionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.QuestionID) == "" {
		writeErrorJSON(w, http.StatusBadRequest, "questionId required")
		return
	}
	sessionID, _ := middleware.SessionIDFromContext(r.Context())
	e := &models.QuestionProgressEvent{
		ID:         uuid.NewString(),
		QuestionID: models.QuestionID(req.QuestionID),
		SessionID:  sessionID,
		ReachedAt:  time.Now().UTC(),
	}
	if err := rt.store.AddQuestionProgress(e); err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "event save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// POST /api/admin/login {email, password}
func (rt *Router) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := rt.admin.Login(req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// GET /api/admin/responses
func (rt *Router) handleAdminResponses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	rs, err := rt.admin.ListResponses()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": rs})
}

// GET /api/admin/contacts
func (rt *Router) handleAdminContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	cs, err := rt.admin.ListContacts()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": cs})
}

// PATCH /api/admin/contacts/{id} {contacted}
func (rt *Router) handleAdminContactScoped(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/contacts/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Contacted bool `json:"contacted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := rt.contacts.SetContacted(id, req.Contacted); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GET /api/admin/analytics
func (rt *Router) handleAdminAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	metrics, err := rt.analytics.Funnel()
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "analytics failed")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// GET /api/admin/insights
func (rt *Router) handleAdminInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	insights, err := rt.analytics.Insights()
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "analytics failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

// GET /api/admin/export?kind=responses|contacts
func (rt *Router) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "responses"
	}
	var (
		data     []byte
		filename string
		err      error
	)
	switch kind {
	case "responses":
		var rs []*models.SurveyResponse
		rs, err = rt.admin.ListResponses()
		if err == nil {
			data, err = services.ExportResponsesCSV(rs)
		}
		filename = "responses.csv"
	case "contacts":
		var cs []*models.Contact
		cs, err = rt.admin.ListContacts()
		if err == nil {
			data, err = services.ExportContactsCSV(cs)
		}
		filename = "contacts.csv"
	default:
		writeErrorJSON(w, http.StatusBadRequest, "unsupported export kind")
		return
	}
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// AlreadySubmitted carries a machine-readable code so the client can
// tell "you're done" apart from a real failure.
func writeServiceError(w http.ResponseWriter, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		writeErrorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	switch se.Code {
	case services.ErrorInvalid:
		writeErrorJSON(w, http.StatusBadRequest, se.Message)
	case services.ErrorUnauthorized:
		writeErrorJSON(w, http.StatusUnauthorized, se.Message)
	case services.ErrorNotFound:
		writeErrorJSON(w, http.StatusNotFound, se.Message)
	case services.ErrorPayloadTooLarge:
		writeErrorJSON(w, http.StatusRequestEntityTooLarge, se.Message)
	case services.ErrorAlreadySubmitted:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": se.Message, "code": "ALREADY_SUBMITTED"})
	default:
		writeErrorJSON(w, http.StatusInternalServerError, se.Message)
	}
}
