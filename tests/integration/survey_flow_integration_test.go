//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/insightloop/surveyd/internal/api"
	"github.com/insightloop/surveyd/internal/middleware"
	"github.com/insightloop/surveyd/internal/services"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("Secret123!"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	rt := api.NewRouter(api.NewMemoryStore(), api.Config{
		AdminEmail:    "admin@example.com",
		AdminPassHash: hash,
		RateLimit:     services.DefaultRateLimitPolicy(),
	})
	mux := http.NewServeMux()
	rt.Register(mux)
	handler := middleware.CORS(middleware.SecureHeaders(middleware.NoStore(middleware.WithAuth(mux))))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s status %d body %s", url, resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s response %q: %v", url, string(data), err)
		}
	}
}

func TestSurveyJourneyIntegration(t *testing.T) {
	srv := newTestServer(t)
	client := &http.Client{Timeout: 5 * time.Second}
	base := srv.URL

	// Landing traffic before anyone fills anything in.
	doPost(t, client, base+"/api/track/page-view", "", map[string]bool{"started": false}, nil)
	doPost(t, client, base+"/api/track/page-view", "", map[string]bool{"started": true}, nil)

	fingerprint := "device-abc123"

	// Three full runs from the same device are allowed.
	for i := 0; i < 3; i++ {
		var start struct {
			CanSubmit bool   `json:"canSubmit"`
			SessionID string `json:"sessionId"`
			Token     string `json:"token"`
		}
		doPost(t, client, base+"/api/survey/session", "", map[string]string{"fingerprint": fingerprint}, &start)
		if !start.CanSubmit || start.Token == "" {
			t.Fatalf("run %d: unexpected session response %+v", i, start)
		}

		doPost(t, client, base+"/api/track/question", start.Token, map[string]string{"questionId": "q1"}, nil)

		var save struct {
			Success bool `json:"success"`
		}
		doPost(t, client, base+"/api/survey/save", start.Token, map[string]any{
			"responses": map[string]any{"q1": "draft answer"},
		}, &save)
		if !save.Success {
			t.Fatalf("run %d: save did not succeed", i)
		}

		var submit struct {
			Success bool `json:"success"`
		}
		doPost(t, client, base+"/api/survey/submit", start.Token, map[string]any{
			"responses":   map[string]any{"q1": "final answer", "q2": []string{"Option A"}},
			"fingerprint": fingerprint,
		}, &submit)
		if !submit.Success {
			t.Fatalf("run %d: submit did not succeed", i)
		}
	}

	// The fourth attempt from that device is politely turned away.
	var denied struct {
		CanSubmit bool   `json:"canSubmit"`
		Token     string `json:"token"`
		Message   string `json:"message"`
	}
	doPost(t, client, base+"/api/survey/session", "", map[string]string{"fingerprint": fingerprint}, &denied)
	if denied.CanSubmit || denied.Token != "" {
		t.Fatalf("fourth session from same device = %+v, want denial without token", denied)
	}
	if !strings.Contains(denied.Message, "already completed") {
		t.Fatalf("denial message = %q", denied.Message)
	}

	// A different device is unaffected.
	var other struct {
		CanSubmit bool `json:"canSubmit"`
	}
	doPost(t, client, base+"/api/survey/session", "", map[string]string{"fingerprint": "device-other"}, &other)
	if !other.CanSubmit {
		t.Fatal("a fresh device must still be admitted")
	}

	doPost(t, client, base+"/api/contact", "", map[string]string{
		"name": "Ada Lovelace", "contact": "ada@example.com",
	}, nil)

	var login struct {
		Token string `json:"token"`
	}
	doPost(t, client, base+"/api/admin/login", "", map[string]string{
		"email": "admin@example.com", "password": "Secret123!",
	}, &login)
	if login.Token == "" {
		t.Fatal("admin login did not return token")
	}

	var analytics struct {
		PageViews int `json:"pageViews"`
		Started   int `json:"started"`
		Completed int `json:"completed"`
	}
	doGet(t, client, base+"/api/admin/analytics", login.Token, &analytics)
	if analytics.PageViews != 2 || analytics.Started != 1 || analytics.Completed != 3 {
		t.Fatalf("analytics = %+v, want 2 views / 1 started / 3 completed", analytics)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/api/admin/export?kind=responses", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer resp.Body.Close()
	csvData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status %d body %s", resp.StatusCode, string(csvData))
	}
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	if len(lines) != 4 {
		t.Fatalf("export lines = %d, want header + 3 completed rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "session_id,started_at,completed_at") {
		t.Fatalf("export header = %q", lines[0])
	}
}

func doGet(t *testing.T, client *http.Client, url, token string, out any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status %d body %s", url, resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s response %q: %v", url, string(data), err)
	}
}
