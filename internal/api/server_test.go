package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/proficienthub/mockexam-engine/internal/config"
	"github.com/proficienthub/mockexam-engine/internal/content"
	"github.com/proficienthub/mockexam-engine/internal/exam"
	"github.com/proficienthub/mockexam-engine/internal/examtypes"
	"github.com/proficienthub/mockexam-engine/internal/ledger"
	"github.com/proficienthub/mockexam-engine/internal/models"
	"github.com/proficienthub/mockexam-engine/internal/storage"
)

const (
	testAPIKey   = "sk_test_0123456789abcdef"
	testUserID   = "user-1"
	testExamType = "ielts_academic"
)

type testServer struct {
	server *httptest.Server
	repo   *storage.MemoryRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := storage.NewMemoryRepository()
	repo.SeedClient(&models.APIClient{
		ID:          1,
		Name:        "test-client",
		APIKey:      testAPIKey,
		IsActive:    true,
		CreatedAt:   time.Now(),
		Permissions: []string{"*"},
	})
	repo.SeedStudent(&models.Student{
		ID:         "student-1",
		AcademyID:  "academy-1",
		UserID:     testUserID,
		Active:     true,
		EnrolledAt: time.Now(),
	})
	expires := time.Now().Add(30 * 24 * time.Hour)
	repo.SeedPlan(&models.ExamPlan{
		ID:           "plan-1",
		AcademyID:    "academy-1",
		ExamType:     testExamType,
		PlanName:     "Test Plan",
		TotalCredits: 10,
		Status:       models.PlanActive,
		StartsAt:     time.Now().Add(-time.Hour),
		ExpiresAt:    &expires,
		CreatedAt:    time.Now(),
	})

	registry := examtypes.NewRegistry()
	credits := ledger.New(repo)
	orchestrator := exam.New(repo, credits, registry, &content.StaticGenerator{}, nil)

	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, orchestrator, registry, repo, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testServer{server: ts, repo: repo}
}

func (ts *testServer) request(t *testing.T, method, path, apiKey string, body interface{}) (*http.Response, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	return resp, envelope
}

func decodeData(t *testing.T, envelope apiResponse, out interface{}) {
	t.Helper()
	data, err := json.Marshal(envelope.Data)
	if err != nil {
		t.Fatalf("re-marshal data: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.server.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMissingAPIKeyRejected(t *testing.T) {
	ts := newTestServer(t)

	// Auth failures use the same envelope as every other error
	resp, envelope := ts.request(t, "GET", "/api/v1/exam-types", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if envelope.Success {
		t.Error("expected success=false")
	}
	if envelope.Error == nil || envelope.Error.Code != "missing_api_key" {
		t.Errorf("expected missing_api_key, got %+v", envelope.Error)
	}
}

func TestInvalidAPIKeyRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, envelope := ts.request(t, "GET", "/api/v1/exam-types", "sk_bogus", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "invalid_api_key" {
		t.Errorf("expected invalid_api_key, got %+v", envelope.Error)
	}
}

func TestInactiveClientRejected(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.SeedClient(&models.APIClient{
		ID:          2,
		Name:        "disabled",
		APIKey:      "sk_disabled_123456",
		IsActive:    false,
		Permissions: []string{"*"},
	})

	resp, _ := ts.request(t, "GET", "/api/v1/exam-types", "sk_disabled_123456", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestPermissionEnforced(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.SeedClient(&models.APIClient{
		ID:          3,
		Name:        "read-only",
		APIKey:      "sk_readonly_1234567",
		IsActive:    true,
		Permissions: []string{"attempts:read", "credits:read", "exams:read"},
	})

	// Reads allowed
	resp, _ := ts.request(t, "GET", "/api/v1/exam-types", "sk_readonly_1234567", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for read, got %d", resp.StatusCode)
	}

	// Writes denied
	resp, envelope := ts.request(t, "POST", "/api/v1/attempts", "sk_readonly_1234567", models.CreateAttemptRequest{
		UserID:   testUserID,
		ExamType: testExamType,
		Mode:     models.ModeFullMock,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for write, got %d", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "permission_denied" {
		t.Errorf("expected permission_denied, got %+v", envelope.Error)
	}
}

func TestWildcardPermissionMatches(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.SeedClient(&models.APIClient{
		ID:          4,
		Name:        "attempts-only",
		APIKey:      "sk_attempts_1234567",
		IsActive:    true,
		Permissions: []string{"attempts:*"},
	})

	resp, _ := ts.request(t, "GET", "/api/v1/attempts?user_id="+testUserID, "sk_attempts_1234567", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListExamTypes(t *testing.T) {
	ts := newTestServer(t)

	resp, envelope := ts.request(t, "GET", "/api/v1/exam-types", testAPIKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var types []*models.ExamTypeConfig
	decodeData(t, envelope, &types)
	if len(types) == 0 {
		t.Error("expected built-in exam types")
	}
}

func TestGetCredits(t *testing.T) {
	ts := newTestServer(t)

	path := fmt.Sprintf("/api/v1/credits?user_id=%s&exam_type=%s", testUserID, testExamType)
	resp, envelope := ts.request(t, "GET", path, testAPIKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var balance models.CreditBalance
	decodeData(t, envelope, &balance)
	if balance.TotalCredits != 10 {
		t.Errorf("expected 10 total credits, got %v", balance.TotalCredits)
	}
	if balance.RemainingFullMocks != 10 {
		t.Errorf("expected 10 remaining full mocks, got %d", balance.RemainingFullMocks)
	}
}

func TestGetCreditsValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, "GET", "/api/v1/credits?user_id="+testUserID, testAPIKey, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without exam_type, got %d", resp.StatusCode)
	}
}

func TestGetCreditsNoPlanIs404(t *testing.T) {
	ts := newTestServer(t)

	path := fmt.Sprintf("/api/v1/credits?user_id=%s&exam_type=toefl_ibt", testUserID)
	resp, envelope := ts.request(t, "GET", path, testAPIKey, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "plan_not_found" {
		t.Errorf("expected plan_not_found error, got %+v", envelope.Error)
	}
}

func TestCreateAttemptValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, "POST", "/api/v1/attempts", testAPIKey, models.CreateAttemptRequest{
		ExamType: testExamType,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without user_id, got %d", resp.StatusCode)
	}

	resp, envelope := ts.request(t, "POST", "/api/v1/attempts", testAPIKey, models.CreateAttemptRequest{
		UserID:   testUserID,
		ExamType: "not_a_real_exam",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown exam type, got %d", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "invalid_exam_type" {
		t.Errorf("expected invalid_exam_type, got %+v", envelope.Error)
	}
}

func TestFullMockFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	// Create a full mock attempt
	resp, envelope := ts.request(t, "POST", "/api/v1/attempts", testAPIKey, models.CreateAttemptRequest{
		UserID:   testUserID,
		ExamType: testExamType,
		Mode:     models.ModeFullMock,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %+v", resp.StatusCode, envelope.Error)
	}

	var view models.AttemptView
	decodeData(t, envelope, &view)
	if len(view.Sections) != 4 {
		t.Fatalf("expected 4 sections, got %d", len(view.Sections))
	}

	// Second section is locked at this point
	lockedType := view.Sections[1].SectionType
	resp, envelope = ts.request(t, "POST",
		fmt.Sprintf("/api/v1/attempts/%s/sections/%s/start", view.ID, lockedType),
		testAPIKey, models.StartSectionRequest{UserID: testUserID})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for locked section, got %d", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "section_locked" {
		t.Errorf("expected section_locked, got %+v", envelope.Error)
	}

	// Start and complete the first section
	firstType := view.Sections[0].SectionType
	resp, envelope = ts.request(t, "POST",
		fmt.Sprintf("/api/v1/attempts/%s/sections/%s/start", view.ID, firstType),
		testAPIKey, models.StartSectionRequest{UserID: testUserID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 starting first section, got %d: %+v", resp.StatusCode, envelope.Error)
	}

	var started models.StartSectionResponse
	decodeData(t, envelope, &started)
	if started.ContentSessionID == "" {
		t.Error("expected a content session id")
	}

	band := "7.0"
	resp, envelope = ts.request(t, "POST",
		fmt.Sprintf("/api/v1/attempts/%s/sections/%s/complete", view.ID, firstType),
		testAPIKey, models.CompleteSectionRequest{
			UserID:             testUserID,
			TimeElapsedSeconds: 1800,
			Result:             &models.SectionResult{BandScore: band},
		})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 completing section, got %d: %+v", resp.StatusCode, envelope.Error)
	}

	var completed models.CompleteSectionResponse
	decodeData(t, envelope, &completed)
	if completed.AllComplete {
		t.Error("attempt should not be complete after one section")
	}
	if completed.NextSection == nil || completed.NextSection.SectionType != lockedType {
		t.Errorf("expected next section %q, got %+v", lockedType, completed.NextSection)
	}
}

func TestStartSectionAccessDenied(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.SeedStudent(&models.Student{
		ID:         "student-2",
		AcademyID:  "academy-1",
		UserID:     "user-2",
		Active:     true,
		EnrolledAt: time.Now(),
	})

	_, envelope := ts.request(t, "POST", "/api/v1/attempts", testAPIKey, models.CreateAttemptRequest{
		UserID:   testUserID,
		ExamType: testExamType,
		Mode:     models.ModeFullMock,
	})
	var view models.AttemptView
	decodeData(t, envelope, &view)

	resp, envelope := ts.request(t, "POST",
		fmt.Sprintf("/api/v1/attempts/%s/sections/%s/start", view.ID, view.Sections[0].SectionType),
		testAPIKey, models.StartSectionRequest{UserID: "user-2"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "access_denied" {
		t.Errorf("expected access_denied, got %+v", envelope.Error)
	}
}

func TestInsufficientCreditsCarriesDetails(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.SeedPlan(&models.ExamPlan{
		ID:           "plan-1",
		AcademyID:    "academy-1",
		ExamType:     testExamType,
		PlanName:     "Drained Plan",
		TotalCredits: 1,
		UsedCredits:  1,
		Status:       models.PlanActive,
		StartsAt:     time.Now().Add(-time.Hour),
		CreatedAt:    time.Now(),
	})

	resp, envelope := ts.request(t, "POST", "/api/v1/attempts", testAPIKey, models.CreateAttemptRequest{
		UserID:   testUserID,
		ExamType: testExamType,
		Mode:     models.ModeSection,
	})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %+v", resp.StatusCode, envelope.Error)
	}
	if envelope.Error == nil || envelope.Error.Code != "insufficient_credits" {
		t.Fatalf("expected insufficient_credits, got %+v", envelope.Error)
	}
	if envelope.Error.Details == nil {
		t.Error("expected available/required details on the error")
	}
}

func TestGetAttemptNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, envelope := ts.request(t, "GET", "/api/v1/attempts/no-such-id?user_id="+testUserID, testAPIKey, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "attempt_not_found" {
		t.Errorf("expected attempt_not_found, got %+v", envelope.Error)
	}
}

func TestDashboardOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	// Create one attempt so the dashboard has something to show
	ts.request(t, "POST", "/api/v1/attempts", testAPIKey, models.CreateAttemptRequest{
		UserID:   testUserID,
		ExamType: testExamType,
		Mode:     models.ModeFullMock,
	})

	path := fmt.Sprintf("/api/v1/dashboard?user_id=%s&exam_type=%s", testUserID, testExamType)
	resp, envelope := ts.request(t, "GET", path, testAPIKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", resp.StatusCode, envelope.Error)
	}

	var dashboard models.Dashboard
	decodeData(t, envelope, &dashboard)
	if dashboard.Stats.TotalAttempts != 1 {
		t.Errorf("expected 1 attempt, got %d", dashboard.Stats.TotalAttempts)
	}
	if dashboard.Credits == nil {
		t.Error("expected credits in dashboard")
	}
}
