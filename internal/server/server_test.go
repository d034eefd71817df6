package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ascent/internal/catalog"
	"ascent/internal/db"
	"ascent/internal/domain"
	"ascent/internal/engine"
	"ascent/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

// newTestServer boots the API on a loopback listener. roll, when non-nil,
// pins the engine's trial randomness.
func newTestServer(t *testing.T, auth AuthConfig, roll func() float64) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, catalog.MustDefault())
	if roll != nil {
		e.Roll = roll
	}
	if _, err := e.InitOrganization(context.Background(), "org-1", "Test Lab", domain.StanceBalanced, "tester"); err != nil {
		t.Fatalf("init org: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope %s: %v", data, err)
	}
	return envelope.Error.Code
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{}, nil)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	srv := newTestServer(t, AuthConfig{}, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/catalog/milestones", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	var entries []CatalogEntryResponse
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != len(domain.AllMilestoneTypes()) {
		t.Fatalf("entries = %d", len(entries))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/catalog/milestones/time_travel", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("code = %s", code)
	}
}

func TestCreateAndGetOrg(t *testing.T) {
	srv := newTestServer(t, AuthConfig{}, nil)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/orgs", CreateOrgRequest{
		ID: "org-2", Name: "Second Lab", Stance: "safety_first",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-2/milestones", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	var records []domain.ProgressionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != len(domain.AllMilestoneTypes()) {
		t.Fatalf("records = %d", len(records))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/nobody", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("code = %s", code)
	}
}

func TestAttemptErrorMapping(t *testing.T) {
	srv := newTestServer(t, AuthConfig{}, nil)

	// Missing prerequisites map to 422.
	res, data := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/orgs/org-1/milestones/superintelligence/attempts",
		AttemptRequest{ResearchPoints: 100000, ComputeBudget: 100000}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "prerequisites_not_met" {
		t.Fatalf("code = %s", code)
	}

	// A pure resource shortfall maps to 400.
	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/orgs/org-1/milestones/advanced_reasoning/attempts",
		AttemptRequest{}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "insufficient_resources" {
		t.Fatalf("code = %s", code)
	}

	// Unknown milestone type in the path.
	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/orgs/org-1/milestones/time_travel/attempts",
		AttemptRequest{}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
}

func TestAttemptAchievesOnce(t *testing.T) {
	srv := newTestServer(t, AuthConfig{}, func() float64 { return 0 })

	res, data := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/orgs/org-1/milestones/advanced_reasoning/attempts",
		AttemptRequest{ResearchPoints: 1000, ComputeBudget: 500}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	var result engine.AttemptResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Achieved || result.Record.Status != domain.StatusAchieved {
		t.Fatalf("result = %+v", result)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/orgs/org-1/milestones/advanced_reasoning/attempts",
		AttemptRequest{ResearchPoints: 100}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "already_achieved" {
		t.Fatalf("code = %s", code)
	}
}

func TestChallengeFlow(t *testing.T) {
	srv := newTestServer(t, AuthConfig{}, nil)

	res, data := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/orgs/org-1/milestones/autonomous_agents/challenges", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	var ch domain.AlignmentChallenge
	if err := json.Unmarshal(data, &ch); err != nil {
		t.Fatalf("decode: %v", err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/orgs/org-1/milestones/autonomous_agents/challenges/"+ch.ID+"/resolution",
		ResolveChallengeRequest{Choice: "capability"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	var rec domain.ProgressionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Capability.Reasoning <= domain.DefaultCapabilityMetrics().Reasoning {
		t.Fatalf("capability choice should raise reasoning: %+v", rec.Capability)
	}

	// Double resolution maps to invalid_choice.
	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/orgs/org-1/milestones/autonomous_agents/challenges/"+ch.ID+"/resolution",
		ResolveChallengeRequest{Choice: "safety"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "invalid_choice" {
		t.Fatalf("code = %s", code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{}, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/events?limit=5", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	var events []domain.Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected at least the org.initialized event")
	}
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret}, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d: %s", res.StatusCode, data)
	}

	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d: %s", res.StatusCode, data)
	}
}
