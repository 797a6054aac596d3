package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/reddit-trend-analyzer/analyzer"
	"github.com/brettboylen/reddit-trend-analyzer/models"
	"github.com/brettboylen/reddit-trend-analyzer/utils"
	"github.com/brettboylen/reddit-trend-analyzer/viewstate"
)

var analyzedAt = time.Date(2025, 9, 12, 15, 52, 26, 0, time.UTC)

type mockAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error)
}

func (m *mockAnalyzer) Analyze(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error) {
	return m.AnalyzeFunc(ctx, request)
}

type mockStats struct {
	stats models.Statistics
}

func (m *mockStats) GetStatistics() models.Statistics {
	return m.stats
}

type mockHistory struct {
	GetRecentAnalysesFunc func(limit int) ([]models.AnalysisRecord, error)
}

func (m *mockHistory) GetRecentAnalyses(limit int) ([]models.AnalysisRecord, error) {
	return m.GetRecentAnalysesFunc(limit)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func sampleResult() models.AnalysisResult {
	return models.AnalysisResult{
		Success:    true,
		Timestamp:  analyzedAt,
		TotalPosts: 3,
		Posts: []models.Post{
			{Title: "Low", Subreddit: "r/n8n", Upvotes: 5, Comments: 90, Engagement: "low"},
			{Title: "Top", Subreddit: "r/n8n", Upvotes: 1956, Comments: 81, Engagement: "high"},
			{Title: "Mid", Subreddit: "r/golang", Upvotes: 300, Comments: 2, Engagement: "high"},
		},
		Summary: models.Summary{
			HighEngagementPosts:     2,
			BestGrowthOpportunities: []string{"Top"},
		},
	}
}

func succeed(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error) {
	return sampleResult(), nil
}

type testServer struct {
	*Server
	history *mockHistory
}

func newTestServer(t *testing.T, analyze func(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error)) *testServer {
	t.Helper()

	log := testLogger()
	mock := &mockAnalyzer{AnalyzeFunc: analyze}
	sessions := NewSessionStore(func() *viewstate.Controller {
		return viewstate.NewController(mock, time.Second, log)
	}, time.Hour, log)

	history := &mockHistory{
		GetRecentAnalysesFunc: func(limit int) ([]models.AnalysisRecord, error) {
			return []models.AnalysisRecord{}, nil
		},
	}
	stats := &mockStats{stats: models.Statistics{TotalAnalyses: 7, FailedAnalyses: 2}}

	config := utils.ServerConfig{Port: 0, MaxRequestsPerMinute: 6000, CORSOrigin: "*"}
	srv := New(config, sessions, stats, history, log)
	srv.now = func() time.Time { return analyzedAt.Add(5 * time.Minute) }
	t.Cleanup(srv.cancelAnalyses)

	return &testServer{Server: srv, history: history}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createSession(t *testing.T) sessionPage {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodePage(t, rec)
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) sessionPage {
	t.Helper()
	var page sessionPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	return page
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestCreateAndGetSession(t *testing.T) {
	ts := newTestServer(t, succeed)

	created := ts.createSession(t)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "idle", created.Phase)
	assert.False(t, created.Loading)
	assert.Equal(t, viewstate.FilterAll, created.Filter)
	assert.Equal(t, viewstate.SortTopUpvotes, created.Sort)
	assert.Empty(t, created.Posts)
	assert.Nil(t, created.Header)

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodePage(t, rec).ID)
	assert.Equal(t, 1, ts.sessions.Len())
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t, succeed)

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/sessions/missing", ""},
		{http.MethodDelete, "/api/sessions/missing", ""},
		{http.MethodPost, "/api/sessions/missing/analyze", `{"keywords":"n8n"}`},
		{http.MethodPut, "/api/sessions/missing/filter", `{"filter":"high"}`},
		{http.MethodPut, "/api/sessions/missing/sort", `{"sort":"top"}`},
		{http.MethodGet, "/api/sessions/missing/events", ""},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := ts.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Contains(t, decodeError(t, rec), "missing")
		})
	}
}

func TestAnalyzeWait(t *testing.T) {
	var received models.AnalysisRequest
	ts := newTestServer(t, func(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error) {
		received = request
		return sampleResult(), nil
	})
	session := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/analyze?wait=true",
		`{"keywords":"  n8n automation ","subreddit":"n8n"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decodePage(t, rec)
	assert.Equal(t, "success", page.Phase)
	assert.Empty(t, page.ErrorMessage)
	require.NotNil(t, page.Header)
	assert.Equal(t, "3 posts", page.Header.PostCountLabel)
	assert.Equal(t, "5m ago", page.Header.AnalyzedAgo)
	require.NotNil(t, page.Summary)
	assert.Equal(t, 2, page.Summary.HighEngagementPosts)

	titles := make([]string, 0, len(page.Posts))
	for _, card := range page.Posts {
		titles = append(titles, card.Title)
	}
	assert.Equal(t, []string{"Top", "Mid", "Low"}, titles)
	assert.Equal(t, "2.0k", page.Posts[0].UpvotesLabel)

	assert.Equal(t, models.AnalysisRequest{Keywords: "n8n automation", Subreddit: "n8n"}, received)
}

func TestAnalyzeAsync(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer(t, func(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error) {
		<-release
		return sampleResult(), nil
	})
	session := ts.createSession(t)
	path := "/api/sessions/" + session.ID

	rec := ts.do(t, http.MethodPost, path+"/analyze", `{"keywords":"n8n"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	page := decodePage(t, rec)
	assert.Equal(t, "loading", page.Phase)
	assert.True(t, page.Loading)

	rec = ts.do(t, http.MethodPost, path+"/analyze", `{"keywords":"other"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, decodeError(t, rec))

	close(release)

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, path, "")
		return decodePage(t, rec).Phase == "success"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAnalyzeEmptyInput(t *testing.T) {
	called := false
	ts := newTestServer(t, func(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error) {
		called = true
		return sampleResult(), nil
	})
	session := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/analyze", `{"keywords":"  ","subreddit":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	page := decodePage(t, rec)
	assert.Equal(t, "error", page.Phase)
	assert.Equal(t, viewstate.MessageEmptyQuery, page.ErrorMessage)
	assert.False(t, called)
}

func TestAnalyzeFailure(t *testing.T) {
	ts := newTestServer(t, func(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error) {
		return models.AnalysisResult{}, &analyzer.RejectedError{StatusCode: http.StatusInternalServerError}
	})
	session := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/analyze?wait=1", `{"subreddit":"n8n"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decodePage(t, rec)
	assert.Equal(t, "error", page.Phase)
	assert.Equal(t, "Request failed: 500", page.ErrorMessage)
	assert.Nil(t, page.Header)
	assert.Empty(t, page.Posts)
}

func TestAnalyzeBadRequests(t *testing.T) {
	ts := newTestServer(t, succeed)
	session := ts.createSession(t)
	path := "/api/sessions/" + session.ID + "/analyze"

	rec := ts.do(t, http.MethodPost, path, `{"keywords":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, path+"?wait=maybe", `{"keywords":"n8n"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "wait")

	// neither request reached the controller
	rec = ts.do(t, http.MethodGet, "/api/sessions/"+session.ID, "")
	assert.Equal(t, "idle", decodePage(t, rec).Phase)
}

func TestFilterAndSort(t *testing.T) {
	ts := newTestServer(t, succeed)
	session := ts.createSession(t)
	path := "/api/sessions/" + session.ID

	rec := ts.do(t, http.MethodPost, path+"/analyze?wait=true", `{"keywords":"n8n"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPut, path+"/filter", `{"filter":"HIGH"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodePage(t, rec)
	assert.Equal(t, viewstate.FilterHighEngagement, page.Filter)
	require.Len(t, page.Posts, 2)
	assert.Equal(t, 2, page.Header.VisibleCount)
	assert.Equal(t, "3 posts", page.Header.PostCountLabel)

	rec = ts.do(t, http.MethodPut, path+"/sort", `{"sort":"comments"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decodePage(t, rec)
	assert.Equal(t, viewstate.SortMostComments, page.Sort)
	assert.Equal(t, "Top", page.Posts[0].Title)
	assert.Equal(t, "Mid", page.Posts[1].Title)

	rec = ts.do(t, http.MethodPut, path+"/filter", `{"filter":"medium"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "unknown filter")

	rec = ts.do(t, http.MethodPut, path+"/sort", `{"sort":"oldest"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "unknown sort")
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t, succeed)
	session := ts.createSession(t)

	rec := ts.do(t, http.MethodDelete, "/api/sessions/"+session.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, ts.sessions.Len())

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+session.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsAndHealth(t *testing.T) {
	ts := newTestServer(t, succeed)

	rec := ts.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 7, stats.TotalAnalyses)
	assert.Equal(t, 2, stats.FailedAnalyses)

	rec = ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, succeed)

	var requestedLimit int
	ts.history.GetRecentAnalysesFunc = func(limit int) ([]models.AnalysisRecord, error) {
		requestedLimit = limit
		return []models.AnalysisRecord{{ID: "a1", Keywords: "n8n", Outcome: "ok", StatusCode: 200}}, nil
	}

	rec := ts.do(t, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryLimit, requestedLimit)

	var records []models.AnalysisRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "a1", records[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/history?limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxHistoryLimit, requestedLimit)

	for _, limit := range []string{"0", "-3", "ten"} {
		rec = ts.do(t, http.MethodGet, "/api/history?limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}

	ts.history.GetRecentAnalysesFunc = func(limit int) ([]models.AnalysisRecord, error) {
		return nil, errors.New("database is locked")
	}
	rec = ts.do(t, http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRateLimit(t *testing.T) {
	log := testLogger()
	sessions := NewSessionStore(func() *viewstate.Controller {
		return viewstate.NewController(&mockAnalyzer{AnalyzeFunc: succeed}, 0, log)
	}, time.Hour, log)
	config := utils.ServerConfig{MaxRequestsPerMinute: 1, CORSOrigin: "*"}
	srv := New(config, sessions, &mockStats{}, &mockHistory{}, log)
	t.Cleanup(srv.cancelAnalyses)

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	health := httptest.NewRecorder()
	srv.Handler().ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestSessionEvents(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer(t, func(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error) {
		<-release
		return sampleResult(), nil
	})
	httpServer := httptest.NewServer(ts.Handler())
	defer httpServer.Close()

	session := ts.createSession(t)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/api/sessions/" + session.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readPhase := func() string {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "state", msg.Type)
		assert.Equal(t, session.ID, msg.Data.ID)
		return msg.Data.Phase
	}

	assert.Equal(t, "idle", readPhase())

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/analyze", `{"keywords":"n8n"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "loading", readPhase())

	close(release)
	assert.Equal(t, "success", readPhase())

	// an open stream keeps the session alive
	ts.sessions.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	assert.Equal(t, 0, ts.sessions.Sweep())
}
