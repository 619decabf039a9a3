package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/pkg/app"
	"library-lending/pkg/circulation"
	"library-lending/pkg/clock"
	"library-lending/pkg/database"
	"library-lending/pkg/docstore"
	"library-lending/pkg/inventory"
	"library-lending/pkg/models"
	"library-lending/pkg/policy"
	"library-lending/pkg/session"
)

var (
	ann   = session.Session{PatronID: "p1", Name: "Ann", Role: session.RolePatron}
	bob   = session.Session{PatronID: "p2", Name: "Bob", Role: session.RolePatron}
	grace = session.Session{PatronID: "lib1", Name: "Grace", Role: session.RoleLibrarian}
)

type testServer struct {
	app    *app.App
	router *gin.Engine
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.OpenMemory(uuid.NewString())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	a := app.New(app.Parts{
		DB:       db,
		Policy:   policy.Default(),
		Issuer:   session.NewIssuer("test-secret", time.Hour),
		Registry: reg,
		Clock:    clock.NewFixed(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
	})
	_, err = a.Ledger.AddTitle(context.Background(), inventory.NewTitle{ID: "b1", Title: "Dune", Category: "science fiction", Copies: 1})
	require.NoError(t, err)
	return &testServer{app: a, router: setupRouter(a, reg)}
}

func (s *testServer) token(t *testing.T, sess session.Session) string {
	t.Helper()
	tok, err := s.app.Issuer.Issue(sess)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, sess session.Session, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sess.Authenticated() {
		req.Header.Set("Authorization", "Bearer "+s.token(t, sess))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthCheck(t *testing.T) {
	s := setupTestServer(t)
	w := s.do(t, session.Session{}, "GET", "/manage/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "UP", decode(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t)
	s.do(t, ann, "POST", "/api/v1/borrows", gin.H{"bookId": "b1", "requestedName": "Ann"})

	w := s.do(t, session.Session{}, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `lending_transitions_total{event="submit_borrow",outcome="ok"} 1`)
}

func TestRequiresToken(t *testing.T) {
	s := setupTestServer(t)
	w := s.do(t, session.Session{}, "GET", "/api/v1/books", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/v1/books", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCatalog(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, ann, "POST", "/api/v1/books", gin.H{"title": "Emma", "copies": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, grace, "POST", "/api/v1/books", gin.H{"id": "b2", "title": "Emma", "category": "classics", "copies": 2})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "AVAILABLE", decode(t, w)["status"])

	w = s.do(t, ann, "GET", "/api/v1/books?category=classics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["totalElements"])

	w = s.do(t, grace, "POST", "/api/v1/books/b2/copies", gin.H{"delta": -2})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "UNAVAILABLE", decode(t, w)["status"])

	w = s.do(t, ann, "GET", "/api/v1/books/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBorrowLifecycle(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, ann, "POST", "/api/v1/borrows", gin.H{"bookId": "b1", "requestedName": "Ann"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)
	assert.Equal(t, "PENDING_APPROVAL", decode(t, w)["status"])

	w = s.do(t, ann, "POST", "/api/v1/borrows/"+id+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, grace, "GET", "/api/v1/requests?status=PENDING_APPROVAL", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["totalElements"])

	w = s.do(t, grace, "POST", "/api/v1/borrows/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ACTIVE", decode(t, w)["status"])

	w = s.do(t, bob, "POST", "/api/v1/borrows", gin.H{"bookId": "b1", "requestedName": "Bob"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_copies_available", decode(t, w)["reason"])

	w = s.do(t, bob, "GET", "/api/v1/borrows/"+id, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, ann, "POST", "/api/v1/borrows/"+id+"/renew", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PENDING_RENEWAL_APPROVAL", decode(t, w)["status"])

	w = s.do(t, grace, "POST", "/api/v1/borrows/"+id+"/approve-renewal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["renewalsUsed"])

	w = s.do(t, ann, "POST", "/api/v1/borrows/"+id+"/return", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, grace, "POST", "/api/v1/borrows/"+id+"/approve-return", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RETURNED", decode(t, w)["status"])

	w = s.do(t, grace, "POST", "/api/v1/borrows/"+id+"/approve-return", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode(t, w)["reason"])

	w = s.do(t, ann, "GET", "/api/v1/borrows?status=RETURNED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["totalElements"])

	w = s.do(t, grace, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["returned"])
	assert.Equal(t, float64(0), decode(t, w)["outstandingFines"])
}

func TestRejectBorrow(t *testing.T) {
	s := setupTestServer(t)
	w := s.do(t, ann, "POST", "/api/v1/borrows", gin.H{"bookId": "b1", "requestedName": "Ann"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	w = s.do(t, grace, "POST", "/api/v1/borrows/"+id+"/reject", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "REJECTED", decode(t, w)["status"])
}

func TestRequestBorrowValidation(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, ann, "POST", "/api/v1/borrows", gin.H{"requestedName": "Ann"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, ann, "POST", "/api/v1/borrows", gin.H{"bookId": "b1", "requestedName": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, ann, "POST", "/api/v1/borrows", gin.H{"bookId": "b1", "requestedName": "Ann", "requestedDueDate": "2023-12-31"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, ann, "POST", "/api/v1/borrows", gin.H{"bookId": "b1", "requestedName": "Ann", "requestedDueDate": "soon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, ann, "GET", "/api/v1/borrows?status=LOST", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseDueDate(t *testing.T) {
	due, err := parseDueDate("2024-02-01", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *due)

	due, err = parseDueDate("2024-02-01T12:00:00Z", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 12, due.Hour())

	due, err = parseDueDate("", time.UTC)
	require.NoError(t, err)
	assert.Nil(t, due)
}

func TestNotificationsInbox(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()
	rec, err := s.app.Service.RequestBorrow(ctx, ann, circulation.BorrowRequest{BookID: "b1", RequestedName: "Ann"})
	require.NoError(t, err)
	_, err = s.app.Service.ApproveBorrow(ctx, grace, rec.ID)
	require.NoError(t, err)
	_, err = s.app.Service.RequestRenewal(ctx, ann, rec.ID)
	require.NoError(t, err)
	_, err = s.app.Service.RejectRenewal(ctx, grace, rec.ID)
	require.NoError(t, err)

	w := s.do(t, ann, "GET", "/api/v1/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["unread"])
	items := body["items"].([]interface{})
	require.Len(t, items, 1)
	n := items[0].(map[string]interface{})
	assert.Equal(t, models.KindRenewalRejected, n["type"])

	w = s.do(t, bob, "POST", "/api/v1/notifications/"+n["id"].(string)+"/read", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, ann, "POST", "/api/v1/notifications/"+n["id"].(string)+"/read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["read"])
}

func TestSweepEndpoint(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()
	rec, err := s.app.Service.RequestBorrow(ctx, ann, circulation.BorrowRequest{BookID: "b1", RequestedName: "Ann"})
	require.NoError(t, err)
	_, err = s.app.Service.ApproveBorrow(ctx, grace, rec.ID)
	require.NoError(t, err)

	s.app.Clock.(*clock.Fixed).Set(time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC))
	w := s.do(t, ann, "POST", "/api/v1/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["markedOverdue"])

	w = s.do(t, ann, "GET", "/api/v1/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode(t, w)["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, models.KindOverdue, items[0].(map[string]interface{})["type"])

	w = s.do(t, grace, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["overdue"])
	assert.Equal(t, float64(10000), decode(t, w)["outstandingFines"])
}

func TestLibrarianStream(t *testing.T) {
	s := setupTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records := docstore.C[models.BorrowRecord](s.app.Store)
	go func() {
		for records.Subscribers() < 3 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		_, _ = s.app.Service.RequestBorrow(context.Background(), ann, circulation.BorrowRequest{BookID: "b1", RequestedName: "Ann"})
	}()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/v1/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token(t, grace))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	var data string
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data:") {
			data = line
			break
		}
	}
	assert.Contains(t, data, models.KindNewBorrowRequest)
	assert.Contains(t, data, `"patronId":"lib1"`)
}
