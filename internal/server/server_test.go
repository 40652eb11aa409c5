package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"booklend/internal/app"
	"booklend/internal/ratelimit"
	"booklend/pkg/domain"
	"booklend/pkg/store"
)

func newTestServer(t *testing.T, limiter RateLimiter) *httptest.Server {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.InsertBooks(context.Background(), []domain.Book{
		{Title: "The Hobbit", Author: "J.R.R. Tolkien", IsFree: true},
		{Title: "Animal Farm", Author: "George Orwell", IsFree: true},
	}); err != nil {
		t.Fatalf("seed books: %v", err)
	}
	core, err := app.New(app.Config{Store: st, AdminUsername: "admin", AdminPassword: "qwerty"})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: core, Limiter: limiter, KeepAlive: time.Hour})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		_ = core.Close()
		ts.Close()
	})
	return ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			r = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func expect(t *testing.T, resp *http.Response, status int, out any) {
	t.Helper()
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != status {
		t.Fatalf("%s %s: status = %d, want %d (body %s)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, status, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	}
}

type apiError struct {
	Error     string           `json:"error"`
	Code      string           `json:"code"`
	IDs       map[string]int64 `json:"ids"`
	RequestID string           `json:"requestId"`
	Valid     *bool            `json:"valid"`
	Message   *bool            `json:"message"`
}

type requestView struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	BookID    int64  `json:"book_id"`
	BookTitle string `json:"book_title"`
	Status    *bool  `json:"status"`
	State     string `json:"state"`
}

type bookView struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	IsFree bool   `json:"isFree"`
}

type returnView struct {
	ID         int64 `json:"id"`
	RequestID  int64 `json:"request_id"`
	IsReturned bool  `json:"is_returned"`
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	var body map[string]string
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/healthz", nil), http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestUserRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)
	creds := map[string]string{"username": "alice", "password": "pw1"}

	var added map[string]bool
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/add_user", creds), http.StatusCreated, &added)
	if !added["message"] {
		t.Fatalf("add_user body = %v", added)
	}

	var dup apiError
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/add_user", creds), http.StatusConflict, &dup)
	if dup.Message == nil || *dup.Message || dup.Code != "LEND_CONFLICT" {
		t.Fatalf("duplicate add_user body = %+v", dup)
	}

	var check map[string]bool
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/check_user", creds), http.StatusOK, &check)
	if !check["valid"] {
		t.Fatalf("check_user with right password = %v", check)
	}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/check_user", map[string]string{"username": "alice", "password": "wrong"}), http.StatusOK, &check)
	if check["valid"] {
		t.Fatalf("check_user with wrong password = %v", check)
	}

	var missing apiError
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/check_user", map[string]string{"username": "alice"}), http.StatusBadRequest, &missing)
	if missing.Valid == nil || *missing.Valid || missing.Code != "LEND_INVALID_REQUEST" {
		t.Fatalf("check_user missing password body = %+v", missing)
	}
	if missing.RequestID == "" {
		t.Fatalf("expected request id on error body")
	}

	var id map[string]int64
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/get_user_id?username=alice", nil), http.StatusOK, &id)
	if id["user_id"] != 2 {
		t.Fatalf("get_user_id = %v, want 2", id)
	}
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/get_user_id", nil), http.StatusBadRequest, nil)
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/get_user_id?username=bob", nil), http.StatusNotFound, nil)

	var users []domain.UserSummary
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/users", nil), http.StatusOK, &users)
	if len(users) != 2 || users[1].Username != "alice" {
		t.Fatalf("users = %+v", users)
	}
}

func TestLendingScenario(t *testing.T) {
	ts := newTestServer(t, nil)
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/add_user", map[string]string{"username": "alice", "password": "pw1"}), http.StatusCreated, nil)

	var created struct {
		Message string      `json:"message"`
		Request requestView `json:"request"`
	}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/create_request", map[string]int64{"userId": 2, "bookId": 1}), http.StatusCreated, &created)
	if created.Request.Status != nil || created.Request.State != "pending" || created.Request.BookTitle != "The Hobbit" {
		t.Fatalf("created request = %+v", created.Request)
	}
	reqID := created.Request.ID

	var updated struct {
		Request requestView `json:"request"`
		Book    bookView    `json:"book"`
	}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/update_request_status", map[string]any{"requestId": reqID, "status": true}), http.StatusOK, &updated)
	if updated.Request.Status == nil || !*updated.Request.Status || updated.Book.IsFree {
		t.Fatalf("approve result = %+v", updated)
	}

	var conflict apiError
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/create_request", map[string]int64{"userId": 2, "bookId": 1}), http.StatusBadRequest, &conflict)
	if conflict.Code != "LEND_CONFLICT" || conflict.IDs["book_id"] != 1 {
		t.Fatalf("second create_request body = %+v", conflict)
	}

	var returned struct {
		Return returnView `json:"return"`
		Book   bookView   `json:"book"`
	}
	returnBody := map[string]int64{"request_id": reqID, "user_id": 2, "book_id": 1}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/return_book", returnBody), http.StatusCreated, &returned)
	if !returned.Book.IsFree || returned.Return.IsReturned {
		t.Fatalf("return_book result = %+v", returned)
	}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/return_book", returnBody), http.StatusConflict, nil)

	var reqs []requestView
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/requests", nil), http.StatusOK, &reqs)
	if len(reqs) != 1 || reqs[0].Status == nil || *reqs[0].Status || reqs[0].State != "returned" {
		t.Fatalf("requests after return = %+v", reqs)
	}

	expect(t, doJSON(t, http.MethodPut, ts.URL+"/update_return_status", map[string]any{"return_id": returned.Return.ID, "is_returned": false}), http.StatusBadRequest, nil)
	expect(t, doJSON(t, http.MethodPut, ts.URL+"/update_return_status", `{"return_id": 1, "is_returned": "yes"}`), http.StatusBadRequest, nil)
	expect(t, doJSON(t, http.MethodPut, ts.URL+"/update_return_status", map[string]any{"return_id": 99, "is_returned": true}), http.StatusNotFound, nil)

	var confirmed struct {
		Return returnView `json:"return"`
		Book   bookView   `json:"book"`
	}
	expect(t, doJSON(t, http.MethodPut, ts.URL+"/update_return_status", map[string]any{"return_id": returned.Return.ID, "is_returned": true}), http.StatusOK, &confirmed)
	if !confirmed.Return.IsReturned || !confirmed.Book.IsFree {
		t.Fatalf("confirm result = %+v", confirmed)
	}

	var returns []returnView
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/returns", nil), http.StatusOK, &returns)
	if len(returns) != 1 || !returns[0].IsReturned {
		t.Fatalf("returns = %+v", returns)
	}

	var books []bookView
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/books", nil), http.StatusOK, &books)
	if len(books) != 2 || !books[0].IsFree {
		t.Fatalf("books after return = %+v", books)
	}
}

func TestUpdateRequestStatusValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	var body apiError
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/update_request_status", `{"requestId": 1, "status": "yes"}`), http.StatusBadRequest, &body)
	if body.Code != "LEND_INVALID_STATUS" {
		t.Fatalf("code = %q", body.Code)
	}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/update_request_status", map[string]any{"requestId": 42, "status": true}), http.StatusNotFound, nil)
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/update_request_status", `{not json`), http.StatusBadRequest, nil)
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/create_request", map[string]int64{"userId": 99, "bookId": 1}), http.StatusNotFound, nil)
}

func TestReturnBookForbidden(t *testing.T) {
	ts := newTestServer(t, nil)
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/add_user", map[string]string{"username": "alice", "password": "pw1"}), http.StatusCreated, nil)
	var created struct {
		Request requestView `json:"request"`
	}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/create_request", map[string]int64{"userId": 2, "bookId": 1}), http.StatusCreated, &created)
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/update_request_status", map[string]any{"requestId": created.Request.ID, "status": true}), http.StatusOK, nil)

	var body apiError
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/return_book", map[string]int64{"request_id": created.Request.ID, "user_id": 1, "book_id": 1}), http.StatusForbidden, &body)
	if body.Code != "LEND_FORBIDDEN" {
		t.Fatalf("code = %q", body.Code)
	}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/return_book", map[string]int64{"request_id": created.Request.ID}), http.StatusBadRequest, nil)

	var returns []returnView
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/returns", nil), http.StatusOK, &returns)
	if len(returns) != 0 {
		t.Fatalf("forbidden return left records: %+v", returns)
	}
}

func TestLookupRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/add_user", map[string]string{"username": "alice", "password": "pw1"}), http.StatusCreated, nil)
	var created struct {
		Request requestView `json:"request"`
	}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/create_request", map[string]int64{"userId": 2, "bookId": 2}), http.StatusCreated, &created)

	var title map[string]string
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/book_title/2", nil), http.StatusOK, &title)
	if title["title"] != "Animal Farm" {
		t.Fatalf("title = %v", title)
	}
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/book_title/abc", nil), http.StatusNotFound, nil)
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/book_title/99", nil), http.StatusNotFound, nil)

	var pair map[string]string
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/getUserAndBook?book_id=2&user_id=2", nil), http.StatusOK, &pair)
	if pair["book_title"] != "Animal Farm" || pair["username"] != "alice" {
		t.Fatalf("getUserAndBook = %v", pair)
	}
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/getUserAndBook?book_id=2&user_id=99", nil), http.StatusNotFound, nil)

	var ids []int64
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/user_requests/2", nil), http.StatusOK, &ids)
	if len(ids) != 1 || ids[0] != created.Request.ID {
		t.Fatalf("user_requests = %v", ids)
	}

	var reqs []requestView
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/user_requests_by_id/2", nil), http.StatusOK, &reqs)
	if len(reqs) != 1 || reqs[0].BookTitle != "Animal Farm" {
		t.Fatalf("user_requests_by_id = %+v", reqs)
	}
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/user_requests_by_id/99", nil), http.StatusNotFound, nil)
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/book_requests/2", nil), http.StatusOK, &reqs)
	if len(reqs) != 1 {
		t.Fatalf("book_requests = %+v", reqs)
	}
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/book_requests/99", nil), http.StatusNotFound, nil)
}

func TestSearchBooks(t *testing.T) {
	ts := newTestServer(t, nil)
	var books []bookView
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/search_books?query=", nil), http.StatusOK, &books)
	if books == nil || len(books) != 0 {
		t.Fatalf("blank search = %v, want empty list", books)
	}
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/search_books?query=hobbit", nil), http.StatusOK, &books)
	if len(books) != 1 || books[0].ID != 1 {
		t.Fatalf("search hobbit = %+v", books)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)
	var body apiError
	expect(t, doJSON(t, http.MethodGet, ts.URL+"/create_request", nil), http.StatusMethodNotAllowed, &body)
	if body.Code != "SYSTEM_METHOD_NOT_ALLOWED" {
		t.Fatalf("code = %q", body.Code)
	}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/update_return_status", map[string]any{}), http.StatusMethodNotAllowed, nil)
}

func TestCheckUserRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "test:lend", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	ts := newTestServer(t, limiter)

	creds := map[string]string{"username": "admin", "password": "qwerty"}
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/check_user", creds), http.StatusOK, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/check_user", creds)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	var body apiError
	expect(t, resp, http.StatusTooManyRequests, &body)
	if body.Code != "LEND_RATE_LIMITED" {
		t.Fatalf("code = %q", body.Code)
	}

	// add_user has its own window.
	expect(t, doJSON(t, http.MethodPost, ts.URL+"/add_user", map[string]string{"username": "bob", "password": "pw"}), http.StatusCreated, nil)
}
