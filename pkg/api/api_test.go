package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"community/pkg/comments"
	"community/pkg/models"
	"community/pkg/storage/memdb"
)

func TestMain(m *testing.M) {
	log.SetLevel(log.PanicLevel)
	exitCode := m.Run()
	os.Exit(exitCode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestAPI() *API {
	svc := comments.New(memdb.New(), comments.Config{})
	return New(Config{ServiceName: "community-test", StorageName: "memory", AllowedOrigins: []string{"https://prtu.example"}}, svc, nil)
}

func do(t *testing.T, api *API, method, path string, body any, viewer string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if viewer != "" {
		req.Header.Set("user-id", viewer)
	}
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	var env envelope
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("failed to unmarshal response body %q: %v", rr.Body.String(), err)
		}
	}
	if env.Success != (rr.Code >= 200 && rr.Code < 300) && rr.Body.Len() > 0 {
		t.Errorf("success flag %v disagrees with status code %d", env.Success, rr.Code)
	}

	return rr, env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("failed to unmarshal response data %s: %v", env.Data, err)
	}
}

func createComment(t *testing.T, api *API, req models.CreateRequest, viewer string) models.CommentView {
	t.Helper()

	rr, env := do(t, api, http.MethodPost, "/api/comments", req, viewer)
	if rr.Code != http.StatusCreated {
		t.Fatalf("want status code %v, got status code %v (%s)", http.StatusCreated, rr.Code, env.Error)
	}

	var c models.CommentView
	decodeData(t, env, &c)
	return c
}

func TestAPI_healthHandler(t *testing.T) {
	api := newTestAPI()

	rr, env := do(t, api, http.MethodGet, "/health", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("want status code %v, got status code %v", http.StatusOK, rr.Code)
	}

	var h Health
	decodeData(t, env, &h)
	if h.Status != "OK" {
		t.Errorf("want status %q, got %q", "OK", h.Status)
	}
	if h.Timestamp.IsZero() {
		t.Error("want non-zero timestamp")
	}
	if h.Storage != "memory" || h.Service != "community-test" {
		t.Errorf("want service community-test on memory, got %s on %s", h.Service, h.Storage)
	}
}

func TestAPI_createCommentHandler(t *testing.T) {
	api := newTestAPI()

	got := createComment(t, api, models.CreateRequest{
		Author:      "Lakshmi Devi",
		Content:     "Great initiative!",
		PageContext: "news-1",
	}, "u1")

	if got.ID == "" {
		t.Error("want non-empty comment id")
	}
	if got.Author != "Lakshmi Devi" || got.Content != "Great initiative!" || got.PageContext != "news-1" {
		t.Errorf("unexpected comment %+v", got)
	}
	if got.Likes != 0 || got.IsLiked {
		t.Errorf("want likes 0 and isLiked false, got likes %d isLiked %v", got.Likes, got.IsLiked)
	}
	if got.CreatedAt.IsZero() {
		t.Error("want non-zero createdAt")
	}
}

func TestAPI_createCommentHandlerInvalid(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		statusWant int
	}{
		{name: "Empty content", body: models.CreateRequest{Content: "   ", PageContext: "news-1"}, statusWant: http.StatusBadRequest},
		{name: "Missing page context", body: models.CreateRequest{Content: "hello"}, statusWant: http.StatusBadRequest},
		{name: "Malformed JSON", body: `{"content": "hello"`, statusWant: http.StatusBadRequest},
		{name: "Missing parent", body: models.CreateRequest{Content: "hello", PageContext: "news-1", ParentID: "nope"}, statusWant: http.StatusNotFound},
		{name: "Body too large", body: models.CreateRequest{Content: strings.Repeat("x", maxBodyBytes), PageContext: "news-1"}, statusWant: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI()

			rr, env := do(t, api, http.MethodPost, "/api/comments", tt.body, "u1")
			if rr.Code != tt.statusWant {
				t.Errorf("want status code %v, got status code %v", tt.statusWant, rr.Code)
			}
			if env.Success || env.Error == "" {
				t.Errorf("want failure envelope with message, got %+v", env)
			}

			_, env = do(t, api, http.MethodGet, "/api/comments/news-1/stats", nil, "u1")
			var stats models.Stats
			decodeData(t, env, &stats)
			if stats.TotalComments+stats.TotalReplies != 0 {
				t.Errorf("want nothing persisted, got %+v", stats)
			}
		})
	}
}

func TestAPI_commentsHandlerEmpty(t *testing.T) {
	api := newTestAPI()

	rr, env := do(t, api, http.MethodGet, "/api/comments/missing-context", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("want status code %v, got status code %v", http.StatusOK, rr.Code)
	}
	if !env.Success {
		t.Error("want success true")
	}
	if string(env.Data) != "[]" {
		t.Errorf("want data [], got %s", env.Data)
	}
}

func TestAPI_commentsHandler(t *testing.T) {
	api := newTestAPI()

	first := createComment(t, api, models.CreateRequest{Content: "first", PageContext: "news-1"}, "u1")
	second := createComment(t, api, models.CreateRequest{Content: "second", PageContext: "news-1"}, "u1")
	reply := createComment(t, api, models.CreateRequest{Content: "reply", PageContext: "news-1", ParentID: first.ID}, "u2")
	createComment(t, api, models.CreateRequest{Content: "other", PageContext: "events-1"}, "u1")

	if !reply.IsReply || reply.ParentID != first.ID {
		t.Errorf("want reply to %s, got %+v", first.ID, reply)
	}

	do(t, api, http.MethodPost, "/api/comments/"+reply.ID+"/like", nil, "u3")

	_, env := do(t, api, http.MethodGet, "/api/comments/news-1", nil, "u3")
	var list []models.CommentView
	decodeData(t, env, &list)

	if len(list) != 2 {
		t.Fatalf("want 2 top-level comments, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("want most recent first, got %s then %s", list[0].ID, list[1].ID)
	}
	if len(list[1].Replies) != 1 || list[1].Replies[0].ID != reply.ID {
		t.Fatalf("want reply nested under %s, got %+v", first.ID, list[1].Replies)
	}
	if !list[1].Replies[0].IsLiked {
		t.Error("want reply liked by u3")
	}

	_, env = do(t, api, http.MethodGet, "/api/comments/news-1", nil, "u1")
	decodeData(t, env, &list)
	if list[1].Replies[0].IsLiked {
		t.Error("want reply not liked by u1")
	}
}

func TestAPI_commentsHandlerRepliesKey(t *testing.T) {
	api := newTestAPI()

	parent := createComment(t, api, models.CreateRequest{Content: "parent", PageContext: "news-1"}, "u1")
	createComment(t, api, models.CreateRequest{Content: "alone", PageContext: "news-1"}, "u1")
	reply := createComment(t, api, models.CreateRequest{Content: "reply", PageContext: "news-1", ParentID: parent.ID}, "u2")

	_, env := do(t, api, http.MethodGet, "/api/comments/news-1", nil, "u1")
	var list []map[string]json.RawMessage
	decodeData(t, env, &list)

	if len(list) != 2 {
		t.Fatalf("want 2 top-level comments, got %d", len(list))
	}
	if got := string(list[0]["replies"]); got != "[]" {
		t.Errorf("want replies [] on comment without replies, got %q", got)
	}

	var replies []map[string]json.RawMessage
	if err := json.Unmarshal(list[1]["replies"], &replies); err != nil {
		t.Fatalf("failed to unmarshal replies %s: %v", list[1]["replies"], err)
	}
	if len(replies) != 1 {
		t.Fatalf("want 1 reply, got %d", len(replies))
	}
	if _, ok := replies[0]["replies"]; ok {
		t.Error("want no replies key on a reply")
	}

	rr, env := do(t, api, http.MethodPost, "/api/comments/"+reply.ID+"/like", nil, "u1")
	if rr.Code != http.StatusOK {
		t.Fatalf("want status code %v, got status code %v", http.StatusOK, rr.Code)
	}
	var liked map[string]json.RawMessage
	decodeData(t, env, &liked)
	if _, ok := liked["replies"]; ok {
		t.Error("want no replies key on a like response")
	}

	_, env = do(t, api, http.MethodPost, "/api/comments", models.CreateRequest{Content: "new", PageContext: "news-1"}, "u1")
	var created map[string]json.RawMessage
	decodeData(t, env, &created)
	if _, ok := created["replies"]; ok {
		t.Error("want no replies key on a create response")
	}
}

func TestAPI_likeHandler(t *testing.T) {
	api := newTestAPI()
	c := createComment(t, api, models.CreateRequest{Content: "like me", PageContext: "news-1"}, "u1")

	steps := []struct {
		viewer    string
		wantLikes int
		wantLiked bool
	}{
		{"u1", 1, true},
		{"u1", 0, false},
		{"u2", 1, true},
	}
	for i, step := range steps {
		rr, env := do(t, api, http.MethodPost, "/api/comments/"+c.ID+"/like", nil, step.viewer)
		if rr.Code != http.StatusOK {
			t.Fatalf("step %d: want status code %v, got status code %v", i, http.StatusOK, rr.Code)
		}

		var got models.CommentView
		decodeData(t, env, &got)
		if got.Likes != step.wantLikes || got.IsLiked != step.wantLiked {
			t.Errorf("step %d: want likes %d isLiked %v, got likes %d isLiked %v",
				i, step.wantLikes, step.wantLiked, got.Likes, got.IsLiked)
		}
	}

	rr, _ := do(t, api, http.MethodPost, "/api/comments/missing/like", nil, "u1")
	if rr.Code != http.StatusNotFound {
		t.Errorf("want status code %v, got status code %v", http.StatusNotFound, rr.Code)
	}
}

func TestAPI_likeHandlerAnonymous(t *testing.T) {
	api := newTestAPI()
	c := createComment(t, api, models.CreateRequest{Content: "like me", PageContext: "news-1"}, "")

	do(t, api, http.MethodPost, "/api/comments/"+c.ID+"/like", nil, "")
	_, env := do(t, api, http.MethodPost, "/api/comments/"+c.ID+"/like", nil, "   ")

	var got models.CommentView
	decodeData(t, env, &got)
	if got.Likes != 0 {
		t.Errorf("want anonymous viewers to share one like, got likes %d", got.Likes)
	}
}

func TestAPI_deleteCommentHandler(t *testing.T) {
	api := newTestAPI()
	c := createComment(t, api, models.CreateRequest{Content: "bye", PageContext: "news-1"}, "u1")
	createComment(t, api, models.CreateRequest{Content: "reply", PageContext: "news-1", ParentID: c.ID}, "u2")

	rr, env := do(t, api, http.MethodDelete, "/api/comments/"+c.ID, nil, "u1")
	if rr.Code != http.StatusOK {
		t.Fatalf("want status code %v, got status code %v", http.StatusOK, rr.Code)
	}
	var msg Message
	decodeData(t, env, &msg)
	if msg.Message == "" {
		t.Error("want non-empty message")
	}

	_, env = do(t, api, http.MethodGet, "/api/comments/news-1/stats", nil, "")
	var stats models.Stats
	decodeData(t, env, &stats)
	if stats != (models.Stats{}) {
		t.Errorf("want replies deleted with parent, got %+v", stats)
	}

	rr, env = do(t, api, http.MethodDelete, "/api/comments/"+c.ID, nil, "u1")
	if rr.Code != http.StatusNotFound {
		t.Errorf("want status code %v, got status code %v", http.StatusNotFound, rr.Code)
	}
	if env.Success {
		t.Error("want success false")
	}
}

func TestAPI_statsHandler(t *testing.T) {
	api := newTestAPI()
	c := createComment(t, api, models.CreateRequest{Content: "one", PageContext: "news-1"}, "u1")
	createComment(t, api, models.CreateRequest{Content: "two", PageContext: "news-1"}, "u1")
	createComment(t, api, models.CreateRequest{Content: "r", PageContext: "news-1", ParentID: c.ID}, "u1")

	rr, env := do(t, api, http.MethodGet, "/api/comments/news-1/stats", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("want status code %v, got status code %v", http.StatusOK, rr.Code)
	}

	var got models.Stats
	decodeData(t, env, &got)
	want := models.Stats{TotalComments: 2, TotalReplies: 1}
	if got != want {
		t.Errorf("want stats %+v, got %+v", want, got)
	}
}

func TestAPI_unmatchedRoutes(t *testing.T) {
	api := newTestAPI()

	tests := []struct {
		name       string
		method     string
		path       string
		statusWant int
	}{
		{name: "Unknown path", method: http.MethodGet, path: "/api/posts", statusWant: http.StatusNotFound},
		{name: "Root", method: http.MethodGet, path: "/", statusWant: http.StatusNotFound},
		{name: "Wrong method", method: http.MethodPut, path: "/api/comments/news-1", statusWant: http.StatusMethodNotAllowed},
		{name: "Get on like", method: http.MethodGet, path: "/api/comments/c1/like", statusWant: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, env := do(t, api, tt.method, tt.path, nil, "")
			if rr.Code != tt.statusWant {
				t.Errorf("want status code %v, got status code %v", tt.statusWant, rr.Code)
			}
			if env.Success || env.Error == "" {
				t.Errorf("want failure envelope with message, got %+v", env)
			}
			if rr.Header().Get("X-Request-Id") == "" {
				t.Error("want X-Request-Id header on error response")
			}
		})
	}
}

func TestAPI_preflight(t *testing.T) {
	api := newTestAPI()

	req := httptest.NewRequest(http.MethodOptions, "/api/comments", nil)
	req.Header.Set("Origin", "https://prtu.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("want status code %v, got status code %v", http.StatusNoContent, rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://prtu.example" {
		t.Errorf("want allowed origin %q, got %q", "https://prtu.example", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "user-id") {
		t.Errorf("want user-id in allowed headers, got %q", got)
	}
}

// unavailableService fails like a service whose store went away.
type unavailableService struct{}

func (unavailableService) Create(context.Context, models.CreateRequest, string) (models.CommentView, error) {
	return models.CommentView{}, fmt.Errorf("%w: no reachable servers", comments.ErrUnavailable)
}

func (unavailableService) List(context.Context, string, string) ([]models.CommentView, error) {
	return nil, fmt.Errorf("%w: no reachable servers", comments.ErrUnavailable)
}

func (unavailableService) ToggleLike(context.Context, string, string) (models.CommentView, error) {
	return models.CommentView{}, fmt.Errorf("%w: no reachable servers", comments.ErrUnavailable)
}

func (unavailableService) Delete(context.Context, string) (bool, error) {
	return false, fmt.Errorf("%w: no reachable servers", comments.ErrUnavailable)
}

func (unavailableService) Stats(context.Context, string) (models.Stats, error) {
	return models.Stats{}, fmt.Errorf("%w: no reachable servers", comments.ErrUnavailable)
}

func (unavailableService) Ping(context.Context) error {
	return fmt.Errorf("%w: no reachable servers", comments.ErrUnavailable)
}

func TestAPI_unavailable(t *testing.T) {
	api := New(Config{ServiceName: "community-test", StorageName: "mongo"}, unavailableService{}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "Health", method: http.MethodGet, path: "/health"},
		{name: "List", method: http.MethodGet, path: "/api/comments/news-1"},
		{name: "Create", method: http.MethodPost, path: "/api/comments", body: models.CreateRequest{Content: "x", PageContext: "news-1"}},
		{name: "Like", method: http.MethodPost, path: "/api/comments/c1/like"},
		{name: "Delete", method: http.MethodDelete, path: "/api/comments/c1"},
		{name: "Stats", method: http.MethodGet, path: "/api/comments/news-1/stats"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, env := do(t, api, tt.method, tt.path, tt.body, "u1")
			if rr.Code != http.StatusServiceUnavailable {
				t.Errorf("want status code %v, got status code %v", http.StatusServiceUnavailable, rr.Code)
			}
			if env.Success {
				t.Error("want success false")
			}
			if env.Error != msgUnavailable {
				t.Errorf("want error %q, got %q", msgUnavailable, env.Error)
			}
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusWant int
		msgWant    string
	}{
		{name: "Validation", err: &comments.ValidationError{Field: "content", Reason: "is required"}, statusWant: http.StatusBadRequest, msgWant: "content is required"},
		{name: "Not found", err: comments.ErrCommentNotFound, statusWant: http.StatusNotFound, msgWant: "comment not found"},
		{name: "Parent not found", err: comments.ErrParentNotFound, statusWant: http.StatusNotFound, msgWant: "parent comment not found"},
		{name: "Unavailable", err: fmt.Errorf("%w: timeout", comments.ErrUnavailable), statusWant: http.StatusServiceUnavailable, msgWant: msgUnavailable},
		{name: "Unexpected", err: fmt.Errorf("store: duplicate key error collection comments"), statusWant: http.StatusInternalServerError, msgWant: msgInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := errorStatus(tt.err)
			if status != tt.statusWant {
				t.Errorf("want status %d, got %d", tt.statusWant, status)
			}
			if msg != tt.msgWant {
				t.Errorf("want message %q, got %q", tt.msgWant, msg)
			}
		})
	}
}
