package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"storybook/internal/ratelimit"
	"storybook/pkg/domain"
	"storybook/pkg/store"
	"storybook/services/storybook/internal/app"
)

const storyContent = "Once upon a time a small fox found a lantern that could light any dream."

func newTestServer(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), CurrentUserID: 1})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{App: a, MaxPhotos: 3, MaxPhotoBytes: 1024}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv.Router()
}

type photoPart struct {
	filename    string
	contentType string
	data        []byte
}

func storyRequest(t *testing.T, title, content string, photos ...photoPart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, value := range map[string]string{"title": title, "category": "Adventure", "content": content} {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, p := range photos {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="characterPhotos"; filename="%s"`, p.filename))
		h.Set("Content-Type", p.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/stories", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func createStory(t *testing.T, h http.Handler) domain.Story {
	t.Helper()
	rec := serve(h, storyRequest(t, "The Lantern Fox", storyContent))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create story status = %d body=%s", rec.Code, rec.Body.String())
	}
	return decode[domain.Story](t, rec)
}

func countStories(t *testing.T, h http.Handler) int {
	t.Helper()
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/stories", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list stories status = %d", rec.Code)
	}
	return len(decode[[]domain.Story](t, rec))
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestCreateStoryAssignsIncreasingIDs(t *testing.T) {
	h := newTestServer(t, nil)
	first := createStory(t, h)
	second := createStory(t, h)
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("ids = %d, %d", first.ID, second.ID)
	}
	if !first.PreviewGenerated || first.Purchased || first.UserID != 1 {
		t.Fatalf("unexpected story flags: %+v", first)
	}
	if first.CharacterPhotos.IsSet() {
		t.Fatalf("expected null characterPhotos")
	}
}

func TestCreateStoryWithPhotos(t *testing.T) {
	h := newTestServer(t, nil)
	rec := serve(h, storyRequest(t, "The Lantern Fox", storyContent,
		photoPart{filename: "fox.png", contentType: "image/png", data: []byte("png")},
		photoPart{filename: "owl.jpg", contentType: "image/jpeg", data: []byte("jpg")},
	))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	story := decode[domain.Story](t, rec)
	photos, ok := story.CharacterPhotos.Get()
	if !ok || len(photos) != 2 {
		t.Fatalf("photos = %v", story.CharacterPhotos)
	}
	if photos[0] != "data:image/png;base64,cG5n" || photos[1] != "data:image/jpeg;base64,anBn" {
		t.Fatalf("unexpected data uris %v", photos)
	}
}

func TestCreateStoryRejectsBadUploads(t *testing.T) {
	h := newTestServer(t, nil)
	small := []byte("img")
	cases := map[string][]photoPart{
		"unsupported type": {{filename: "doc.gif", contentType: "image/gif", data: small}},
		"text file":        {{filename: "notes.txt", contentType: "text/plain", data: small}},
		"too large":        {{filename: "big.png", contentType: "image/png", data: bytes.Repeat([]byte("x"), 2048)}},
		"valid and invalid": {
			{filename: "fox.png", contentType: "image/png", data: small},
			{filename: "notes.txt", contentType: "text/plain", data: small},
		},
		"too many": {
			{filename: "1.png", contentType: "image/png", data: small},
			{filename: "2.png", contentType: "image/png", data: small},
			{filename: "3.png", contentType: "image/png", data: small},
			{filename: "4.png", contentType: "image/png", data: small},
		},
	}
	for name, photos := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(h, storyRequest(t, "The Lantern Fox", storyContent, photos...))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
			resp := decode[errorResponse](t, rec)
			if resp.Message != "Invalid upload" || len(resp.Errors) != 1 || resp.Errors[0].Field != "characterPhotos" {
				t.Fatalf("unexpected error body: %+v", resp)
			}
		})
	}
	if n := countStories(t, h); n != 0 {
		t.Fatalf("expected no stories after rejected uploads, got %d", n)
	}
}

func TestCreateStoryValidationErrors(t *testing.T) {
	h := newTestServer(t, nil)
	rec := serve(h, storyRequest(t, "  ", ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[errorResponse](t, rec)
	if resp.Message != "Invalid story data" || resp.Code != "STORY_INVALID_REQUEST" {
		t.Fatalf("unexpected error body: %+v", resp)
	}
	fields := map[string]bool{}
	for _, fe := range resp.Errors {
		fields[fe.Field] = true
	}
	if !fields["title"] || !fields["content"] {
		t.Fatalf("expected title and content errors, got %+v", resp.Errors)
	}
	if resp.RequestID == "" {
		t.Fatalf("expected request id in error body")
	}
	if n := countStories(t, h); n != 0 {
		t.Fatalf("expected no stories, got %d", n)
	}
}

func TestCreateStoryAcceptsShortContent(t *testing.T) {
	h := newTestServer(t, nil)
	rec := serve(h, storyRequest(t, "Fox", "A short tale."))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decode[domain.Story](t, rec); got.Content != "A short tale." {
		t.Fatalf("content = %q", got.Content)
	}
}

func TestCreateStoryAcceptsURLEncodedForm(t *testing.T) {
	h := newTestServer(t, nil)
	form := "title=Plain+Form&category=Fable&content=" + strings.ReplaceAll(storyContent, " ", "+")
	req := httptest.NewRequest(http.MethodPost, "/api/stories", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(h, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestGetStory(t *testing.T) {
	h := newTestServer(t, nil)
	story := createStory(t, h)
	rec := serve(h, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/stories/%d", story.ID), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[domain.Story](t, rec); got.Title != "The Lantern Fox" {
		t.Fatalf("title = %q", got.Title)
	}
}

func TestUnknownStoryIsNotFound(t *testing.T) {
	h := newTestServer(t, nil)
	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/stories/42", nil),
		httptest.NewRequest(http.MethodGet, "/api/stories/abc", nil),
		httptest.NewRequest(http.MethodPost, "/api/stories/42/purchase", nil),
		httptest.NewRequest(http.MethodGet, "/api/stories/42/chat", nil),
		jsonRequest(http.MethodPost, "/api/stories/42/chat", `{"message":"hello"}`),
	}
	for _, req := range requests {
		rec := serve(h, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s status = %d", req.Method, req.URL.Path, rec.Code)
		}
		if resp := decode[errorResponse](t, rec); resp.Message != "Story not found" {
			t.Fatalf("%s %s message = %q", req.Method, req.URL.Path, resp.Message)
		}
	}
}

func TestPurchaseIsIdempotent(t *testing.T) {
	h := newTestServer(t, nil)
	story := createStory(t, h)
	path := fmt.Sprintf("/api/stories/%d/purchase", story.ID)
	for i := 0; i < 2; i++ {
		rec := serve(h, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("purchase %d status = %d", i, rec.Code)
		}
		got := decode[domain.Story](t, rec)
		if !got.Purchased || !got.PreviewGenerated {
			t.Fatalf("purchase %d flags: %+v", i, got)
		}
	}
	rec := serve(h, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET purchase status = %d", rec.Code)
	}
}

func TestChatMessagesAscending(t *testing.T) {
	h := newTestServer(t, nil)
	story := createStory(t, h)
	path := fmt.Sprintf("/api/stories/%d/chat", story.ID)
	for _, body := range []string{
		`{"message":"Can the fox be orange?"}`,
		`{"message":"Of course!","isEditor":true}`,
		`{"message":"if a<b then we swap them, Tom &amp; Jerry"}`,
	} {
		rec := serve(h, jsonRequest(http.MethodPost, path, body))
		if rec.Code != http.StatusCreated {
			t.Fatalf("post chat status = %d body=%s", rec.Code, rec.Body.String())
		}
	}
	rec := serve(h, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list chat status = %d", rec.Code)
	}
	msgs := decode[[]domain.ChatMessage](t, rec)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) || msgs[i].ID <= msgs[i-1].ID {
			t.Fatalf("messages out of order: %+v", msgs)
		}
	}
	if !msgs[1].IsEditor || msgs[0].IsEditor {
		t.Fatalf("unexpected editor flags: %+v", msgs)
	}
	if msgs[2].Message != "if a<b then we swap them, Tom &amp; Jerry" {
		t.Fatalf("expected message stored verbatim, got %q", msgs[2].Message)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	h := newTestServer(t, nil)
	story := createStory(t, h)
	path := fmt.Sprintf("/api/stories/%d/chat", story.ID)
	for _, body := range []string{`{"message":"   "}`, `{"message":`} {
		rec := serve(h, jsonRequest(http.MethodPost, path, body))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q status = %d", body, rec.Code)
		}
		if resp := decode[errorResponse](t, rec); resp.Message != "Invalid message data" {
			t.Fatalf("message = %q", resp.Message)
		}
	}
}

func TestContactEmptyBodyAccepted(t *testing.T) {
	h := newTestServer(t, nil)
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/contact", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[contactResponse](t, rec)
	if !resp.Success || resp.ID != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/contact/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get contact status = %d", rec.Code)
	}
	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"name", "email", "phone", "message", "storyId"} {
		v, present := raw[field]
		if !present || v != nil {
			t.Fatalf("expected %s to be null, got %v (present=%v)", field, v, present)
		}
	}
}

func TestContactSubmissionsDescending(t *testing.T) {
	h := newTestServer(t, nil)
	for _, body := range []string{`{"name":"First"}`, `{"name":"Second","email":"second@example.com","storyId":1}`} {
		if rec := serve(h, jsonRequest(http.MethodPost, "/api/contact", body)); rec.Code != http.StatusCreated {
			t.Fatalf("submit status = %d body=%s", rec.Code, rec.Body.String())
		}
	}
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/contact", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	subs := decode[[]domain.ContactSubmission](t, rec)
	if len(subs) != 2 || subs[0].ID != 2 || subs[1].ID != 1 {
		t.Fatalf("unexpected order: %+v", subs)
	}
	if subs[0].CreatedAt.Before(subs[1].CreatedAt) {
		t.Fatalf("expected most recent first")
	}
}

func TestContactMessageStoredVerbatim(t *testing.T) {
	h := newTestServer(t, nil)
	rec := serve(h, jsonRequest(http.MethodPost, "/api/contact", `{"message":"price a<b ok? <Alice> &amp; co"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit status = %d body=%s", rec.Code, rec.Body.String())
	}
	id := decode[contactResponse](t, rec).ID
	rec = serve(h, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/contact/%d", id), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	sub := decode[domain.ContactSubmission](t, rec)
	if msg, _ := sub.Message.Get(); msg != "price a<b ok? <Alice> &amp; co" {
		t.Fatalf("message = %q", msg)
	}
}

func TestContactValidation(t *testing.T) {
	h := newTestServer(t, nil)
	rec := serve(h, jsonRequest(http.MethodPost, "/api/contact", `{"email":"not-an-email"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[errorResponse](t, rec)
	if resp.Message != "Invalid contact data" || len(resp.Errors) != 1 || resp.Errors[0].Field != "email" {
		t.Fatalf("unexpected error body: %+v", resp)
	}
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/contact/9", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("missing contact status = %d", rec.Code)
	}
}

func TestSignUp(t *testing.T) {
	h := newTestServer(t, nil)
	rec := serve(h, jsonRequest(http.MethodPost, "/api/users", `{"username":"reader","password":"secret123"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("password leaked: %s", rec.Body.String())
	}
	user := decode[domain.User](t, rec)

	rec = serve(h, jsonRequest(http.MethodPost, "/api/users", `{"username":"reader","password":"other123"}`))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	if resp := decode[errorResponse](t, rec); resp.Code != "USER_USERNAME_TAKEN" {
		t.Fatalf("code = %q", resp.Code)
	}

	rec = serve(h, jsonRequest(http.MethodPost, "/api/users", `{"username":"ab","password":"x"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid user status = %d", rec.Code)
	}

	rec = serve(h, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/users/%d", user.ID), nil))
	if rec.Code != http.StatusOK || decode[domain.User](t, rec).Username != "reader" {
		t.Fatalf("get user = %d %s", rec.Code, rec.Body.String())
	}
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/users/77", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("missing user status = %d", rec.Code)
	}
}

func TestRateLimitedWrites(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "test", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	h := newTestServer(t, func(cfg *Config) { cfg.MessageLimiter = limiter })

	if rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/contact", nil)); rec.Code != http.StatusCreated {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/contact", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if resp := decode[errorResponse](t, rec); resp.Message != "Too many requests" {
		t.Fatalf("message = %q", resp.Message)
	}
	// reads are never limited
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/contact", nil)); rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	h := newTestServer(t, nil)
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/nope", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route status = %d", rec.Code)
	}
	if rec := serve(h, httptest.NewRequest(http.MethodDelete, "/api/stories", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE stories status = %d", rec.Code)
	}
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/stories/1/unknown", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown story action status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, nil)
	createStory(t, h)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, name := range []string{"storybook_stories_created_total", "storybook_http_requests_total"} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Fatalf("exposition missing %s", name)
		}
	}
}
