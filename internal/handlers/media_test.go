package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/mediastore/internal/auth"
	"github.com/memohai/mediastore/internal/catalog"
	"github.com/memohai/mediastore/internal/logger"
	"github.com/memohai/mediastore/internal/media"
	"github.com/memohai/mediastore/internal/migration"
	"github.com/memohai/mediastore/internal/ratelimit"
	"github.com/memohai/mediastore/internal/storage"
)

const testSecret = "handler-secret"

type testAPI struct {
	echo *echo.Echo
	root string
}

func newTestAPI(t *testing.T, limiter *ratelimit.Keyed) *testAPI {
	t.Helper()
	log := logger.Discard()
	mgr, err := storage.NewManager(log, t.TempDir())
	if err != nil {
		t.Fatalf("storage manager: %v", err)
	}
	store := catalog.NewMemory()
	svc := media.NewService(log, mgr, store, nil, nil, media.Options{MaxUploadBytes: 1 << 20})
	engine := migration.NewEngine(log, mgr, store, nil)
	resolver := auth.Resolver{}

	e := echo.New()
	e.Use(auth.JWTMiddleware(testSecret, nil))
	NewPingHandler(log, mgr.Root()).Register(e)
	NewMediaHandler(log, svc, resolver, limiter, nil).Register(e)
	NewMigrateHandler(log, engine).Register(e)
	NewIdentityHandler().Register(e)
	return &testAPI{echo: e, root: mgr.Root()}
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func rawUpload(id, filename, contentType, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/media", strings.NewReader(body))
	req.Header.Set(auth.UserIDHeader, id)
	req.Header.Set(FilenameHeader, filename)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestPing(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	if rec := api.do(httptest.NewRequest(http.MethodGet, "/ping", nil)); rec.Code != http.StatusOK {
		t.Fatalf("ping: expected 200, got %d", rec.Code)
	}
	if rec := api.do(httptest.NewRequest(http.MethodHead, "/health", nil)); rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	if err := os.RemoveAll(api.root); err != nil {
		t.Fatal(err)
	}
	if rec := api.do(httptest.NewRequest(http.MethodHead, "/health", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health without root: expected 503, got %d", rec.Code)
	}
}

func TestUploadRawAndFetch(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)
	body := strings.Repeat("v", 1000)

	rec := api.do(rawUpload("browser-aa", "clip.mp4", "video/mp4", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	up := decode[UploadResponse](t, rec)
	if !strings.HasSuffix(up.Name, "_clip.mp4") || up.SizeBytes != 1000 || up.Kind != "video" || up.MIME != "video/mp4" {
		t.Fatalf("unexpected upload response: %+v", up)
	}

	req := httptest.NewRequest(http.MethodGet, "/media/"+up.Name, nil)
	req.Header.Set(auth.UserIDHeader, "browser-aa")
	req.Header.Set("Range", "bytes=950-1200")
	rec = api.do(req)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("range fetch: expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 950-999/1000" {
		t.Fatalf("unexpected Content-Range %q", got)
	}
	if rec.Body.Len() != 50 {
		t.Fatalf("expected 50 bytes, got %d", rec.Body.Len())
	}

	req = httptest.NewRequest(http.MethodGet, "/media/"+up.Name, nil)
	req.Header.Set(auth.UserIDHeader, "browser-aa")
	req.Header.Set("Range", "bytes=2000-")
	rec = api.do(req)
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */1000" {
		t.Fatalf("unexpected 416 Content-Range %q", got)
	}

	req = httptest.NewRequest(http.MethodHead, "/media/"+up.Name, nil)
	req.Header.Set(auth.UserIDHeader, "browser-aa")
	rec = api.do(req)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Length") != "1000" || rec.Body.Len() != 0 {
		t.Fatalf("HEAD: code=%d len=%s body=%d", rec.Code, rec.Header().Get("Content-Length"), rec.Body.Len())
	}
}

func TestUploadMultipart(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "ignored")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="cat photo.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\nrest"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/media", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req.Header.Set(auth.UserIDHeader, "browser-mp")
	rec := api.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	up := decode[UploadResponse](t, rec)
	if !strings.HasSuffix(up.Name, "_cat_photo.png") || up.Kind != "image" {
		t.Fatalf("unexpected upload response: %+v", up)
	}
}

func TestUploadErrors(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"missing identity", rawUpload("", "a.mp4", "video/mp4", "x"), http.StatusBadRequest},
		{"unsafe identity", rawUpload("../../etc", "a.mp4", "video/mp4", "x"), http.StatusBadRequest},
		{"authenticated id via header", rawUpload("user-1", "a.mp4", "video/mp4", "x"), http.StatusUnauthorized},
		{"unsupported type", rawUpload("browser-x", "a.txt", "text/plain", "x"), http.StatusUnsupportedMediaType},
		{"empty body", rawUpload("browser-x", "a.mp4", "video/mp4", ""), http.StatusBadRequest},
		{"too large", rawUpload("browser-x", "a.mp4", "video/mp4", strings.Repeat("x", 1<<20+1)), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		rec := api.do(tc.req)
		if rec.Code != tc.status {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.status, rec.Code, rec.Body.String())
		}
	}
}

func TestUploadRateLimited(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, ratelimit.NewKeyed(0.001, 1))

	if rec := api.do(rawUpload("browser-rl", "a.gif", "image/gif", "GIF89a")); rec.Code != http.StatusCreated {
		t.Fatalf("first upload: expected 201, got %d", rec.Code)
	}
	if rec := api.do(rawUpload("browser-rl", "b.gif", "image/gif", "GIF89a")); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second upload: expected 429, got %d", rec.Code)
	}
	if rec := api.do(rawUpload("browser-other", "c.gif", "image/gif", "GIF89a")); rec.Code != http.StatusCreated {
		t.Fatalf("other identity: expected 201, got %d", rec.Code)
	}
}

func TestListAndDelete(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)
	dir := filepath.Join(api.root, "browser-ld")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b.webm", "a.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	req.Header.Set(auth.UserIDHeader, "browser-ld")
	rec := api.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	records := decode[[]media.FileRecord](t, rec)
	if len(records) != 2 || records[0].Name != "a.jpg" || records[1].Name != "b.webm" {
		t.Fatalf("unexpected listing: %+v", records)
	}

	req = httptest.NewRequest(http.MethodDelete, "/media/a.jpg", nil)
	req.Header.Set(auth.UserIDHeader, "browser-ld")
	if rec := api.do(req); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodDelete, "/media/a.jpg", nil)
	req.Header.Set(auth.UserIDHeader, "browser-ld")
	if rec := api.do(req); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/media/a.jpg", nil)
	req.Header.Set(auth.UserIDHeader, "browser-ld")
	if rec := api.do(req); rec.Code != http.StatusNotFound {
		t.Fatalf("fetch deleted: expected 404, got %d", rec.Code)
	}
}

func TestMigrateEndpoint(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)
	up := decode[UploadResponse](t, api.do(rawUpload("browser-mig", "clip.webm", "video/webm", "webm payload")))

	token, _, err := auth.GenerateToken("user-7", testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	migrate := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/media/migrate", strings.NewReader(`{"anonymous_id":"browser-mig"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		return api.do(req)
	}

	rec := migrate()
	if rec.Code != http.StatusOK {
		t.Fatalf("migrate: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[MigrateResponse](t, rec); got.Moved != 1 || !got.Redirected {
		t.Fatalf("unexpected first migrate result: %+v", got)
	}
	if got := decode[MigrateResponse](t, migrate()); got.Moved != 0 {
		t.Fatalf("second migrate should move nothing, got %+v", got)
	}

	fetch := func(headers map[string]string) string {
		req := httptest.NewRequest(http.MethodGet, "/media/"+up.Name, nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := api.do(req)
		if rec.Code != http.StatusOK {
			t.Fatalf("fetch with %v: expected 200, got %d", headers, rec.Code)
		}
		body, _ := io.ReadAll(rec.Body)
		return string(body)
	}
	viaOld := fetch(map[string]string{auth.UserIDHeader: "browser-mig"})
	viaNew := fetch(map[string]string{echo.HeaderAuthorization: "Bearer " + token})
	if viaOld != "webm payload" || viaOld != viaNew {
		t.Fatalf("fetch mismatch: old=%q new=%q", viaOld, viaNew)
	}
}

func TestMigrateEndpointRejects(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)
	token, _, err := auth.GenerateToken("user-7", testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		auth   string
		body   string
		status int
	}{
		{"no token", "", `{"anonymous_id":"browser-a"}`, http.StatusUnauthorized},
		{"bad token", "Bearer nope", `{"anonymous_id":"browser-a"}`, http.StatusUnauthorized},
		{"not anonymous", "Bearer " + token, `{"anonymous_id":"user-8"}`, http.StatusBadRequest},
		{"missing id", "Bearer " + token, `{}`, http.StatusBadRequest},
		{"malformed body", "Bearer " + token, `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/media/migrate", strings.NewReader(tc.body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if tc.auth != "" {
			req.Header.Set(echo.HeaderAuthorization, tc.auth)
		}
		if rec := api.do(req); rec.Code != tc.status {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.status, rec.Code, rec.Body.String())
		}
	}
}

func TestAnonymousIdentity(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)
	rec := api.do(httptest.NewRequest(http.MethodPost, "/identity/anonymous", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	got := decode[AnonymousIdentityResponse](t, rec)
	if !strings.HasPrefix(got.Identity, "browser-") || got.Kind != "anonymous" {
		t.Fatalf("unexpected identity %+v", got)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err    error
		status int
	}{
		{media.ErrNotFound, http.StatusNotFound},
		{storage.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		he, ok := httpError(tc.err).(*echo.HTTPError)
		if !ok || he.Code != tc.status {
			t.Errorf("%v: expected %d, got %v", tc.err, tc.status, httpError(tc.err))
		}
	}
}
