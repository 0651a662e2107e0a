package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vizzle/studio/internal/auth"
	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/config"
	"github.com/vizzle/studio/internal/history"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/metrics"
	"github.com/vizzle/studio/internal/middleware"
	"github.com/vizzle/studio/internal/orchestrator"
	"github.com/vizzle/studio/internal/poller"
	"github.com/vizzle/studio/internal/server"
	"github.com/vizzle/studio/internal/service"
	"github.com/vizzle/studio/internal/store"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"

	// tiny payloads; the fake job service never inspects image bytes
	pngDataURI  = "data:image/png;base64,iVBORw0KGgo="
	jpegDataURI = "data:image/jpeg;base64,/9j/4AAQSkZJRg=="
)

// fakeVizzle emulates the remote job service
type fakeVizzle struct {
	*httptest.Server

	mu       sync.Mutex
	next     int
	uploads  []string
	jobs     map[string]string // id -> kind path
	hold     bool              // keep jobs processing
	failWith string            // terminal failure message
}

func newFakeVizzle(t *testing.T) *fakeVizzle {
	t.Helper()
	f := &fakeVizzle{jobs: make(map[string]string)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload/{role}", f.upload)
	mux.HandleFunc("POST /tryon", f.submit("tryon"))
	mux.HandleFunc("POST /tryon/layered", f.submit("layered"))
	mux.HandleFunc("POST /video", f.submit("video"))
	mux.HandleFunc("GET /tryon/{id}", f.status)
	mux.HandleFunc("GET /tryon/layered/{id}", f.status)
	mux.HandleFunc("GET /video/{id}", f.status)
	mux.HandleFunc("POST /safety/garment", f.safety)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeVizzle) upload(w http.ResponseWriter, r *http.Request) {
	_, fh, err := r.FormFile("file")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"detail": "file is required"})
		return
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, fh.Filename)
	f.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]string{
		"url":       "https://cdn.test/" + fh.Filename,
		"public_id": fh.Filename,
	})
}

func (f *fakeVizzle) submit(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.next++
		id := fmt.Sprintf("%s-%d", kind, f.next)
		f.jobs[id] = kind
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"id": id, "status": "queued"})
	}
}

func (f *fakeVizzle) status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	kind, ok := f.jobs[id]
	hold, failWith := f.hold, f.failWith
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "job not found"})
		return
	}

	switch {
	case hold:
		json.NewEncoder(w).Encode(map[string]string{"id": id, "status": "running"})
	case failWith != "":
		json.NewEncoder(w).Encode(map[string]string{"id": id, "status": "failed", "error": failWith})
	case kind == "video":
		json.NewEncoder(w).Encode(map[string]string{"id": id, "status": "completed", "video_url": "https://cdn.test/" + id + ".mp4"})
	default:
		json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": "succeeded", "output": []string{"https://cdn.test/" + id + ".jpg"}})
	}
}

func (f *fakeVizzle) safety(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GarmentDescription string `json:"garment_description"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if strings.Contains(strings.ToLower(req.GarmentDescription), "weapon") {
		json.NewEncoder(w).Encode(map[string]interface{}{"allowed": false, "message": "This item cannot be tried on"})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"allowed": true})
}

func (f *fakeVizzle) setHold(v bool) {
	f.mu.Lock()
	f.hold = v
	f.mu.Unlock()
}

func (f *fakeVizzle) setFailure(msg string) {
	f.mu.Lock()
	f.failWith = msg
	f.mu.Unlock()
}

func (f *fakeVizzle) uploadNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	remote *fakeVizzle
}

// setupApp builds the app the way main.go does, with memory backends and a fake
// remote job service.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	log := logger.Nop()
	remote := newFakeVizzle(t)

	vizzle := client.NewVizzleClient(&config.VizzleConfig{BaseURL: remote.URL, Timeout: 5}, log)
	guarded := store.NewGuardedStore(store.NewMemoryBackend(), 0, log, nil)
	hist := history.NewMemoryStore()

	sessions := service.NewSessionService(orchestrator.Deps{
		Jobs:    vizzle,
		Media:   vizzle,
		Poller:  poller.New(vizzle, poller.Options{}, log, nil),
		History: hist,
		Results: store.NewResultStore(guarded, "test"),
		Log:     log,
	}, nil, nil, log, 0)
	t.Cleanup(sessions.Shutdown)

	app := server.New(server.Options{
		Services: server.Services{
			Sessions: sessions,
			Uploads:  service.NewUploadService(vizzle, vizzle, store.NewUploadStateStore(guarded, "test"), 0, log),
			Pages:    service.NewPageService(store.NewPageStore(guarded, "test"), log),
			Wishlist: service.NewWishlistService(store.NewWishlistStore(guarded, "test")),
			History:  service.NewHistoryService(hist),
			Safety:   service.NewSafetyService(vizzle, log),
		},
		Authenticator: auth.NewAuthenticator(nil, testJWTSecret),
		Limiter:       middleware.NewRateLimiter(nil, log),
		Metrics:       metrics.New(),
		Health: func() fiber.Map {
			return fiber.Map{"redis": false, "postgres": false, "r2": false, "auth": true}
		},
		Log: log,
	})

	return &testApp{app: app, remote: remote}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.NewAuthenticator(nil, testJWTSecret).IssueLegacyToken(testUserID, "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
}

// doMultipart performs an authenticated multipart request with the given files.
func doMultipart(t *testing.T, app *fiber.App, path string, fields map[string]string, files map[string][]byte) (*http.Response, error) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	for field, data := range files {
		part, err := w.CreateFormFile(field, field+".png")
		if err != nil {
			return nil, err
		}
		part.Write(data)
	}
	w.Close()

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t))
	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// field walks nested JSON objects by key
func field(m map[string]interface{}, path ...string) interface{} {
	var cur interface{} = m
	for _, p := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[p]
	}
	return cur
}

// waitForPhase polls the state endpoint of kindPath until phase is reached.
func waitForPhase(t *testing.T, app *fiber.App, kindPath, phase string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := doAuthRequest(t, app, http.MethodGet, "/api/"+kindPath+"/state", "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		last = parseJSON(t, resp)
		if field(last, "state", "phase") == phase {
			return last
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("phase %q not reached, last state: %v", phase, last)
	return nil
}

// waitForHistory polls the history endpoint until it holds count entries. History
// is recorded after the run reports success.
func waitForHistory(t *testing.T, app *fiber.App, count int) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := doAuthRequest(t, app, http.MethodGet, "/api/history", "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		last = parseJSON(t, resp)
		if last["count"] == float64(count) {
			return last
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("history did not reach %d entries, last: %v", count, last)
	return nil
}
