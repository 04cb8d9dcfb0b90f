package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marianar97/maggie-web-api-endpoint/internal/database"
	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

type fakeCalls struct {
	joinURL string
	err     error
	session string
}

func (f *fakeCalls) CreateCall(ctx context.Context, sessionID string) (string, error) {
	f.session = sessionID
	return f.joinURL, f.err
}

type fakeSearcher struct {
	results []models.SearchResult
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	return f.results, nil
}

type recordingSender struct {
	to  string
	msg *services.EmailMessage
}

func (r *recordingSender) Send(ctx context.Context, address string, msg *services.EmailMessage) error {
	r.to = address
	r.msg = msg
	return nil
}

// failingStore accepts reads but rejects every write
type failingStore struct {
	*database.MemoryStore
}

func (failingStore) SetDocument(ctx context.Context, path string, data map[string]any) error {
	return errors.New("permission denied")
}

func (failingStore) UpdateDocument(ctx context.Context, path string, data map[string]any) error {
	return errors.New("permission denied")
}

type testEnv struct {
	app     *fiber.App
	store   database.DocumentStore
	repo    *services.SessionRepository
	fetcher *services.ResourceFetcher
	calls   *fakeCalls
	mail    *recordingSender
}

// gatedSearcher blocks every search until release is closed
type gatedSearcher struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedSearcher) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	g.started <- struct{}{}
	<-g.release
	return []models.SearchResult{{URL: "https://example.com/a", Title: query, Text: "text"}}, nil
}

func setupTestApp(t *testing.T, store database.DocumentStore) *testEnv {
	t.Helper()
	searcher := &fakeSearcher{results: []models.SearchResult{
		{URL: "https://example.com/a", Title: " Box breathing ", Text: "\nBreathe in for four.", Favicon: "https://example.com/favicon.ico"},
		{URL: "https://example.com/b", Title: "", Text: "untitled"},
	}}
	return setupTestAppWith(t, store, searcher, nil)
}

func setupTestAppWith(t *testing.T, store database.DocumentStore, searcher services.Searcher, configure func(*Routes)) *testEnv {
	t.Helper()

	repo := services.NewSessionRepository(store, nil)
	fetcher := services.NewResourceFetcher(searcher, repo, nil)
	calls := &fakeCalls{joinURL: "wss://voice.example.com/join/abc"}
	mail := &recordingSender{}

	routes := &Routes{
		Health:    NewHealthHandler(store, nil, "memory"),
		Sessions:  NewSessionHandler(repo),
		Summaries: NewSummaryHandler(repo),
		Resources: NewResourceHandler(repo, fetcher),
		Calls:     NewCallHandler(calls),
		Emails:    NewEmailHandler(services.NewEmailService(mail, nil)),
		Waitlist:  NewWaitlistHandler(services.NewWaitlistService(store)),
	}

	if configure != nil {
		configure(routes)
	}

	app := fiber.New()
	routes.Mount(app)

	t.Cleanup(func() { fetcher.Drain(time.Second) })

	return &testEnv{app: app, store: store, repo: repo, fetcher: fetcher, calls: calls, mail: mail}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			reader = bytes.NewReader(raw)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response of %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func TestRootHandler(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	status, body := env.do(t, http.MethodGet, "/", nil)
	if status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
	if body["message"] != "Hello, World!" {
		t.Errorf("Expected liveness message, got %v", body)
	}
}

func TestHealthHandler(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	status, body := env.do(t, http.MethodGet, "/health", nil)
	if status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", body["status"])
	}
}

func TestDistortionsAppendInArrivalOrder(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	status, body := env.do(t, http.MethodPost, "/sessions/s1/cognitive-distortions",
		map[string]any{"cognitiveDistortions": []string{"A"}})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %v", status, body)
	}
	if body["distortion_id"] != models.DistortionsDocID || body["status"] != "success" {
		t.Errorf("Unexpected ack: %v", body)
	}

	env.do(t, http.MethodPost, "/sessions/s1/cognitive-distortions",
		map[string]any{"cognitiveDistortions": []string{"B", "C"}})

	status, body = env.do(t, http.MethodGet, "/sessions/s1/cognitive-distortions", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	records := body["cognitiveDistortions"].([]any)
	if len(records) != 1 {
		t.Fatalf("Expected exactly one record, got %d", len(records))
	}
	record := records[0].(map[string]any)
	got := record["distortions"].([]any)
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("distortions[%d] = %v, want %s", i, got[i], want[i])
		}
	}
	if record["id"] != models.DistortionsDocID {
		t.Errorf("Expected record id %s, got %v", models.DistortionsDocID, record["id"])
	}
}

func TestDistortionsEmptyListRejected(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	status, body := env.do(t, http.MethodPost, "/sessions/s1/cognitive-distortions",
		map[string]any{"cognitiveDistortions": []string{}})
	if status != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", status)
	}
	if body["message"] != "No cognitive distortions provided" {
		t.Errorf("Unexpected message: %v", body["message"])
	}

	status, body = env.do(t, http.MethodGet, "/sessions/s1/cognitive-distortions", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if records := body["cognitiveDistortions"].([]any); len(records) != 0 {
		t.Errorf("Expected no records after a rejected write, got %v", records)
	}
}

func TestTasks(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	status, body := env.do(t, http.MethodGet, "/sessions/s1/tasks", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 before any task, got %d", status)
	}
	if tasks := body["userTasks"].([]any); len(tasks) != 0 {
		t.Errorf("Expected empty userTasks, got %v", tasks)
	}

	status, _ = env.do(t, http.MethodPost, "/sessions/s1/tasks", map[string]any{"task": "   "})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for a blank task, got %d", status)
	}

	for _, task := range []string{"X", "Y"} {
		status, body = env.do(t, http.MethodPost, "/sessions/s1/tasks", map[string]any{"task": task})
		if status != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %v", status, body)
		}
		if body["task_id"] != models.TasksDocID {
			t.Errorf("Expected task_id %s, got %v", models.TasksDocID, body["task_id"])
		}
	}

	status, body = env.do(t, http.MethodGet, "/sessions/s1/tasks", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	record := body["userTasks"].([]any)[0].(map[string]any)
	tasks := record["tasks"].([]any)
	if len(tasks) != 2 || tasks[0] != "X" || tasks[1] != "Y" {
		t.Errorf("Expected [X Y], got %v", tasks)
	}
}

func TestSummariesNewestFirst(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	env.repo.SetClock(func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	})

	for _, id := range []string{"first", "second", "third"} {
		status, body := env.do(t, http.MethodPost, "/sessions/"+id+"/summary", map[string]any{
			"conversationSummary":            "summary of " + id,
			"identifiedCognitiveDistortions": []string{"labeling"},
			"suggestedExercises":             "journaling",
		})
		if status != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %v", status, body)
		}
	}
	// A session with no summary must not be listed
	env.do(t, http.MethodPost, "/sessions/no-summary/tasks", map[string]any{"task": "walk"})

	// Overwrite keeps only the latest text
	env.do(t, http.MethodPost, "/sessions/first/summary", map[string]any{"conversationSummary": "rewritten"})

	status, body := env.do(t, http.MethodGet, "/summaries", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	summaries := body["summaries"].([]any)
	wantOrder := []string{"first", "third", "second"}
	if len(summaries) != len(wantOrder) {
		t.Fatalf("Expected %d summaries, got %d", len(wantOrder), len(summaries))
	}
	for i, want := range wantOrder {
		if got := summaries[i].(map[string]any)["id"]; got != want {
			t.Errorf("summaries[%d] = %v, want %s", i, got, want)
		}
	}

	status, body = env.do(t, http.MethodGet, "/summaries/first", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if body["summary"] != "rewritten" {
		t.Errorf("Expected overwritten summary, got %v", body["summary"])
	}
	if distortions := body["cognitiveDistortions"].([]any); len(distortions) != 0 {
		t.Errorf("Expected overwrite to drop earlier fields, got %v", distortions)
	}

	status, body = env.do(t, http.MethodGet, "/summaries/unknown", nil)
	if status != http.StatusNotFound || body["error"] != "Summary not found" {
		t.Errorf("Expected 404 'Summary not found', got %d %v", status, body)
	}
}

func TestResources(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	status, body := env.do(t, http.MethodPost, "/sessions/s1/resources", map[string]any{"query": ""})
	if status != http.StatusBadRequest || body["message"] != "No query provided" {
		t.Errorf("Expected 400 'No query provided', got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/sessions/s1/resources", nil)
	if status != http.StatusNotFound || body["message"] != "No resources found" {
		t.Errorf("Expected 404 before any fetch, got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/sessions/s1/resources", map[string]any{"query": "breathing exercises"})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %v", status, body)
	}
	if body["status"] != "success" || body["fetch_id"] == "" {
		t.Errorf("Unexpected ack: %v", body)
	}
	env.fetcher.Wait()

	status, body = env.do(t, http.MethodGet, "/sessions/s1/resources", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	resources := body["resources"].([]any)
	if len(resources) != 1 {
		t.Fatalf("Expected the untitled hit to be dropped, got %v", resources)
	}
	res := resources[0].(map[string]any)
	if res["title"] != "Box breathing" || res["text"] != "Breathe in for four." {
		t.Errorf("Unexpected ingestion: %v", res)
	}
	if res["image"] != "https://example.com/favicon.ico" {
		t.Errorf("Expected favicon fallback, got %v", res["image"])
	}
}

func TestResourcesKeepSessionAcrossRequests(t *testing.T) {
	searcher := &gatedSearcher{started: make(chan struct{}), release: make(chan struct{})}
	env := setupTestAppWith(t, database.NewMemoryStore(), searcher, nil)

	status, body := env.do(t, http.MethodPost, "/sessions/AAAAAAAA/resources", map[string]any{"query": "grounding"})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %v", status, body)
	}

	select {
	case <-searcher.started:
	case <-time.After(time.Second):
		t.Fatal("search never started")
	}

	// Other requests reuse the server's buffers while the fetch is in flight
	for i := 0; i < 20; i++ {
		env.do(t, http.MethodGet, "/sessions/BBBBBBBB/resources", nil)
	}
	close(searcher.release)
	env.fetcher.Wait()

	status, body = env.do(t, http.MethodGet, "/sessions/AAAAAAAA/resources", nil)
	if status != http.StatusOK || body["sessionId"] != "AAAAAAAA" {
		t.Errorf("Expected resources under AAAAAAAA, got %d %v", status, body)
	}
	status, body = env.do(t, http.MethodGet, "/sessions/BBBBBBBB/resources", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected nothing under BBBBBBBB, got %d %v", status, body)
	}

	sessions, err := env.repo.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0] != "AAAAAAAA" {
		t.Errorf("Expected only AAAAAAAA to be written, got %v", sessions)
	}
}

func TestSessionLimitersSplitByMethod(t *testing.T) {
	reject := func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many requests"})
	}
	env := setupTestAppWith(t, database.NewMemoryStore(), &fakeSearcher{}, func(r *Routes) {
		r.ToolCallLimiter = reject
	})

	for _, path := range []string{"/sessions/s1/tasks", "/sessions/s1/cognitive-distortions", "/sessions/s1/resources"} {
		if status, body := env.do(t, http.MethodGet, path, nil); status != http.StatusNotFound {
			t.Errorf("GET %s: expected reads to skip the tool-call limiter, got %d %v", path, status, body)
		}
	}
	if status, _ := env.do(t, http.MethodPost, "/sessions/s1/tasks", map[string]any{"task": "walk"}); status != http.StatusTooManyRequests {
		t.Errorf("POST tasks: expected the tool-call limiter, got %d", status)
	}

	env = setupTestAppWith(t, database.NewMemoryStore(), &fakeSearcher{}, func(r *Routes) {
		r.ReadLimiter = reject
	})
	if status, _ := env.do(t, http.MethodGet, "/sessions/s1/tasks", nil); status != http.StatusTooManyRequests {
		t.Errorf("GET tasks: expected the read limiter, got %d", status)
	}
	if status, body := env.do(t, http.MethodPost, "/sessions/s1/tasks", map[string]any{"task": "walk"}); status != http.StatusOK {
		t.Errorf("POST tasks: expected writes to skip the read limiter, got %d %v", status, body)
	}
}

func TestStorageFailureKeepsConversationGoing(t *testing.T) {
	env := setupTestApp(t, failingStore{database.NewMemoryStore()})

	status, body := env.do(t, http.MethodPost, "/sessions/s1/tasks", map[string]any{"task": "walk"})
	if status != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", status)
	}
	msg, _ := body["message"].(string)
	if !strings.Contains(msg, "continue the conversation") {
		t.Errorf("Expected the message to let the agent continue, got %q", msg)
	}
	if body["status"] != "error" || body["error"] == nil {
		t.Errorf("Unexpected failure ack: %v", body)
	}

	status, _ = env.do(t, http.MethodGet, "/sessions/s1/tasks", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected no task record after a failed write, got %d", status)
	}
}

func TestInvalidBody(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	status, body := env.do(t, http.MethodPost, "/sessions/s1/tasks", "{not json")
	if status != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", status)
	}
	if body["message"] != "Invalid request body" {
		t.Errorf("Unexpected message: %v", body["message"])
	}
}

func TestCalls(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	status, body := env.do(t, http.MethodPost, "/sessions/s1/calls", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %v", status, body)
	}
	if body["joinUrl"] != env.calls.joinURL {
		t.Errorf("Expected joinUrl %s, got %v", env.calls.joinURL, body["joinUrl"])
	}
	if env.calls.session != "s1" {
		t.Errorf("Expected the call to be bound to s1, got %q", env.calls.session)
	}

	env.calls.err = services.NewUpstreamError("Failed to create Ultravox call", http.StatusUnauthorized, `{"detail":"bad key"}`, nil)
	status, body = env.do(t, http.MethodPost, "/sessions/s1/calls", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("Expected upstream status 401, got %d", status)
	}
	if body["error"] != "Failed to create Ultravox call" || body["details"] != `{"detail":"bad key"}` {
		t.Errorf("Unexpected failure body: %v", body)
	}
}

func TestEmails(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	status, body := env.do(t, http.MethodPost, "/emails", map[string]any{"insights": map[string]any{"summary": "s"}})
	if status != http.StatusBadRequest || body["message"] != "No email address provided" {
		t.Errorf("Expected 400 'No email address provided', got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/emails", map[string]any{
		"email_address": "user@example.com",
		"insights": map[string]any{
			"summary": "You worked on reframing.",
			"tasks":   []string{"Journal daily"},
			"topics":  []string{"stress"},
		},
	})
	if status != http.StatusOK || body["message"] != "Email sent successfully" {
		t.Fatalf("Expected 200 'Email sent successfully', got %d %v", status, body)
	}
	if env.mail.to != "user@example.com" {
		t.Errorf("Expected recipient user@example.com, got %q", env.mail.to)
	}
	if !strings.Contains(env.mail.msg.Text, "Journal daily") {
		t.Errorf("Expected tasks in the email body, got %q", env.mail.msg.Text)
	}
}

func TestEmailsWithoutSender(t *testing.T) {
	app := fiber.New()
	app.Post("/emails", NewEmailHandler(services.NewEmailService(nil, nil)).Send)

	req := httptest.NewRequest(http.MethodPost, "/emails", strings.NewReader(`{"email_address":"user@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500 without credentials, got %d", resp.StatusCode)
	}
}

func TestWaitlist(t *testing.T) {
	env := setupTestApp(t, database.NewMemoryStore())

	status, body := env.do(t, http.MethodPost, "/waitlist", map[string]any{})
	if status != http.StatusBadRequest || body["message"] != "No email address provided" {
		t.Errorf("Expected 400 'No email address provided', got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/waitlist", map[string]any{"email": "Early@Example.com"})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %v", status, body)
	}

	id, _ := body["waitlist_id"].(string)
	path, err := database.DocPath(services.CollectionWaitlist, id)
	if err != nil {
		t.Fatalf("DocPath: %v", err)
	}
	doc, exists, err := env.store.GetDocument(context.Background(), path)
	if err != nil || !exists {
		t.Fatalf("Expected waitlist entry at %s, exists=%v err=%v", path, exists, err)
	}
	if doc["email"] != "Early@Example.com" {
		t.Errorf("Expected stored email, got %v", doc["email"])
	}
}
