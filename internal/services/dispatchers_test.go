package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
)

type staticProfiles struct {
	profile *AgentProfile
}

func (s staticProfiles) Current() *AgentProfile { return s.profile }

func defaultProfiles(t *testing.T) staticProfiles {
	t.Helper()
	profile, err := LoadAgentProfile("")
	if err != nil {
		t.Fatalf("LoadAgentProfile: %v", err)
	}
	return staticProfiles{profile: profile}
}

func TestUltravoxCreateCall(t *testing.T) {
	var captured ultravoxCall
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Unsafe-API-Key"); got != "test-key" {
			t.Errorf("expected api key header, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"callId":"c1","joinUrl":"wss://voice.example.com/join/c1"}`))
	}))
	defer server.Close()

	client := NewUltravoxClient("test-key", server.URL, "https://maggie.example.com/", defaultProfiles(t), nil)
	joinURL, err := client.CreateCall(context.Background(), "s1")
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if joinURL != "wss://voice.example.com/join/c1" {
		t.Errorf("unexpected join url %q", joinURL)
	}

	if !strings.Contains(captured.SystemPrompt, "Current Session ID: s1") {
		t.Error("expected the session id in the system prompt")
	}
	if captured.Voice != "Cassidy-English" {
		t.Errorf("unexpected voice %q", captured.Voice)
	}
	if captured.FirstSpeakerSettings.Agent.Text == "" {
		t.Error("expected first speaker text")
	}

	urls := map[string]string{}
	for _, tool := range captured.SelectedTools {
		urls[tool.TemporaryTool.ModelToolName] = tool.TemporaryTool.HTTP.BaseURLPattern
		for _, p := range tool.TemporaryTool.DynamicParameters {
			if p.Location != "PARAMETER_LOCATION_BODY" {
				t.Errorf("tool %s parameter %s has location %s", tool.TemporaryTool.ModelToolName, p.Name, p.Location)
			}
		}
	}
	want := map[string]string{
		"create_resources":          "https://maggie.example.com/sessions/s1/resources",
		"sendConversationSummary":   "https://maggie.example.com/sessions/s1/summary",
		"add_cognitive_distortions": "https://maggie.example.com/sessions/s1/cognitive-distortions",
		"add_user_tasks":            "https://maggie.example.com/sessions/s1/tasks",
	}
	for name, url := range want {
		if urls[name] != url {
			t.Errorf("tool %s: expected %s, got %s", name, url, urls[name])
		}
	}
}

func TestUltravoxUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Invalid API key"}`))
	}))
	defer server.Close()

	client := NewUltravoxClient("bad-key", server.URL, "https://maggie.example.com", defaultProfiles(t), nil)
	_, err := client.CreateCall(context.Background(), "s1")

	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.Kind != KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if svcErr.HTTPStatus() != http.StatusUnauthorized {
		t.Errorf("expected upstream status passthrough, got %d", svcErr.HTTPStatus())
	}
	if svcErr.Message != "Failed to create Ultravox call" || !strings.Contains(svcErr.Details, "Invalid API key") {
		t.Errorf("unexpected error: %+v", svcErr)
	}
}

func TestUltravoxMissingKey(t *testing.T) {
	client := NewUltravoxClient("", "http://127.0.0.1:0", "https://maggie.example.com", defaultProfiles(t), nil)
	_, err := client.CreateCall(context.Background(), "s1")

	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if svcErr.HTTPStatus() != http.StatusInternalServerError || svcErr.Message != "Error, please try again later" {
		t.Errorf("unexpected error: %+v", svcErr)
	}
	if !errors.Is(err, errNotConfigured) {
		t.Error("expected errNotConfigured in the chain")
	}
}

func TestExaSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "exa-key" {
			t.Errorf("missing api key header")
		}
		var req exaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Query != "managing anxiety" || !req.Contents.Text || req.NumResults != 3 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"results":[
			{"url":"https://a.example","title":"Anxiety","text":"\nBody","image":"https://a.example/i.png"},
			{"url":"https://b.example","title":"Sleep","text":"Rest","favicon":"https://b.example/f.ico"}
		]}`))
	}))
	defer server.Close()

	client := NewExaClient("exa-key", server.URL, 3, nil)
	results, err := client.Search(context.Background(), "managing anxiety")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Image != "https://a.example/i.png" || results[1].Favicon != "https://b.example/f.ico" {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestExaSearchErrors(t *testing.T) {
	if _, err := NewExaClient("", "http://127.0.0.1:0", 3, nil).Search(context.Background(), "q"); !IsUpstream(err) {
		t.Errorf("expected upstream error without a key, got %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewExaClient("exa-key", server.URL, 3, nil).Search(context.Background(), "q")
	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("expected 429 upstream error, got %v", err)
	}
}

type stubExtractor struct {
	details map[string]*PageDetails
}

func (s stubExtractor) Extract(ctx context.Context, pageURL string) (*PageDetails, error) {
	if d, ok := s.details[pageURL]; ok {
		return d, nil
	}
	return nil, errors.New("blocked")
}

func TestSearXNGSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" || r.URL.Query().Get("q") != "grounding" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Write([]byte(`{"results":[
			{"title":"Grounding","url":"https://a.example/g","content":"snippet a","img_src":"https://a.example/g.png"},
			{"title":"5-4-3-2-1","url":"https://b.example/5","content":"snippet b"},
			{"title":"Extra","url":"https://c.example/x","content":"snippet c"}
		]}`))
	}))
	defer server.Close()

	extractor := stubExtractor{details: map[string]*PageDetails{
		"https://a.example/g": {Text: "full article a", Favicon: "https://a.example/favicon.ico"},
	}}
	client := NewSearXNGClient(server.URL+"/", 2, extractor, nil)

	results, err := client.Search(context.Background(), "grounding")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected results capped at 2, got %d", len(results))
	}
	if results[0].Text != "full article a" || results[0].Favicon != "https://a.example/favicon.ico" {
		t.Errorf("expected enriched first result, got %+v", results[0])
	}
	if results[1].Text != "snippet b" {
		t.Errorf("expected snippet kept when extraction fails, got %+v", results[1])
	}
}

func TestPageExtractorValidateURL(t *testing.T) {
	p := NewPageExtractor()
	p.lookupHost = func(_ context.Context, host string) ([]net.IPAddr, error) {
		if host == "intranet.example.com" {
			return []net.IPAddr{{IP: net.ParseIP("10.0.0.7")}}, nil
		}
		return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
	}

	for _, raw := range []string{
		"ftp://example.com/file",
		"http://localhost/admin",
		"http://127.0.0.1:8080/",
		"http://10.0.0.5/",
		"https:///nohost",
		"https://intranet.example.com/wiki",
	} {
		if _, err := p.validateURL(context.Background(), raw); err == nil {
			t.Errorf("expected %s to be rejected", raw)
		}
	}
	if _, err := p.validateURL(context.Background(), "https://example.com/article"); err != nil {
		t.Errorf("expected public URL to be accepted: %v", err)
	}
}

func TestPageExtractorHonorsRobots(t *testing.T) {
	var pageHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			io.WriteString(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		pageHits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><body><p>hello</p></body></html>")
	}))
	defer server.Close()

	p := NewPageExtractor()
	p.allowPrivate = true

	if _, err := p.Extract(context.Background(), server.URL+"/private/page"); err == nil {
		t.Error("expected robots.txt to block the page")
	}
	if pageHits.Load() != 0 {
		t.Error("blocked page must not be downloaded")
	}
}

func TestCachedSearcher(t *testing.T) {
	inner := &fakeSearcher{results: []models.SearchResult{{URL: "https://a", Title: "A"}}}
	cached := NewCachedSearcher(inner, 0)

	for _, q := range []string{"Stress", "  stress "} {
		results, err := cached.Search(context.Background(), q)
		if err != nil || len(results) != 1 {
			t.Fatalf("Search(%q) = %v, %v", q, results, err)
		}
	}
	if len(inner.queries) != 1 {
		t.Errorf("expected one upstream search for equivalent queries, got %d", len(inner.queries))
	}

	empty := &fakeSearcher{}
	cachedEmpty := NewCachedSearcher(empty, 0)
	cachedEmpty.Search(context.Background(), "nothing")
	cachedEmpty.Search(context.Background(), "nothing")
	if len(empty.queries) != 2 {
		t.Errorf("empty results must not be cached, got %d upstream searches", len(empty.queries))
	}
}

func TestComposeInsightsEmail(t *testing.T) {
	msg, err := ComposeInsightsEmail(models.Insights{
		Summary: "You practiced reframing.",
		Tasks:   []string{"Journal for five minutes", " "},
		Topics:  nil,
	})
	if err != nil {
		t.Fatalf("ComposeInsightsEmail: %v", err)
	}

	if !strings.HasPrefix(msg.Text, "Hey there,") || !strings.Contains(msg.Text, "The Maggie Team") {
		t.Errorf("unexpected text body %q", msg.Text)
	}
	if strings.Contains(msg.Text, "## Topics") {
		t.Error("empty sections must be omitted")
	}
	if !strings.Contains(msg.HTML, "<li>Journal for five minutes</li>") {
		t.Errorf("expected rendered task list, got %q", msg.HTML)
	}
}

func TestBuildMIME(t *testing.T) {
	raw, err := buildMIME("maggie@example.com", "user@example.com", &EmailMessage{
		Subject: insightsSubject,
		Text:    "plain body",
		HTML:    "<p>html body</p>",
	})
	if err != nil {
		t.Fatalf("buildMIME: %v", err)
	}
	s := string(raw)
	for _, want := range []string{
		"To: user@example.com\r\n",
		"Subject: " + insightsSubject,
		"multipart/alternative",
		"plain body",
		"<p>html body</p>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("expected message to contain %q", want)
		}
	}
}

func TestBrevoSender(t *testing.T) {
	var got brevoEmail
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "brevo-key" {
			t.Errorf("missing api-key header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"messageId":"m1"}`))
	}))
	defer server.Close()

	sender := NewBrevoSender("brevo-key", server.URL, "maggie@example.com")
	err := sender.Send(context.Background(), "user@example.com", &EmailMessage{Subject: "s", Text: "t", HTML: "<p>h</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.To) != 1 || got.To[0].Email != "user@example.com" || got.Sender.Email != "maggie@example.com" {
		t.Errorf("unexpected request %+v", got)
	}

	if err := NewBrevoSender("", server.URL, "maggie@example.com").Send(context.Background(), "user@example.com", &EmailMessage{}); !IsUpstream(err) {
		t.Errorf("expected upstream error without a key, got %v", err)
	}
}

func TestSMTPSenderMissingCredentials(t *testing.T) {
	err := NewSMTPSender("smtp.example.com", 465, "", "").Send(context.Background(), "user@example.com", &EmailMessage{})
	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("expected 500 upstream error, got %v", err)
	}
}

func TestParseEmailAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "user@example.com", want: "user@example.com"},
		{in: "  user@example.com ", want: "user@example.com"},
		{in: "", wantErr: true},
		{in: "not-an-email", wantErr: true},
		{in: "Someone <user@example.com>", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseEmailAddress(tt.in)
		if tt.wantErr {
			if !IsValidation(err) {
				t.Errorf("ParseEmailAddress(%q): expected validation error, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseEmailAddress(%q) = %q, %v", tt.in, got, err)
		}
	}
}
