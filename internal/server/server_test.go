package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/riku-miura/wiki-rag/internal/query"
	"github.com/riku-miura/wiki-rag/internal/rag"
	"github.com/riku-miura/wiki-rag/internal/session"
)

// fakeBuilder records Run invocations and signals completion.
type fakeBuilder struct {
	ran chan *session.Session
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{ran: make(chan *session.Session, 1)}
}

func (b *fakeBuilder) Run(_ context.Context, sess *session.Session) {
	b.ran <- sess
}

// fakeAnswerer returns a canned result.
type fakeAnswerer struct {
	result *query.Result
}

func (a *fakeAnswerer) Answer(_ context.Context, sessionID, question string) *query.Result {
	res := *a.result
	res.SessionID = sessionID
	res.Question = question
	return &res
}

// fakeSessions serves sessions from a map.
type fakeSessions struct {
	sessions map[uuid.UUID]*session.Session
}

func (f *fakeSessions) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session", rag.ErrNotFound)
	}
	return s, nil
}

type serverFixture struct {
	srv      *Server
	builder  *fakeBuilder
	answerer *fakeAnswerer
	sessions *fakeSessions
}

func newServerForTest(t *testing.T, cfg *Config) *serverFixture {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	f := &serverFixture{
		builder:  newFakeBuilder(),
		answerer: &fakeAnswerer{result: &query.Result{Answer: "The sky is blue."}},
		sessions: &fakeSessions{sessions: make(map[uuid.UUID]*session.Session)},
	}

	srv, err := New(f.builder, f.answerer, f.sessions, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.srv = srv
	t.Cleanup(srv.stopRL)
	return f
}

func (f *serverFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	return w
}

func Test_HandleBuild_AcceptsArticleURL(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)
	w := f.do(http.MethodPost, "/api/rag/build",
		`{"url":"https://en.wikipedia.org/wiki/Alan_Turing"}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body)
	}

	var sess session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sess.Status != session.StatusProcessing {
		t.Errorf("response status = %q, want processing", sess.Status)
	}
	if sess.ID == uuid.Nil {
		t.Error("response has no session ID")
	}

	select {
	case ran := <-f.builder.ran:
		if ran.ID != sess.ID {
			t.Errorf("builder ran session %s, response said %s", ran.ID, sess.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("builder was never invoked")
	}
}

func Test_HandleBuild_RejectsNonWikipediaURL(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)
	w := f.do(http.MethodPost, "/api/rag/build", `{"url":"https://example.com/wiki/X"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != session.CodeInvalidInput {
		t.Errorf("code = %q, want invalid_input", resp.Code)
	}

	select {
	case <-f.builder.ran:
		t.Fatal("builder ran for a rejected URL")
	case <-time.After(50 * time.Millisecond):
	}
}

func Test_HandleBuild_RejectsMalformedBody(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)
	w := f.do(http.MethodPost, "/api/rag/build", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func Test_HandleBuild_RateLimited(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, &Config{RateLimit: 0.001, RateBurst: 1})

	first := f.do(http.MethodPost, "/api/rag/build",
		`{"url":"https://en.wikipedia.org/wiki/A"}`)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first status = %d, want 202", first.Code)
	}

	second := f.do(http.MethodPost, "/api/rag/build",
		`{"url":"https://en.wikipedia.org/wiki/B"}`)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
	var body errorResponse
	if err := json.Unmarshal(second.Body.Bytes(), &body); err != nil {
		t.Fatalf("429 body is not the JSON error envelope: %v", err)
	}
	if body.Code != codeRateLimited {
		t.Errorf("429 error code = %q, want %q", body.Code, codeRateLimited)
	}
}

func Test_HandleSessionStatus(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)
	sess := session.New("https://en.wikipedia.org/wiki/Alan_Turing")
	sess.ChunkCount = 9
	sess.MarkReady()
	f.sessions.sessions[sess.ID] = sess

	w := f.do(http.MethodGet, "/api/rag/sessions/"+sess.ID.String(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}

	var got session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sess.ID || got.Status != session.StatusReady || got.ChunkCount != 9 {
		t.Errorf("response = %+v", got)
	}
}

func Test_HandleSessionStatus_UnknownID(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)
	w := f.do(http.MethodGet, "/api/rag/sessions/"+uuid.NewString(), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func Test_HandleSessionStatus_MalformedID(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)
	w := f.do(http.MethodGet, "/api/rag/sessions/not-a-uuid", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func Test_HandleQuery_ReturnsAggregatedAnswer(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)
	f.answerer.result = &query.Result{
		Answer: "Because of Rayleigh scattering.",
		Model:  "llama3.2:3b-instruct",
		Chunks: []rag.RetrievedChunk{{Position: 0, Content: "The sky is blue.", Distance: 0.1}},
	}

	w := f.do(http.MethodPost, "/api/chat/query",
		fmt.Sprintf(`{"session_id":%q,"question":"Why is the sky blue?"}`, uuid.NewString()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}

	var res query.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Answer != "Because of Rayleigh scattering." {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Chunks) != 1 {
		t.Errorf("chunks = %d, want 1", len(res.Chunks))
	}

	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode raw response: %v", err)
	}
	if v, ok := raw["streaming_supported"]; !ok || v != false {
		t.Errorf("streaming_supported = %v (present=%v), want false", v, ok)
	}
}

func Test_HandleQuery_ErrorCodesMapToHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want int
	}{
		{session.CodeInvalidInput, http.StatusBadRequest},
		{session.CodeNotFound, http.StatusNotFound},
		{session.CodeUpstreamUnavailable, http.StatusBadGateway},
		{session.CodeDimensionMismatch, http.StatusInternalServerError},
		{session.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		f := newServerForTest(t, nil)
		f.answerer.result = &query.Result{Error: "boom", ErrorCode: tt.code}

		w := f.do(http.MethodPost, "/api/chat/query",
			fmt.Sprintf(`{"session_id":%q,"question":"q"}`, uuid.NewString()))
		if w.Code != tt.want {
			t.Errorf("code %s: status = %d, want %d", tt.code, w.Code, tt.want)
		}
	}
}

func Test_HandleHistory_ExistingSessionIsEmpty(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)
	sess := session.New("https://en.wikipedia.org/wiki/Alan_Turing")
	sess.MarkReady()
	f.sessions.sessions[sess.ID] = sess

	w := f.do(http.MethodGet, "/api/chat/"+sess.ID.String()+"/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp historyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != sess.ID.String() {
		t.Errorf("session_id = %q", resp.SessionID)
	}
	if len(resp.Messages) != 0 {
		t.Errorf("messages = %d, want 0", len(resp.Messages))
	}
}

func Test_HandleHistory_UnknownSession(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)
	w := f.do(http.MethodGet, "/api/chat/"+uuid.NewString()+"/history", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func Test_HandleHealth(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)
	w := f.do(http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

// stubPinger implements Pinger with a fixed result.
type stubPinger struct {
	name string
	err  error
}

func (p *stubPinger) Name() string               { return p.name }
func (p *stubPinger) Ping(context.Context) error { return p.err }

func Test_HandleReady_AllProbesPass(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, &Config{
		Pingers: []Pinger{
			&stubPinger{name: "embedder"},
			&stubPinger{name: "generator"},
		},
	})

	w := f.do(http.MethodGet, "/api/ready", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}
	var resp readyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Ready || len(resp.Checks) != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func Test_HandleReady_FailingProbeReturns503(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, &Config{
		Pingers: []Pinger{
			&stubPinger{name: "embedder"},
			&stubPinger{name: "qdrant", err: errors.New("connection refused")},
		},
	})

	w := f.do(http.MethodGet, "/api/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var resp readyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Ready {
		t.Error("ready = true with a failing probe")
	}
	var found bool
	for _, c := range resp.Checks {
		if c.Name == "qdrant" && !c.OK && c.Error != "" {
			found = true
		}
	}
	if !found {
		t.Errorf("checks = %+v, missing failed qdrant entry", resp.Checks)
	}
}

func Test_MetricsEndpointExposed(t *testing.T) {
	t.Parallel()

	f := newServerForTest(t, nil)

	// generate one query so a wikirag series exists
	f.do(http.MethodPost, "/api/chat/query",
		fmt.Sprintf(`{"session_id":%q,"question":"q"}`, uuid.NewString()))

	w := f.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "wikirag_query_requests_total") {
		t.Error("metrics output missing wikirag_query_requests_total")
	}
}

func Test_MultiPinger_ReturnsFirstFailure(t *testing.T) {
	t.Parallel()

	m := NewMultiPinger(
		&stubPinger{name: "a"},
		&stubPinger{name: "b", err: errors.New("down")},
		&stubPinger{name: "c"},
	)
	err := m.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "b") {
		t.Fatalf("err = %v, want failure naming b", err)
	}
}
