package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"ai-orchestrator/internal/discovery"
	"ai-orchestrator/internal/dispatch"
	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/infra/memory"
	"ai-orchestrator/internal/infra/storage"
	"ai-orchestrator/internal/usecase"
)

const testSecret = "s3cret"

type stubProvider struct{ reply string }

func (p stubProvider) Kind() domain.ProviderKind { return domain.ProviderKindLocal }

func (p stubProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	return p.reply, nil
}

func (p stubProvider) Analyze(ctx context.Context, imagePath, prompt string) (string, error) {
	return p.reply, nil
}

type stubSelector struct{ p domain.Provider }

func (s stubSelector) Select(name string) (domain.Provider, string, error) { return s.p, name, nil }

type fixture struct {
	broker  *memory.Broker
	catalog *memory.SpriteCatalog
	fs      afero.Fs
	server  *httptest.Server
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := memory.NewBroker()
	router := dispatch.NewRouter(broker, dispatch.NewRoutes(map[string]string{
		domain.TaskGenerateProductDescription: "text_queue",
		domain.TaskProcessAnimationScript:     "text_queue",
		domain.TaskSimpleTest:                 "text_queue",
		domain.TaskProcessProductImage:        "vision_queue",
		domain.TaskAnalyzeSprite:              "vision_queue",
	}, "default"), logger)
	resolver := dispatch.NewResolver(broker, logger)

	fs := afero.NewMemMapFs()
	files := storage.New(fs, storage.Dirs{
		Upload:    "/data/uploads",
		Generated: "/data/generated",
		Sprites:   "/data/sprites",
		Archive:   "/data/archive",
	}, logger)
	catalog := memory.NewSpriteCatalog()
	provider := stubProvider{reply: `{"name": "knight", "description": "armored knight"}`}
	workers := discovery.Static{{ID: "w1", Queues: []string{"text_queue"}}}

	h := NewAIHandler(Services{
		Text:    usecase.NewTextService(stubSelector{provider}, nil, logger),
		Images:  usecase.NewImageService(nil, files, router, logger),
		Catalog: usecase.NewCatalogService(router, files, catalog, provider, logger),
		Tasks:   usecase.NewTaskService(router, resolver, broker, workers, logger),
	}, secret, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := httptest.NewServer(CORS(mux))
	t.Cleanup(srv.Close)
	return &fixture{broker: broker, catalog: catalog, fs: fs, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, contentType string, body io.Reader, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	return f.do(t, http.MethodPost, path, "application/json", strings.NewReader(body), testSecret)
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		key    string
		want   int
	}{
		{name: "missing key", secret: testSecret, want: http.StatusUnauthorized},
		{name: "wrong key", secret: testSecret, key: "nope", want: http.StatusUnauthorized},
		{name: "empty secret rejects everything", secret: "", key: "anything", want: http.StatusUnauthorized},
		{name: "valid key", secret: testSecret, key: testSecret, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.secret)
			resp := f.do(t, http.MethodGet, "/api/ai/sprites-catalog", "", nil, tt.key)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t, testSecret)

	resp := f.do(t, http.MethodGet, "/api/health", "", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/ai/broker-ping", "", nil, "")
	var ping struct {
		Status string `json:"status"`
		Result struct {
			Workers map[string][]string `json:"workers"`
		} `json:"result"`
	}
	decodeBody(t, resp, &ping)
	if ping.Status != "SUCCESS" || len(ping.Result.Workers["text_queue"]) != 1 {
		t.Errorf("broker-ping = %+v", ping)
	}

	resp = f.do(t, http.MethodGet, "/api/ai/send-simple-task", "", nil, "")
	var env struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &env)
	if env.Status != "SUCCESS" || len(f.broker.Pending("text_queue")) != 1 {
		t.Errorf("send-simple-task = %+v, pending %d", env, len(f.broker.Pending("text_queue")))
	}
}

func TestPreflightSkipsAuth(t *testing.T) {
	f := newFixture(t, testSecret)
	resp := f.do(t, http.MethodOptions, "/api/ai/generate-text", "", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestGenerateTextEndpoint(t *testing.T) {
	f := newFixture(t, testSecret)

	resp := f.postJSON(t, "/api/ai/generate-text", `{"prompt": "hi", "model": "gemma:2b"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var reply struct {
		Status    string `json:"status"`
		SessionID string `json:"session_id"`
	}
	decodeBody(t, resp, &reply)
	if reply.Status != "SUCCESS" || reply.SessionID == "" {
		t.Errorf("reply = %+v", reply)
	}

	resp = f.postJSON(t, "/api/ai/generate-text", `{"model": "gemma:2b"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing prompt status = %d, want 400", resp.StatusCode)
	}
	var errResp ErrorResponse
	decodeBody(t, resp, &errResp)
	if len(errResp.Details) != 1 || !strings.Contains(errResp.Details[0], "Prompt") {
		t.Errorf("details = %v", errResp.Details)
	}
}

func TestTicketEndpoints(t *testing.T) {
	f := newFixture(t, testSecret)

	resp := f.postJSON(t, "/api/ai/generate-product-description", `{"product_name_input": "red toy car"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var ticket domain.TaskTicket
	decodeBody(t, resp, &ticket)
	if ticket.TaskID == "" || ticket.Status != domain.TaskStatePending {
		t.Errorf("ticket = %+v", ticket)
	}

	resp = f.do(t, http.MethodGet, "/api/ai/status/"+ticket.TaskID, "", nil, testSecret)
	var status map[string]any
	decodeBody(t, resp, &status)
	if status["status"] != "PENDING" || status["result"] != nil || status["error"] != nil {
		t.Errorf("status = %v", status)
	}

	resp = f.postJSON(t, "/api/ai/animation-script", `{"script": "a knight walks"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("animation-script status = %d, want 202", resp.StatusCode)
	}
	if got := len(f.broker.Pending("text_queue")); got != 2 {
		t.Errorf("text_queue holds %d messages, want 2", got)
	}

	f.broker.SetDown(true)
	resp = f.postJSON(t, "/api/ai/generate-product-description", `{"product_name_input": "car"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("broker down status = %d, want 503", resp.StatusCode)
	}
}

func multipartBody(t *testing.T, fields map[string]string, filename, content string) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write([]byte(content))
	}
	_ = w.Close()
	return w.FormDataContentType(), &buf
}

func TestCatalogIntakeEndpoint(t *testing.T) {
	f := newFixture(t, testSecret)

	ct, body := multipartBody(t, map[string]string{"project_id": "p1"}, "mug.png", "img")
	resp := f.do(t, http.MethodPost, "/api/ai/catalog-intake", ct, body, testSecret)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	pending := f.broker.Pending("vision_queue")
	if len(pending) != 1 || pending[0].TaskName != domain.TaskProcessProductImage {
		t.Fatalf("vision_queue = %+v", pending)
	}
	if ok, _ := afero.Exists(f.fs, pending[0].Args[0].(string)); !ok {
		t.Error("staged upload does not exist")
	}

	ct, body = multipartBody(t, nil, "", "")
	resp = f.do(t, http.MethodPost, "/api/ai/catalog-intake", ct, body, testSecret)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing file status = %d, want 400", resp.StatusCode)
	}
}

func TestAnalyzeSpriteEndpoint(t *testing.T) {
	f := newFixture(t, testSecret)

	ct, body := multipartBody(t, nil, "knight.png", "img")
	resp := f.do(t, http.MethodPost, "/api/ai/analyze-sprite", ct, body, testSecret)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var env struct {
		Status string                 `json:"status"`
		Result *domain.SpriteMetadata `json:"result"`
	}
	decodeBody(t, resp, &env)
	if env.Status != "SUCCESS" || env.Result == nil || env.Result.Name != "knight" {
		t.Errorf("envelope = %+v", env)
	}

	resp = f.do(t, http.MethodGet, "/api/ai/sprites-catalog", "", nil, testSecret)
	var sprites []domain.SpriteMetadata
	decodeBody(t, resp, &sprites)
	if len(sprites) != 1 {
		t.Errorf("catalog = %+v", sprites)
	}
}

func TestDeleteSpriteEndpoint(t *testing.T) {
	f := newFixture(t, testSecret)
	_ = afero.WriteFile(f.fs, "/data/sprites/tree.png", []byte("img"), 0o644)
	_ = f.catalog.Add(context.Background(), &domain.SpriteMetadata{Name: "tree", Description: "a tree"}, "/sprites/tree.png")

	resp := f.do(t, http.MethodDelete, "/api/ai/sprites/sprites/tree.png", "", nil, testSecret)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if ok, _ := afero.Exists(f.fs, "/data/sprites/tree.png"); ok {
		t.Error("sprite file was not archived")
	}

	resp = f.do(t, http.MethodDelete, "/api/ai/sprites/sprites/missing.png", "", nil, testSecret)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing sprite status = %d, want 404", resp.StatusCode)
	}
}

func TestGenerateImageWithoutGenerator(t *testing.T) {
	f := newFixture(t, testSecret)
	resp := f.postJSON(t, "/api/ai/generate-image", `{"prompt": "a castle", "aspect_ratio": "16:9"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var env struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	decodeBody(t, resp, &env)
	if env.Status != "FAILURE" || env.Error == "" {
		t.Errorf("envelope = %+v", env)
	}

	resp = f.postJSON(t, "/api/ai/generate-image", `{"prompt": "a castle", "aspect_ratio": "2:1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad aspect ratio status = %d, want 400", resp.StatusCode)
	}
}
