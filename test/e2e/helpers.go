//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stadtwerk-labs/wissen/internal/api/handlers"
	"github.com/stadtwerk-labs/wissen/internal/openai"
	"github.com/stadtwerk-labs/wissen/internal/qdrant"
	"github.com/stadtwerk-labs/wissen/internal/repository"
	"github.com/stadtwerk-labs/wissen/internal/server"
	"github.com/stadtwerk-labs/wissen/internal/service"
	"github.com/stadtwerk-labs/wissen/internal/testutil"
)

const embeddingDims = 16

// TestEnv holds the containers, the wired service graph and a running HTTP
// server for end-to-end tests. The model client is faked; everything else is
// real.
type TestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	QdrantC      *testutil.QdrantContainer
	Pool         *pgxpool.Pool
	Qdrant       *qdrant.Client
	Ingestions   *service.IngestionService
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupEnv starts Postgres and Qdrant containers, wires the full service
// graph with a fake model client and serves the API on a free port.
func SetupEnv(t *testing.T) *TestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	qdC := testutil.NewQdrantContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	qd := qdrant.NewClient(qdrant.Config{
		URL:        qdC.Endpoint(),
		Dimensions: embeddingDims,
		Timeout:    10 * time.Second,
	})
	if err := qd.EnsureCollection(ctx, qdrant.StandardCollection); err != nil {
		t.Fatalf("ensure standard collection: %v", err)
	}

	ai := &fakeModelClient{}

	kbRepo := repository.NewKBItemRepository(pool)
	ingestionRepo := repository.NewIngestionRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	clientRepo := repository.NewClientRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	knowledgeSvc := service.NewKnowledgeService(kbRepo, clientRepo, ingestionRepo, txRunner, ai, qd)
	synthesisSvc := service.NewSynthesisService(ai)
	ingestionSvc := service.NewIngestionService(ingestionRepo, clientRepo, synthesisSvc, knowledgeSvc, nil, service.IngestionConfig{
		Model:           "fake-model",
		ReasoningEffort: "medium",
	})
	retrievalSvc := service.NewRetrievalService(ai, qd, kbRepo, 8)
	answerSvc := service.NewAnswerService(ai, "medium")
	chatSvc := service.NewChatService(chatRepo, txRunner, retrievalSvc, answerSvc)
	clientSvc := service.NewClientService(clientRepo)
	reconcileSvc := service.NewReconcileService(kbRepo, clientRepo, qd, knowledgeSvc)

	router := server.NewRouter(server.RouterConfig{
		IngestionHandler: handlers.NewIngestionHandler(ingestionSvc),
		KnowledgeHandler: handlers.NewKnowledgeHandler(knowledgeSvc),
		ChatHandler:      handlers.NewChatHandler(chatSvc),
		ClientHandler:    handlers.NewClientHandler(clientSvc),
		AdminHandler:     handlers.NewAdminHandler(reconcileSvc, chatSvc),
	})

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return &TestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		QdrantC:    qdC,
		Pool:       pool,
		Qdrant:     qd,
		Ingestions: ingestionSvc,
		ServerURL:  serverURL,
		ServerCloser: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		},
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources.
func (e *TestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.QdrantC != nil {
		e.QdrantC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// ProcessBatch runs one synthesis batch inline, replacing the poll worker.
func (e *TestEnv) ProcessBatch() *service.ProcessReport {
	report, err := e.Ingestions.ProcessPending(e.Ctx, 10)
	if err != nil {
		e.T.Fatalf("process pending: %v", err)
	}
	return report
}

// APIResponse is the standard response envelope.
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

func (e *TestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

func (e *TestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

func (e *TestEnv) Put(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("PUT", path, body)
}

func (e *TestEnv) Patch(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("PATCH", path, body)
}

func (e *TestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil)
}

func (e *TestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return &APIResponse{}, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}
	return &apiResp, nil
}

// GetRaw fetches a path without envelope parsing, for exports and SSE.
func (e *TestEnv) GetRaw(path string) ([]byte, string, error) {
	resp, err := e.HTTPClient.Get(e.ServerURL + path)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// PostSSE posts a JSON body and returns the raw SSE stream.
func (e *TestEnv) PostSSE(path string, body interface{}) (string, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	resp, err := e.HTTPClient.Post(e.ServerURL+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// fakeModelClient stands in for the OpenAI client. Embeddings are
// deterministic hashes of the text, synthesis returns a fixed item set and
// answers echo the question, so assertions stay stable without network calls.
type fakeModelClient struct{}

func (f *fakeModelClient) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, embeddingDims)
	for i := range vec {
		vec[i] = float32(sum[i])/255.0 - 0.5
	}
	return vec, nil
}

const synthesisFixture = `{
	"kb_items": [
		{
			"type": "INCIDENT_PATTERN",
			"title": "MSCONS inbound queue stuck after release upgrade",
			"content_markdown": "Inbound MSCONS messages accumulate in the error queue after the upgrade.",
			"tags": ["MSCONS", "MaKo"],
			"sap_objects": ["EDATEXMON01"],
			"signals": {"module": "IS-U"}
		},
		{
			"type": "RESOLUTION",
			"title": "Reprocess stuck MSCONS messages",
			"content_markdown": "Run EDATEXMON01, select the failed entries and reprocess.",
			"tags": ["MSCONS"],
			"sap_objects": ["EDATEXMON01"],
			"signals": {"module": "IS-U"}
		}
	]
}`

func (f *fakeModelClient) Complete(_ context.Context, req openai.CompletionRequest) (string, error) {
	if req.JSON {
		return synthesisFixture, nil
	}
	return "Grounded answer: run EDATEXMON01 and reprocess the failed entries.", nil
}

func (f *fakeModelClient) StreamComplete(ctx context.Context, req openai.CompletionRequest, onDelta func(string)) (string, error) {
	text, err := f.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if onDelta != nil {
		half := len(text) / 2
		onDelta(text[:half])
		onDelta(text[half:])
	}
	return text, nil
}
