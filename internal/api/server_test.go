package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"localrag/internal/api/retrieval"
	"localrag/internal/chunker"
	"localrag/internal/domain"
	"localrag/internal/embedding/hashing"
	"localrag/internal/service"
	"localrag/internal/snapshot"
)

type fakeEngine struct {
	mu         sync.Mutex
	queries    []string
	buildErr   error
	buildCtx   context.Context
	buildDelay time.Duration
	result     domain.QueryResult
	report     domain.BuildReport
	stats      service.Stats
}

func (f *fakeEngine) Query(_ context.Context, text string) domain.QueryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	return f.result
}

func (f *fakeEngine) Build(ctx context.Context) (domain.BuildReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildCtx = ctx
	time.Sleep(f.buildDelay)
	return f.report, f.buildErr
}

func (f *fakeEngine) Stats() service.Stats { return f.stats }

func newServer(t *testing.T, engine retrieval.Engine) *httptest.Server {
	t.Helper()
	return newServerWithTimeout(t, engine, 5*time.Second)
}

func newServerWithTimeout(t *testing.T, engine retrieval.Engine, timeout time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(SetupRouter(retrieval.NewHandler(engine), zap.NewNop(), timeout))
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv := newServer(t, &fakeEngine{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "healthy"}, decode[map[string]string](t, resp))
}

func TestQuery(t *testing.T) {
	engine := &fakeEngine{result: domain.QueryResult{Context: "ctx", Sources: []string{"a.txt"}}}
	srv := newServer(t, engine)

	resp, err := http.Post(srv.URL+"/v1/query", "application/json", strings.NewReader(`{"query":"東京"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[retrieval.QueryResponse](t, resp)
	assert.Equal(t, "ctx", body.Context)
	assert.Equal(t, []string{"a.txt"}, body.Sources)
	assert.Equal(t, []string{"東京"}, engine.queries)

	resp, err = http.Post(srv.URL+"/v1/query", "application/json", strings.NewReader(`{"query":`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRebuild(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		engine := &fakeEngine{report: domain.BuildReport{Generation: "g1", Files: 2, Chunks: 5, Duration: 1500 * time.Millisecond}}
		srv := newServer(t, engine)
		resp, err := http.Post(srv.URL+"/v1/rebuild", "application/json", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[retrieval.BuildResponse](t, resp)
		assert.Equal(t, "g1", body.Generation)
		assert.Equal(t, 5, body.Chunks)
		assert.Equal(t, int64(1500), body.DurationMS)

		engine.mu.Lock()
		defer engine.mu.Unlock()
		require.NotNil(t, engine.buildCtx)
		assert.Nil(t, engine.buildCtx.Done(), "build context must not be tied to the request")
	})
	t.Run("in progress", func(t *testing.T) {
		srv := newServer(t, &fakeEngine{buildErr: service.ErrBuildInProgress})
		resp, err := http.Post(srv.URL+"/v1/rebuild", "application/json", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})
	t.Run("failure", func(t *testing.T) {
		srv := newServer(t, &fakeEngine{buildErr: errors.New("no eligible chunks")})
		resp, err := http.Post(srv.URL+"/v1/rebuild", "application/json", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		body := decode[map[string]string](t, resp)
		assert.Equal(t, "no eligible chunks", body["error"])
	})
}

func TestRebuildIsNotBoundByRequestTimeout(t *testing.T) {
	handler := SetupRouter(retrieval.NewHandler(&fakeEngine{}), zap.NewNop(), time.Second)
	mux, ok := handler.(chi.Routes)
	require.True(t, ok)

	middlewares := map[string]int{}
	require.NoError(t, chi.Walk(mux, func(method, route string, _ http.Handler, mws ...func(http.Handler) http.Handler) error {
		middlewares[method+" "+route] = len(mws)
		return nil
	}))
	require.Contains(t, middlewares, "POST /v1/rebuild")
	require.Contains(t, middlewares, "POST /v1/query")
	assert.Less(t, middlewares["POST /v1/rebuild"], middlewares["POST /v1/query"])

	engine := &fakeEngine{
		buildDelay: 150 * time.Millisecond,
		report:     domain.BuildReport{Generation: "slow", Chunks: 1},
	}
	srv := newServerWithTimeout(t, engine, 20*time.Millisecond)
	resp, err := http.Post(srv.URL+"/v1/rebuild", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "slow", decode[retrieval.BuildResponse](t, resp).Generation)
}

func TestStatus(t *testing.T) {
	srv := newServer(t, &fakeEngine{stats: service.Stats{State: service.StateReady, Generation: "g7", Chunks: 3, Dimension: 8}})
	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ready", body["state"])
	assert.Equal(t, "g7", body["generation"])
	assert.EqualValues(t, 3, body["chunks"])
}

func TestEndToEnd(t *testing.T) {
	knowledge := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(knowledge, "tokyo.txt"),
		[]byte(strings.Repeat("東京タワーは東京都港区にある電波塔です。", 3)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(knowledge, "neko.txt"),
		[]byte(strings.Repeat("猫は日向で昼寝をするのが大好きな動物です。", 3)), 0o644))

	cfg := service.DefaultConfig()
	cfg.KnowledgeDir = knowledge
	svc := service.NewRAGService(cfg,
		chunker.NewWindowChunker(chunker.DefaultWindowSize, chunker.DefaultOverlap, chunker.DefaultMinLength),
		hashing.NewEmbedder(128),
		snapshot.NewStore(t.TempDir(), snapshot.CompressionZSTD, nil),
		nil,
	)
	srv := newServer(t, svc)

	resp, err := http.Post(srv.URL+"/v1/query", "application/json", strings.NewReader(`{"query":"東京タワー"}`))
	require.NoError(t, err)
	empty := decode[retrieval.QueryResponse](t, resp)
	assert.Empty(t, empty.Context)
	assert.Empty(t, empty.Sources)

	resp, err = http.Post(srv.URL+"/v1/rebuild", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[retrieval.BuildResponse](t, resp)
	assert.Equal(t, 2, report.Chunks)

	resp, err = http.Post(srv.URL+"/v1/query", "application/json", strings.NewReader(`{"query":"東京タワー"}`))
	require.NoError(t, err)
	res := decode[retrieval.QueryResponse](t, resp)
	require.NotEmpty(t, res.Sources)
	assert.Equal(t, "tokyo.txt", res.Sources[0])
	assert.Contains(t, res.Context, `[source: "tokyo.txt"]`)
}
