package client

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_Get_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/knowledge/kb-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"kb-1","title":"Test"}}`))
	}))
	defer server.Close()

	api := NewAPIClientWithConfig(server.URL)

	resp, err := api.Get("/knowledge/kb-1")
	require.NoError(t, err)
	assert.Contains(t, string(resp.Data), "kb-1")
}

func TestAPIClient_Get_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"knowledge item not found"}`))
	}))
	defer server.Close()

	api := NewAPIClientWithConfig(server.URL)

	_, err := api.Get("/knowledge/missing")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "knowledge item not found", apiErr.Message)
}

func TestAPIClient_GetRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte("# Session export\n"))
	}))
	defer server.Close()

	api := NewAPIClientWithConfig(server.URL)

	body, contentType, err := api.GetRaw("/chat/sessions/s-1/export")
	require.NoError(t, err)
	assert.Contains(t, contentType, "text/markdown")
	assert.Equal(t, "# Session export\n", string(body))
}

func TestGlobalConfig_SaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	origDir := getConfigDirFunc
	origPath := getConfigPathFunc
	getConfigDirFunc = func() (string, error) { return tempDir, nil }
	getConfigPathFunc = func() (string, error) { return filepath.Join(tempDir, "config.json"), nil }
	defer func() {
		getConfigDirFunc = origDir
		getConfigPathFunc = origPath
	}()

	require.NoError(t, SaveGlobalConfig(&GlobalConfig{
		APIURL:        "http://wissen.internal:8080",
		DefaultClient: "SWM",
	}))

	loaded, err := LoadGlobalConfig()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "http://wissen.internal:8080", loaded.APIURL)
	assert.Equal(t, "SWM", loaded.DefaultClient)

	info, err := os.Stat(filepath.Join(tempDir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadGlobalConfig_Missing(t *testing.T) {
	tempDir := t.TempDir()
	origPath := getConfigPathFunc
	getConfigPathFunc = func() (string, error) { return filepath.Join(tempDir, "config.json"), nil }
	defer func() { getConfigPathFunc = origPath }()

	loaded, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
