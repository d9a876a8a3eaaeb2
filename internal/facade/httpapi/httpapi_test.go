package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/facade"
	"github.com/corralhq/corral/internal/facade/httpapi"
)

func newTestFacade(t *testing.T) *facade.Facade {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`default_host_dir = "`+filepath.Join(dir, "hostdir")+`"`+"\n"), 0o644))
	f, err := facade.New(configPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestListAgentsReturnsEmptyArrayWhenNoneExist(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newTestFacade(t)
	router := gin.New()
	httpapi.Register(router, f)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "agents")
}

func TestCreateAgentRejectsMissingName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newTestFacade(t)
	router := gin.New()
	httpapi.Register(router, f)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStopAgentReturnsNotFoundForUnknownRef(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newTestFacade(t)
	router := gin.New()
	httpapi.Register(router, f)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/does-not-exist/stop", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
