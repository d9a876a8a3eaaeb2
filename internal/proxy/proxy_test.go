package proxy_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/backendresolver"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/proxy"
)

// fakeAttachHandle is an in-memory host.AttachHandle: everything written
// to it is echoed back verbatim to the reader, so a WebSocket round
// trip through the proxy can be asserted without a real tmux session.
type fakeAttachHandle struct {
	r io.ReadCloser
	w io.WriteCloser
}

func newFakeAttachHandle() *fakeAttachHandle {
	pr, pw := io.Pipe()
	return &fakeAttachHandle{r: pr, w: pw}
}

func (f *fakeAttachHandle) Resize(int, int) error       { return nil }
func (f *fakeAttachHandle) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fakeAttachHandle) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f *fakeAttachHandle) Close() error                { _ = f.w.Close(); return f.r.Close() }

type fakeAttacher struct {
	instance ids.ProviderInstanceName
	handle   host.AttachHandle
}

func (a *fakeAttacher) Locate(context.Context, string) (ids.ProviderInstanceName, error) {
	return a.instance, nil
}
func (a *fakeAttacher) Attach(context.Context, ids.ProviderInstanceName, string) (host.AttachHandle, error) {
	return a.handle, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *auth.Store, *backendresolver.Resolver) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	authStore := auth.New(t.TempDir(), nil)
	resolver := backendresolver.New(t.TempDir(), nil)
	handler := proxy.New(resolver, authStore, nil, nil)
	r := gin.New()
	handler.Register(r)
	return r, authStore, resolver
}

func TestLoginWithValidCodeSetsCookieAndRedirects(t *testing.T) {
	r, authStore, _ := newTestRouter(t)
	agentID := ids.NewAgentId()
	require.NoError(t, authStore.AddOneTimeCode(context.Background(), agentID, "code1"))

	req := httptest.NewRequest(http.MethodGet, "/login/"+string(agentID)+"/code1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "auth_"+string(agentID), cookies[0].Name)
}

func TestLoginRejectsReusedCode(t *testing.T) {
	r, authStore, _ := newTestRouter(t)
	agentID := ids.NewAgentId()
	require.NoError(t, authStore.AddOneTimeCode(context.Background(), agentID, "code1"))

	first := httptest.NewRequest(http.MethodGet, "/login/"+string(agentID)+"/code1", nil)
	r.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodGet, "/login/"+string(agentID)+"/code1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, second)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentProxyRejectsMissingSessionCookie(t *testing.T) {
	r, _, _ := newTestRouter(t)
	agentID := ids.NewAgentId()

	req := httptest.NewRequest(http.MethodGet, "/agents/"+string(agentID)+"/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAgentProxyServesBootstrapBeforeServiceWorkerInstalled(t *testing.T) {
	r, authStore, _ := newTestRouter(t)
	agentID := ids.NewAgentId()
	ctx := context.Background()
	require.NoError(t, authStore.AddOneTimeCode(ctx, agentID, "code1"))

	loginReq := httptest.NewRequest(http.MethodGet, "/login/"+string(agentID)+"/code1", nil)
	loginRec := httptest.NewRecorder()
	r.ServeHTTP(loginRec, loginReq)
	sessionCookie := loginRec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/agents/"+string(agentID)+"/", nil)
	req.AddCookie(sessionCookie)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "serviceWorker.register")
}

func TestAgentProxyForwardsToUpstreamOnceServiceWorkerInstalled(t *testing.T) {
	r, authStore, resolver := newTestRouter(t)
	agentID := ids.NewAgentId()
	ctx := context.Background()
	require.NoError(t, authStore.AddOneTimeCode(ctx, agentID, "code1"))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head></head><body><a href="/x">x</a></body></html>`))
	}))
	t.Cleanup(upstream.Close)
	require.NoError(t, resolver.RegisterBackend(ctx, agentID, upstream.URL))

	loginReq := httptest.NewRequest(http.MethodGet, "/login/"+string(agentID)+"/code1", nil)
	loginRec := httptest.NewRecorder()
	r.ServeHTTP(loginRec, loginReq)
	sessionCookie := loginRec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/agents/"+string(agentID)+"/", nil)
	req.AddCookie(sessionCookie)
	req.AddCookie(&http.Cookie{Name: "sw_installed_" + string(agentID), Value: "1"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/agents/`+string(agentID)+`/x"`)
	assert.Contains(t, rec.Body.String(), "OrigWebSocket")
}

func TestAttachWebSocketRelaysBytesToSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	authStore := auth.New(t.TempDir(), nil)
	resolver := backendresolver.New(t.TempDir(), nil)
	attachHandle := newFakeAttachHandle()
	attacher := &fakeAttacher{instance: "default", handle: attachHandle}
	handler := proxy.New(resolver, authStore, nil, attacher)
	r := gin.New()
	handler.Register(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	ctx := context.Background()
	agentID := ids.NewAgentId()
	require.NoError(t, authStore.AddOneTimeCode(ctx, agentID, "code1"))

	loginResp, err := http.Get(server.URL + "/login/" + string(agentID) + "/code1")
	require.NoError(t, err)
	defer loginResp.Body.Close()
	var sessionCookie *http.Cookie
	for _, c := range loginResp.Cookies() {
		if c.Name == "auth_"+string(agentID) {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/agents/" + string(agentID) + "/attach"
	header := http.Header{"Cookie": []string{sessionCookie.Name + "=" + sessionCookie.Value}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("hello agent")))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.True(t, bytes.Equal([]byte("hello agent"), data))
}

func TestAgentProxyRejectsCookieSignedForAnotherAgent(t *testing.T) {
	r, authStore, _ := newTestRouter(t)
	agentA := ids.NewAgentId()
	agentB := ids.NewAgentId()
	ctx := context.Background()
	require.NoError(t, authStore.AddOneTimeCode(ctx, agentA, "code1"))

	loginReq := httptest.NewRequest(http.MethodGet, "/login/"+string(agentA)+"/code1", nil)
	loginRec := httptest.NewRecorder()
	r.ServeHTTP(loginRec, loginReq)
	sessionCookie := loginRec.Result().Cookies()[0]
	// Present agentA's cookie against agentB's prefix.
	sessionCookie.Name = "auth_" + string(agentB)

	req := httptest.NewRequest(http.MethodGet, "/agents/"+string(agentB)+"/", nil)
	req.AddCookie(sessionCookie)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
