package proxy

import (
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/backendresolver"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/ids"
)

// upstreamEntry caches a reverse proxy alongside the target URL it was
// built from, so a backend URL change (an agent's HTTP server restarting
// on a new port) is detected instead of silently proxying to a stale
// address (grounded on kandev's gateway/websocket vscode proxy cache).
type upstreamEntry struct {
	proxy  *httputil.ReverseProxy
	target string
}

// Handler is the authenticating reverse proxy gin mounts at the
// top level (spec §4.7, C10).
type Handler struct {
	resolver  *backendresolver.Resolver
	authStore *auth.Store
	attacher  Attacher
	log       *logger.Logger

	mu        sync.Mutex
	upstreams map[ids.AgentId]*upstreamEntry
}

// New constructs a proxy Handler. resolver and authStore are the two
// file-backed stores the proxy consults on every request. attacher may
// be nil, in which case the WebSocket attach route responds 501; the
// HTTP/HTML proxy routes work regardless.
func New(resolver *backendresolver.Resolver, authStore *auth.Store, log *logger.Logger, attacher Attacher) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		resolver:  resolver,
		authStore: authStore,
		attacher:  attacher,
		log:       log.WithFields(zap.String("component", "proxy")),
		upstreams: make(map[ids.AgentId]*upstreamEntry),
	}
}

// Register mounts every proxy route onto r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/", h.handleLanding)
	r.GET("/login/:agent_id/:code", h.handleLogin)
	r.GET("/agents/:agent_id/attach", h.handleAttachWebSocket)
	r.Any("/agents/:agent_id/*path", h.handleAgentProxy)
}

func (h *Handler) handleLanding(c *gin.Context) {
	agentIDs := h.authStore.ListAgentIDsWithValidCodes(c.Request.Context())
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html><html><head><title>corral</title></head><body><h1>corral</h1><ul>")
	for _, id := range agentIDs {
		sb.WriteString(`<li><a href="/agents/` + string(id) + `/">` + string(id) + `</a></li>`)
	}
	sb.WriteString("</ul></body></html>")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(sb.String()))
}

// handleLogin validates a one-time code, issues the signed session
// cookie, and redirects to the agent's page. Reissuing the same code
// yields 400, since validate_and_consume_code only ever succeeds once
// (spec §6 "One-time-code URLs are single-use").
func (h *Handler) handleLogin(c *gin.Context) {
	agentID := ids.AgentId(c.Param("agent_id"))
	code := c.Param("code")
	ctx := c.Request.Context()

	ok, err := h.authStore.ValidateAndConsumeCode(ctx, agentID, code)
	if err != nil {
		h.log.Error("validating one-time code failed", zap.Error(err))
		h.renderError(c, http.StatusInternalServerError)
		return
	}
	if !ok {
		h.renderError(c, http.StatusBadRequest)
		return
	}

	signingKey, err := h.authStore.GetSigningKey()
	if err != nil {
		h.log.Error("loading signing key failed", zap.Error(err))
		h.renderError(c, http.StatusInternalServerError)
		return
	}
	token, err := signSessionToken(signingKey, agentID)
	if err != nil {
		h.log.Error("signing session token failed", zap.Error(err))
		h.renderError(c, http.StatusInternalServerError)
		return
	}

	c.SetCookie(cookieName(agentID), token, int(sessionTTL.Seconds()), agentPrefix(agentID)+"/", "", false, true)
	c.Redirect(http.StatusFound, agentPrefix(agentID)+"/")
}

// handleAgentProxy is the authenticated catch-all under /agents/:agent_id/.
// On a fresh session (no Service Worker cookie yet) it serves the
// bootstrap page instead of proxying through, so the SW installs before
// any application asset loads.
func (h *Handler) handleAgentProxy(c *gin.Context) {
	agentID := ids.AgentId(c.Param("agent_id"))
	ctx := c.Request.Context()

	sessionCookie, err := c.Cookie(cookieName(agentID))
	if err != nil {
		h.renderError(c, http.StatusUnauthorized)
		return
	}
	signingKey, err := h.authStore.GetSigningKey()
	if err != nil {
		h.log.Error("loading signing key failed", zap.Error(err))
		h.renderError(c, http.StatusInternalServerError)
		return
	}
	if err := verifySessionToken(signingKey, sessionCookie, agentID); err != nil {
		h.renderError(c, http.StatusUnauthorized)
		return
	}

	subPath := c.Param("path")
	if subPath == "/__sw.js" {
		c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(GenerateServiceWorkerJS(agentID)))
		return
	}
	if _, err := c.Cookie(swCookieName(agentID)); err != nil && (subPath == "" || subPath == "/") {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(GenerateBootstrapHTML(agentID)))
		return
	}

	target, ok := h.resolver.GetBackendURL(ctx, agentID)
	if !ok {
		h.renderError(c, http.StatusBadGateway)
		return
	}
	upstream, err := h.resolveUpstream(agentID, target)
	if err != nil {
		h.log.Error("resolving upstream failed", zap.String("agent_id", string(agentID)), zap.Error(err))
		h.renderError(c, http.StatusBadGateway)
		return
	}

	c.Request.URL.Path = subPath
	if c.Request.URL.Path == "" {
		c.Request.URL.Path = "/"
	}
	upstream.ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) resolveUpstream(agentID ids.AgentId, target string) (*httputil.ReverseProxy, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if entry, ok := h.upstreams[agentID]; ok && entry.target == target {
		return entry.proxy, nil
	}

	targetURL, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	rp := h.buildReverseProxy(agentID, targetURL)
	h.upstreams[agentID] = &upstreamEntry{proxy: rp, target: target}
	return rp, nil
}

// buildReverseProxy wires the proxy behaviors the spec requires beyond a
// plain single-host reverse proxy: WebSocket upgrade passthrough, cookie
// path rewriting, and HTML body rewriting (spec §4.7 proxy behaviors 1-5).
func (h *Handler) buildReverseProxy(agentID ids.AgentId, target *url.URL) *httputil.ReverseProxy {
	rp := httputil.NewSingleHostReverseProxy(target)

	originalDirector := rp.Director
	rp.Director = func(req *http.Request) {
		originalDirector(req)
		if req.Header.Get("Upgrade") != "" {
			req.Header.Set("Connection", "Upgrade")
		}
	}

	rp.ModifyResponse = func(resp *http.Response) error {
		if resp.StatusCode == http.StatusSwitchingProtocols {
			resp.Header.Set("Connection", "Upgrade")
			return nil
		}

		cookies := resp.Header.Values("Set-Cookie")
		if len(cookies) > 0 {
			resp.Header.Del("Set-Cookie")
			for _, sc := range cookies {
				resp.Header.Add("Set-Cookie", RewriteCookiePath(sc, agentID))
			}
		}

		if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
			body, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				return err
			}
			rewritten := RewriteProxiedHTML(string(body), agentID)
			resp.Body = io.NopCloser(strings.NewReader(rewritten))
			resp.ContentLength = int64(len(rewritten))
			resp.Header.Set("Content-Length", strconv.Itoa(len(rewritten)))
		}
		return nil
	}

	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.log.Error("proxy error", zap.String("agent_id", string(agentID)), zap.Error(err))
		h.invalidateUpstream(agentID)
		http.Error(w, "corral proxy error", http.StatusBadGateway)
	}

	return rp
}

func (h *Handler) invalidateUpstream(agentID ids.AgentId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.upstreams, agentID)
}

// renderError writes a generic error page: the proxy never exposes
// internal error detail to the browser (spec §7 propagation policy).
func (h *Handler) renderError(c *gin.Context, status int) {
	c.Data(status, "text/html; charset=utf-8", []byte(
		"<!DOCTYPE html><html><body><h1>"+http.StatusText(status)+"</h1></body></html>"))
}
