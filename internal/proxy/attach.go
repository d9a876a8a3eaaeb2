package proxy

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
)

// Attacher opens a live interactive handle to an agent's session, the
// capability `internal/engine.Engine.Attach` provides once an agent id
// has been located across the registered provider instances.
type Attacher interface {
	Locate(ctx context.Context, ref string) (ids.ProviderInstanceName, error)
	Attach(ctx context.Context, instance ids.ProviderInstanceName, ref string) (host.AttachHandle, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The proxy already authenticated the session cookie before
	// upgrading; cross-origin framing is not a concern here since the
	// browser only ever talks to its own agent's prefix.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleAttachWebSocket relays a browser terminal (xterm.js or similar)
// directly to the agent's tmux session over a WebSocket, bypassing the
// agent's own HTTP server entirely. This is distinct from the proxied
// HTTP/WebSocket traffic handleAgentProxy forwards to the agent's own
// backend (spec §4.6 "open"/"attach", spec §4.7 proxy behavior 5).
func (h *Handler) handleAttachWebSocket(c *gin.Context) {
	if h.attacher == nil {
		h.renderError(c, http.StatusNotImplemented)
		return
	}
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

	instance, err := h.attacher.Locate(ctx, string(agentID))
	if err != nil {
		h.renderError(c, http.StatusNotFound)
		return
	}
	attachHandle, err := h.attacher.Attach(ctx, instance, string(agentID))
	if err != nil {
		h.log.Error("opening attach handle failed", zap.String("agent_id", string(agentID)), zap.Error(err))
		h.renderError(c, http.StatusBadGateway)
		return
	}
	defer attachHandle.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	relayAttachSession(conn, attachHandle)
}

// relayAttachSession pumps binary frames in both directions until
// either side closes. The browser also sends a small JSON control frame
// of the form {"resize":{"cols":N,"rows":N}}; anything else is treated
// as raw terminal input.
func relayAttachSession(conn *websocket.Conn, attachHandle host.AttachHandle) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := attachHandle.Read(buf)
			if n > 0 {
				if writeErr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); writeErr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		if cols, rows, ok := parseResizeControlFrame(data); ok {
			_ = attachHandle.Resize(cols, rows)
			continue
		}
		if _, err := attachHandle.Write(data); err != nil {
			break
		}
	}
	<-done
}

type resizeControlFrame struct {
	Resize *struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	} `json:"resize"`
}

// parseResizeControlFrame reports whether data is a resize control frame
// rather than raw terminal input. Terminal input that happens to start
// with '{' but is not valid JSON, or is JSON without a "resize" key, is
// passed through as input unchanged.
func parseResizeControlFrame(data []byte) (cols, rows int, ok bool) {
	if len(data) == 0 || data[0] != '{' {
		return 0, 0, false
	}
	var frame resizeControlFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Resize == nil {
		return 0, 0, false
	}
	return frame.Resize.Cols, frame.Resize.Rows, true
}
