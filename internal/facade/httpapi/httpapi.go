// Package httpapi is the additive gin-based HTTP surface over the
// façade (spec §4.11 [EXPANSION]), mirroring
// kdlbs-kandev/apps/backend's internal/agent/api package: thin JSON
// handlers that call straight through to façade operations and
// serialize their already-JSON-shaped result types. It is not the CLI
// and is not required by any invariant.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	corralerrors "github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/engine"
	"github.com/corralhq/corral/internal/facade"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
)

// Register mounts /api/v1/agents routes on r, backed by f.
func Register(r gin.IRouter, f *facade.Facade) {
	group := r.Group("/api/v1/agents")
	group.GET("", listAgents(f))
	group.POST("", createAgent(f))
	group.POST("/:id/start", startAgent(f))
	group.POST("/:id/stop", stopAgent(f))
	group.DELETE("/:id", destroyAgent(f))
	group.POST("/:id/rename", renameAgent(f))
	group.POST("/:id/message", messageAgent(f))
	group.POST("/:id/exec", execOnAgent(f))
	group.GET("/:id/transcript", transcriptOfAgent(f))
}

func instanceQuery(c *gin.Context) ids.ProviderInstanceName {
	instance := c.Query("instance")
	if instance == "" {
		instance = "default"
	}
	return ids.ProviderInstanceName(instance)
}

func listAgents(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := f.List(c.Request.Context(), instanceQuery(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agents": records})
	}
}

type createAgentRequest struct {
	Instance       string            `json:"instance"`
	Name           string            `json:"name" binding:"required"`
	Type           string            `json:"type"`
	Command        []string          `json:"command"`
	HostRef        string            `json:"host_ref"`
	SourceLocation string            `json:"source_location"`
	Labels         map[string]string `json:"labels"`
	Message        string            `json:"message"`
	AwaitReady     bool              `json:"await_ready"`
}

func createAgent(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAgentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		instance := req.Instance
		if instance == "" {
			instance = "default"
		}
		result, err := f.Create(c.Request.Context(), engine.HostTarget{
			ProviderInstance: ids.ProviderInstanceName(instance),
			ExistingHostRef:  req.HostRef,
		}, engine.CreateOptions{
			Name:           ids.AgentName(req.Name),
			Type:           req.Type,
			Command:        req.Command,
			SourceLocation: req.SourceLocation,
			Labels:         req.Labels,
			Message:        req.Message,
			AwaitReady:     req.AwaitReady,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func startAgent(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := f.Start(c.Request.Context(), instanceQuery(c), c.Param("id"), "", 0)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func stopAgent(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := f.Stop(c.Request.Context(), instanceQuery(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func destroyAgent(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := f.Destroy(c.Request.Context(), instanceQuery(c), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func renameAgent(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		record, err := f.Rename(c.Request.Context(), instanceQuery(c), c.Param("id"), ids.AgentName(req.Name))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func messageAgent(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Text string `json:"text" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := f.Message(c.Request.Context(), instanceQuery(c), c.Param("id"), req.Text); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	}
}

func execOnAgent(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Command []string      `json:"command" binding:"required"`
			Timeout time.Duration `json:"timeout_ms"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := f.Exec(c.Request.Context(), instanceQuery(c), c.Param("id"), req.Command, host.ExecOptions{Timeout: req.Timeout * time.Millisecond})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func transcriptOfAgent(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		text, err := f.Transcript(c.Request.Context(), instanceQuery(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transcript": text})
	}
}

// writeError maps a façade error to an HTTP status without leaking
// internal detail, mirroring the proxy's error-propagation policy
// (spec §7).
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case isNotFound(err):
		status = http.StatusNotFound
	case isUserInput(err):
		status = http.StatusBadRequest
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	c.JSON(status, gin.H{"error": msg})
}

func isNotFound(err error) bool { return corralerrors.Is(err, corralerrors.CodeNotFound) }
func isUserInput(err error) bool {
	return corralerrors.Is(err, corralerrors.CodeUserInput) || corralerrors.Is(err, corralerrors.CodeConfig)
}
