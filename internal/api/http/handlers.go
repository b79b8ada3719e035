package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/autotrace/internal/demo"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/agent"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	store  *demo.Store
	todos  *demo.TodoClient
	agent  *agent.Agent
	logger *zap.Logger
}

// NewHandlers creates a new handler set. store and todos may be nil, in
// which case their routes answer 503.
func NewHandlers(store *demo.Store, todos *demo.TodoClient, a *agent.Agent, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{store: store, todos: todos, agent: a, logger: logger.Named("http")}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": h.agent.Status().Service,
		"version": "1.0.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	db := gin.H{"connected": false}
	if h.store != nil {
		if err := h.store.Ping(c.Request.Context()); err != nil {
			db["error"] = err.Error()
		} else {
			db["connected"] = true
		}
	}

	st := h.agent.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": db,
		"tracing": gin.H{
			"degraded": st.Degraded,
			"sinks":    st.Sinks,
		},
	})
}

func (h *Handlers) unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}

// fail maps err to a status, attaching it to the context so the tracing
// middleware records it.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, demo.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, demo.ErrUsernameTaken):
		status = http.StatusConflict
	case errors.Is(err, demo.ErrInvalidUser):
		status = http.StatusBadRequest
	case errors.Is(err, demo.ErrUpstream):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
