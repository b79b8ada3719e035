package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ListTodos proxies the external todo API
func (h *Handlers) ListTodos(c *gin.Context) {
	if h.todos == nil {
		h.unavailable(c, "todo api")
		return
	}
	userID, err := intQuery(c, "user_id", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be an integer"})
		return
	}
	todos, err := h.todos.ListTodos(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, todos)
}

// GetRemoteUser fetches a profile from the external API
func (h *Handlers) GetRemoteUser(c *gin.Context) {
	if h.todos == nil {
		h.unavailable(c, "todo api")
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	u, err := h.todos.GetUser(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
