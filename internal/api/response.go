package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// abortWithFailure ends a gin request with a failure envelope.
func abortWithFailure(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{Message: message, Status: statusFailure})
}

// writeFailure writes a failure envelope outside a gin context, from the
// reverse proxy error handler.
func writeFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Message: message, Status: statusFailure})
}
