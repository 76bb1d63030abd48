// Package httpapi wires every component's gin routes onto the API and
// session listeners, grounded in the teacher's api/cmd/server/main.go route
// table and api/internal/middleware chain ordering.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/sealskin/internal/broker"
)

// writeError maps a broker.Error to its HTTP status, falling back to 500
// for anything else, matching §7's propagation policy.
func writeError(c *gin.Context, err error) {
	var be *broker.Error
	if errors.As(err, &be) {
		c.JSON(be.Status(), gin.H{"error": be.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
