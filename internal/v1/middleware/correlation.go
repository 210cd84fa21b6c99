// Package middleware holds the gin middleware shared by the HTTP surface.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
)

// HeaderXCorrelationID carries the request correlation id. Clients may supply
// their own; otherwise one is minted here.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID ensures every request, including websocket upgrades, carries
// a correlation id that the logging package can pick out of the context.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXCorrelationID)
		if id == "" {
			id = uuid.New().String()
		}

		// Echoed back so callers can quote it in bug reports.
		c.Header(HeaderXCorrelationID, id)
		c.Set(string(logging.CorrelationIDKey), id)

		c.Next()
	}
}
