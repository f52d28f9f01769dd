package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fd-attendance/internal/apperr"
)

// writeErr translates the apperr.Kind taxonomy to an HTTP status, per
// spec §7's propagation policy: "the outermost API layer translates the
// taxonomy above to HTTP status codes; the core itself exposes
// structured error values, never strings alone".
func writeErr(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.ValidationError:
		status = http.StatusBadRequest
	case apperr.ModelError:
		status = http.StatusUnprocessableEntity
	case apperr.Transient:
		status = http.StatusBadGateway
	case apperr.NotConfigured:
		status = http.StatusServiceUnavailable
	}

	body := gin.H{"error": ae.Message}
	for k, v := range ae.Info {
		body[k] = v
	}
	c.JSON(status, body)
}
