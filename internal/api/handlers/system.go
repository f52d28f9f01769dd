package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fd-attendance/internal/photostore"
	"github.com/your-org/fd-attendance/internal/queue"
	"github.com/your-org/fd-attendance/internal/roster"
)

type SystemHandler struct {
	db       *roster.PostgresRepository
	photos   *photostore.Store
	producer *queue.Producer
}

func NewSystemHandler(db *roster.PostgresRepository, photos *photostore.Store, producer *queue.Producer) *SystemHandler {
	return &SystemHandler{db: db, photos: photos, producer: producer}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz probes C3 (Postgres), C4 (MinIO), and the write-through queue.
// Per spec §7, an unreachable storage/model backend at startup is fatal
// (NotConfigured); here it is a 503 readiness failure instead since the
// process may already be serving the in-memory state it loaded at startup.
// The Postgres and NATS probes are skipped when those handles are nil.
func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}

	if err := h.photos.Ping(ctx); err != nil {
		checks["minio"] = err.Error()
		healthy = false
	} else {
		checks["minio"] = "ok"
	}

	if h.producer != nil {
		if err := h.producer.Ping(); err != nil {
			checks["nats"] = err.Error()
			healthy = false
		} else {
			checks["nats"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}
