package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/merchforge/lattice/internal/config"
	"github.com/merchforge/lattice/internal/engine"
)

type HealthHandler struct {
	engine *engine.Engine
	cfg    config.RebuildConfig
	logger *logrus.Logger
}

func NewHealthHandler(eng *engine.Engine, cfg config.RebuildConfig, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{engine: eng, cfg: cfg, logger: logger}
}

// Check reports engine health. The engine keeps serving from the last
// good generation through rebuild failures; persistent failure is
// surfaced here as "degraded" so operators see it without queries ever
// erroring.
func (h *HealthHandler) Check(c *gin.Context) {
	gen := h.engine.Current()
	failures := h.engine.ConsecutiveFailures()

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case gen == nil:
		status = "starting"
		httpStatus = http.StatusServiceUnavailable
	case failures >= h.cfg.FailureAlert:
		status = "degraded"
	}

	body := gin.H{
		"status":               status,
		"consecutive_failures": failures,
	}
	if gen != nil {
		body["generation"] = gin.H{
			"sequence":    gen.Seq,
			"built_at":    gen.BuiltAt.UTC(),
			"age_seconds": int(time.Since(gen.BuiltAt).Seconds()),
			"products":    len(gen.Catalog),
		}
	}

	c.JSON(httpStatus, body)
}
