// Package health serves the liveness endpoint used by container probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"membify/internal/logging"
	"membify/internal/store"
)

const mongoPingTimeout = 2 * time.Second

// MongoChecker defines the subset of MongoDB client behavior required for health.
type MongoChecker interface {
	Ping(ctx context.Context) error
}

// StatsReader reports the verification funnel counts. Optional.
type StatsReader interface {
	Snapshot(ctx context.Context) (store.Stats, error)
}

// Handler answers GET /healthz. It always replies 200 so orchestrators keep
// the process alive while MongoDB recovers; status turns "degraded" instead.
type Handler struct {
	logger       *logrus.Entry
	mongoChecker MongoChecker
	stats        StatsReader
}

type response struct {
	Status string `json:"status"`
	Mongo  string `json:"mongo,omitempty"`
	*store.Stats
}

// NewHandler constructs a health handler. stats may be nil.
func NewHandler(mongoChecker MongoChecker, stats StatsReader, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handler{
		logger:       logger,
		mongoChecker: mongoChecker,
		stats:        stats,
	}
}

// Register mounts the endpoint on router.
func (h *Handler) Register(router gin.IRoutes) {
	router.GET("/healthz", h.handleHealth)
}

func (h *Handler) handleHealth(c *gin.Context) {
	resp := response{Status: "ok"}
	mongoStatus := "ok"

	ctx, cancel := context.WithTimeout(c.Request.Context(), mongoPingTimeout)
	defer cancel()

	if h.mongoChecker == nil {
		mongoStatus = "error"
		h.logger.WithField("event", "health_mongo_missing").Warn("mongo checker is not configured for health endpoint")
	} else if err := h.mongoChecker.Ping(ctx); err != nil {
		mongoStatus = "error"
		h.logger.WithFields(logging.Fields{
			"event": "health_mongo_error",
		}).WithError(err).Warn("mongo ping failed during health check")
	}

	if mongoStatus != "ok" {
		resp.Status = "degraded"
		resp.Mongo = "error"
		c.JSON(http.StatusOK, resp)
		return
	}

	if h.stats != nil {
		if stats, err := h.stats.Snapshot(ctx); err == nil {
			resp.Stats = &stats
		} else {
			h.logger.WithField("event", "health_count_error").WithError(err).Warn("could not read stats")
		}
	}

	c.JSON(http.StatusOK, resp)
}
