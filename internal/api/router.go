package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"membify/internal/domain"
	"membify/internal/feature/verification"
	"membify/internal/health"
	"membify/internal/logging"
	"membify/internal/telegram"
)

type codeIssuer interface {
	GetOrCreateCode(ctx context.Context, accountID string) (string, error)
	InvalidateAndRegenerate(ctx context.Context, accountID string) (string, error)
}

type verificationService interface {
	Verify(ctx context.Context, accountID string) (verification.Result, error)
	ListCommunities(ctx context.Context, accountID string) ([]domain.Community, error)
	CommunityPhoto(ctx context.Context, accountID, communityID string) (telegram.Photo, error)
	ValidateToken(ctx context.Context, token string) telegram.ValidationResult
	SetCustomBot(ctx context.Context, accountID, token string) (telegram.ValidationResult, error)
	DisableCustomBot(ctx context.Context, accountID string) error
}

// Deps wires the router handlers.
type Deps struct {
	Codes        codeIssuer
	Verification verificationService
	Health       *health.Handler
	Logger       *logrus.Entry
}

type handlers struct {
	codes        codeIssuer
	verification verificationService
	logger       *logrus.Entry
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Codes == nil || deps.Verification == nil {
		return nil, errors.New("code issuer and verification service are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Logger()
	}

	h := &handlers{
		codes:        deps.Codes,
		verification: deps.Verification,
		logger:       logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(logger))

	if deps.Health != nil {
		deps.Health.Register(engine)
	}

	api := engine.Group("/api")
	{
		api.POST("/bot-token/validate", h.validateToken)
	}

	accounts := api.Group("/accounts/:accountID", requireAccountID())
	{
		accounts.POST("/verification-code", h.getOrCreateCode)
		accounts.POST("/verification-code/regenerate", h.regenerateCode)
		accounts.POST("/verify", h.verify)
		accounts.GET("/communities", h.listCommunities)
		accounts.GET("/communities/:communityID/photo", h.communityPhoto)
		accounts.PUT("/custom-bot", h.setCustomBot)
		accounts.DELETE("/custom-bot", h.disableCustomBot)
	}

	return engine, nil
}

const requestIDHeader = "X-Request-ID"

// accessLog tags the request with an id, stores the request logger in the
// request context and writes one logrus line per request.
func accessLog(logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		reqLogger := logger.WithField("request_id", requestID)
		c.Request = c.Request.WithContext(logging.IntoContext(c.Request.Context(), reqLogger))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		entry := reqLogger.WithFields(logging.Fields{
			"event":      "http_request",
			"method":     c.Request.Method,
			"route":      route,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if accountID := c.GetString(accountIDKey); accountID != "" {
			entry = entry.WithField("account_id", accountID)
		}

		switch {
		case c.Writer.Status() >= 500:
			entry.Warn("request failed")
		default:
			entry.Info("request served")
		}
	}
}
