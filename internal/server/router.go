package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/activity"
	"github.com/MarcoPoloResearchLab/streamquest/internal/auth"
	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/metrics"
	"github.com/MarcoPoloResearchLab/streamquest/internal/players"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/ranking"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/streamquest/internal/unlocks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "streamquest_user_id"
	defaultHeartbeatInterval = 25 * time.Second
	tenantHeader             = "X-TAuth-Tenant"
	internalKeyHeader        = "X-Internal-Key"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingPlayersService   = errors.New("players service dependency required")
	errMissingActivityService  = errors.New("activity service dependency required")
	errMissingProgression      = errors.New("progression service dependency required")
	errMissingTracker          = errors.New("unlock tracker dependency required")
	errMissingUnlockEngine     = errors.New("unlock engine dependency required")
	errMissingRankingService   = errors.New("ranking service dependency required")
	errInvalidRequest          = errors.New("invalid request")
)

// SessionValidator authenticates a request from its session cookie or bearer token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the HTTP handler. Metrics and Realtime are optional. The
// internal routes are served only when InternalAPIKey is set.
type Dependencies struct {
	SessionValidator  SessionValidator
	Players           *players.Service
	Activity          *activity.Service
	Progression       *progression.Service
	Tracker           *unlocks.Tracker
	Unlocks           *unlocks.Engine
	Rankings          *ranking.Service
	Metrics           *metrics.Metrics
	Realtime          *RealtimeDispatcher
	AllowedOrigins    []string
	InternalAPIKey    string
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.SessionValidator == nil:
		return nil, errMissingSessionValidator
	case deps.Players == nil:
		return nil, errMissingPlayersService
	case deps.Activity == nil:
		return nil, errMissingActivityService
	case deps.Progression == nil:
		return nil, errMissingProgression
	case deps.Tracker == nil:
		return nil, errMissingTracker
	case deps.Unlocks == nil:
		return nil, errMissingUnlockEngine
	case deps.Rankings == nil:
		return nil, errMissingRankingService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	handler := &httpHandler{
		sessions:          deps.SessionValidator,
		identities:        deps.Players,
		players:           deps.Players,
		activity:          deps.Activity,
		progression:       deps.Progression,
		tracker:           deps.Tracker,
		unlocks:           deps.Unlocks,
		rankings:          deps.Rankings,
		metrics:           deps.Metrics,
		realtime:          realtime,
		internalAPIKey:    deps.InternalAPIKey,
		heartbeatInterval: heartbeat,
		clock:             clock,
		logger:            logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))
	if deps.Metrics != nil {
		router.Use(handler.observeRequest)
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/activity", handler.handleRecordActivity)
	protected.GET("/me/level", handler.handleLevel)
	protected.PUT("/me/location", handler.handleUpdateLocation)
	protected.GET("/me/cards", handler.handleListCards)
	protected.GET("/unlocks", handler.handleListUnlocked)
	protected.GET("/unlocks/in-progress", handler.handleListInProgress)
	protected.GET("/unlocks/:mediaId/progress", handler.handleGetProgress)
	protected.POST("/unlocks/:mediaId/progress", handler.handleRecordRequirement)
	protected.POST("/unlocks/:mediaId/check", handler.handleCheckUnlock)
	protected.GET("/rankings", handler.handleRanking)
	protected.GET("/rankings/me", handler.handleUserRank)
	protected.POST("/connections/:userId", handler.handleRequestConnection)
	protected.POST("/connections/:userId/accept", handler.handleAcceptConnection)
	protected.GET("/events", handler.handleEvents)

	if deps.InternalAPIKey != "" {
		internal := router.Group("/internal")
		internal.Use(handler.authorizeInternal)
		internal.POST("/players/:userId/cards", handler.handleGrantCard)
	}

	return router, nil
}

type identityResolver interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (domain.UserID, error)
}

type httpHandler struct {
	sessions          SessionValidator
	identities        identityResolver
	players           *players.Service
	activity          *activity.Service
	progression       *progression.Service
	tracker           *unlocks.Tracker
	unlocks           *unlocks.Engine
	rankings          *ranking.Service
	metrics           *metrics.Metrics
	realtime          *RealtimeDispatcher
	internalAPIKey    string
	heartbeatInterval time.Duration
	clock             func() time.Time
	logger            *zap.Logger
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", tenantHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func (h *httpHandler) observeRequest(c *gin.Context) {
	c.Next()
	h.metrics.ObserveRequest(c.FullPath(), c.Writer.Status())
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		logTokenFailure(h.logger, err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.identities.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, players.ErrInvalidIdentity) {
			h.logger.Warn("session identity rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.respondError(c, err)
		c.Abort()
		return
	}
	c.Set(userIDContextKey, userID.String())
	c.Next()
}

func (h *httpHandler) authorizeInternal(c *gin.Context) {
	presented := c.GetHeader(internalKeyHeader)
	if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.internalAPIKey)) != 1 {
		h.logger.Warn("internal request rejected", zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func logTokenFailure(logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingSessionToken):
		logger.Debug("session token missing")
	case errors.Is(err, auth.ErrExpiredSessionToken), errors.Is(err, jwt.ErrTokenExpired):
		logger.Info("token validation failed", zap.Error(err))
	default:
		logger.Warn("token validation failed", zap.Error(err))
	}
}

func currentUserID(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(userIDContextKey))
}

// respondError maps validation sentinels to 4xx and everything else to 500
// carrying the service error code.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case isInvalidInput(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, players.ErrConnectionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		code, ok := serviceerr.CodeOf(err)
		if !ok {
			code = "internal"
		}
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": code})
	}
}

func isInvalidInput(err error) bool {
	for _, sentinel := range []error{
		errInvalidRequest,
		domain.ErrInvalidUserID,
		domain.ErrInvalidMediaID,
		activity.ErrInvalidType,
		activity.ErrInvalidDuration,
		activity.ErrMissingMedia,
		activity.ErrInvalidEventID,
		players.ErrInvalidLocation,
		players.ErrInvalidCardID,
		players.ErrSelfConnection,
		ranking.ErrInvalidScope,
		ranking.ErrInvalidPeriod,
		unlocks.ErrUnsupportedStrategy,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
