package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/merchantdesk/clientbook/internal/clients"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const subjectContextKey = "clientbook_subject"

var (
	errMissingClientsService = errors.New("clients service dependency required")
	errMissingCredentials    = errors.New("credential checker dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// CredentialChecker validates a submitted login pair.
type CredentialChecker interface {
	Verify(username, password string) error
}

// TokenManager issues and validates session bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to its collaborators.
type Dependencies struct {
	ClientsService *clients.Service
	Credentials    CredentialChecker
	Tokens         TokenManager
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router with CORS, recovery, request logging,
// and Prometheus instrumentation. Every /api route except login requires a
// bearer token.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ClientsService == nil {
		return nil, errMissingClientsService
	}
	if deps.Credentials == nil {
		return nil, errMissingCredentials
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		service:     deps.ClientsService,
		credentials: deps.Credentials,
		tokens:      deps.Tokens,
		logger:      logger,
	}

	router.Use(handler.requestLogger)
	router.Use(instrumentRequests())

	router.GET("/healthz", handler.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/api/login", handler.handleLogin)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/clients", handler.handleListClients)
	protected.GET("/clients/:page", handler.handleListPage)
	protected.GET("/clients/:page/:filterName/:filterValue", handler.handleListPage)
	protected.POST("/clients", handler.handleCreateClient)
	protected.PUT("/clients/:id", handler.handleUpdateClient)
	protected.PUT("/clients/:id/photo", handler.handlePromotePhoto)
	protected.DELETE("/clients/:id", handler.handleDeleteClient)
	protected.POST("/purchases", handler.handleCreatePurchase)
	protected.PUT("/purchases/:id", handler.handleUpdatePurchase)
	protected.DELETE("/purchases/:id", handler.handleDeletePurchase)
	protected.GET("/purchases/:id/history", handler.handlePurchaseHistory)

	return router, nil
}

type httpHandler struct {
	service     *clients.Service
	credentials CredentialChecker
	tokens      TokenManager
	logger      *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type loginRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.credentials.Verify(request.Username, request.Password); err != nil {
		h.logger.Warn("login rejected", zap.String("username", request.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, _, err := h.tokens.IssueToken(c.Request.Context(), request.Username)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

// requestLogger tags every request with a generated id and logs its outcome.
func (h *httpHandler) requestLogger(c *gin.Context) {
	requestID := uuid.NewString()
	c.Writer.Header().Set("X-Request-ID", requestID)
	start := time.Now()

	c.Next()

	h.logger.Info("request completed",
		zap.String("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("duration", time.Since(start)),
	)
}
