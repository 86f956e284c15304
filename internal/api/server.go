// Package api HTTP API оператора: состояние, позиции, риск и ручное управление.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kirillm/signal-trader/internal/admin"
	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// Server HTTP сервер API
type Server struct {
	logger *utils.Logger
	svc    *admin.Service
	router *gin.Engine
	port   int
}

// Response общий конверт ответа
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// DisableRequest тело POST /accounts/:name/disable
type DisableRequest struct {
	Reason string `json:"reason"`
}

// ResetRequest тело POST /accounts/:name/reset. Нулевой баланс берется с биржи.
type ResetRequest struct {
	Balance float64 `json:"balance"`
}

// PauseRequest тело POST /pause
type PauseRequest struct {
	Reason string `json:"reason"`
}

// NewServer создает сервер. Непустой token включает проверку Authorization: Bearer.
func NewServer(logger *utils.Logger, svc *admin.Service, port int, token string) *Server {
	if logger == nil {
		logger = utils.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	s := &Server{logger: logger, svc: svc, router: router, port: port}

	router.Use(gin.Recovery(), s.requestLogger())
	router.GET("/health", s.handleHealth)

	authed := router.Group("/")
	if token != "" {
		authed.Use(bearerAuth(token))
	}
	authed.GET("/status", s.handleStatus)
	authed.GET("/positions", s.handlePositions)
	authed.GET("/risk", s.handleRisk)
	authed.GET("/risk/events", s.handleRiskEvents)
	authed.GET("/trades", s.handleTrades)
	authed.GET("/accounts/:name/daily", s.handleDaily)
	authed.POST("/accounts/:name/enable", s.handleEnable)
	authed.POST("/accounts/:name/disable", s.handleDisable)
	authed.POST("/accounts/:name/reset", s.handleReset)
	authed.POST("/pause", s.handlePause)
	authed.POST("/resume", s.handleResume)

	return s
}

// Handler http.Handler для тестов и встраивания
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start слушает порт до отмены ctx
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"duration", time.Since(start))
	}
}

func bearerAuth(token string) gin.HandlerFunc {
	want := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Success: false, Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// handleHealth - health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	s.sendSuccess(c, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.sendSuccess(c, s.svc.Status())
}

func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.svc.Positions(c.Query("account"))
	if err != nil {
		s.sendError(c, err)
		return
	}
	s.sendSuccess(c, positions)
}

func (s *Server) handleRisk(c *gin.Context) {
	states, err := s.svc.Risk(c.Query("account"))
	if err != nil {
		s.sendError(c, err)
		return
	}
	s.sendSuccess(c, states)
}

func (s *Server) handleDaily(c *gin.Context) {
	days, err := s.svc.Daily(c.Param("name"))
	if err != nil {
		s.sendError(c, err)
		return
	}
	s.sendSuccess(c, days)
}

func (s *Server) handleRiskEvents(c *gin.Context) {
	events, err := s.svc.RiskEvents(c.Request.Context(), c.Query("account"), queryLimit(c))
	if err != nil {
		s.sendError(c, err)
		return
	}
	s.sendSuccess(c, events)
}

func (s *Server) handleTrades(c *gin.Context) {
	trades, err := s.svc.Trades(c.Request.Context(), c.Query("account"), queryLimit(c))
	if err != nil {
		s.sendError(c, err)
		return
	}
	s.sendSuccess(c, trades)
}

func (s *Server) handleEnable(c *gin.Context) {
	account := c.Param("name")
	if err := s.svc.Enable(c.Request.Context(), account); err != nil {
		s.sendError(c, err)
		return
	}
	s.logger.Info("✅ Account enabled via API", "account", account)
	s.sendSuccess(c, s.svc.Status())
}

func (s *Server) handleDisable(c *gin.Context) {
	var req DisableRequest
	if !s.bindOptional(c, &req) {
		return
	}
	account := c.Param("name")
	if err := s.svc.Disable(c.Request.Context(), account, req.Reason); err != nil {
		s.sendError(c, err)
		return
	}
	s.logger.Warn("🚫 Account disabled via API", "account", account, "reason", req.Reason)
	s.sendSuccess(c, s.svc.Status())
}

func (s *Server) handleReset(c *gin.Context) {
	var req ResetRequest
	if !s.bindOptional(c, &req) {
		return
	}
	if req.Balance < 0 {
		s.sendError(c, fmt.Errorf("%w: balance must not be negative", domain.ErrInvalidInput))
		return
	}
	account := c.Param("name")
	balance, err := s.svc.Reset(c.Request.Context(), account, req.Balance)
	if err != nil {
		s.sendError(c, err)
		return
	}
	s.sendSuccess(c, gin.H{"account": account, "balance": balance})
}

func (s *Server) handlePause(c *gin.Context) {
	var req PauseRequest
	if !s.bindOptional(c, &req) {
		return
	}
	s.svc.Pause(c.Request.Context(), req.Reason)
	s.sendSuccess(c, s.svc.Status())
}

func (s *Server) handleResume(c *gin.Context) {
	s.svc.Resume(c.Request.Context())
	s.sendSuccess(c, s.svc.Status())
}

// bindOptional разбирает JSON тело, если оно есть
func (s *Server) bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "Invalid request body"})
		return false
	}
	return true
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(strings.TrimSpace(c.DefaultQuery("limit", "20")))
	return limit
}

func (s *Server) sendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func (s *Server) sendError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownAccount):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("API request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}
