// Package server exposes the engine over HTTP for the presentation layer:
// one action endpoint, an outbox drain, and a keep-alive probe.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gbimatch/matchmaker/internal/app"
	svcErr "github.com/gbimatch/matchmaker/internal/errors"
	"github.com/gbimatch/matchmaker/internal/session"
)

type Server struct {
	appCtx *app.AppContext
	engine *session.Engine
	log    *slog.Logger
}

func New(appCtx *app.AppContext, engine *session.Engine) *Server {
	return &Server{appCtx: appCtx, engine: engine, log: appCtx.Logger}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	if s.appCtx.Cfg.App.ENV != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthz)
	v1 := r.Group("/v1")
	v1.POST("/actions", s.handleAction)
	v1.GET("/outbox/:user_id", s.drainOutbox)
	return r
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	addr := s.appCtx.Cfg.HTTP.Host + ":" + s.appCtx.Cfg.HTTP.Port
	s.log.Info("starting http server", "addr", addr)
	return s.Router().Run(addr)
}

type actionRequest struct {
	UserID uint64         `json:"user_id" binding:"required"`
	Action session.Action `json:"action"`
}

func (s *Server) handleAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}

	out, err := s.engine.Handle(c.Request.Context(), req.UserID, req.Action)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) drainOutbox(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	payloads, err := s.appCtx.RedisCache.DrainOutbox(c.Request.Context(), userID)
	if err != nil {
		s.writeError(c, svcErr.Transient(err))
		return
	}

	messages := make([]json.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		messages = append(messages, json.RawMessage(p))
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.appCtx.RedisCache.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps the error taxonomy onto HTTP statuses. Validation never
// reaches here from the engine, but the mapping covers it for completeness.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch svcErr.KindOf(err) {
	case svcErr.KindValidation:
		status = http.StatusBadRequest
	case svcErr.KindNotFound:
		status = http.StatusNotFound
	case svcErr.KindConflict:
		status = http.StatusConflict
	case svcErr.KindPermission:
		status = http.StatusForbidden
	case svcErr.KindTransient:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"error": svcErr.Message(err)})
}
