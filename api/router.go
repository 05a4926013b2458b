// Package api exposes the call manager over HTTP: the browser media channel
// (websocket) on a primary and a fallback path, and the endpoints the
// signaling layer uses to report call events.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/opd-ai/callbridge/av"
	"github.com/opd-ai/callbridge/av/audio"
	"github.com/opd-ai/callbridge/av/rtp"
	"github.com/sirupsen/logrus"
)

// Config holds router options.
type Config struct {
	Mode         string
	PrimaryPath  string
	FallbackPath string
}

// MediaRequest announces the remote media endpoint of a call.
type MediaRequest struct {
	Address     string `json:"address"`
	Port        int    `json:"port"`
	PayloadType *uint8 `json:"payloadType"`
}

type handler struct {
	ctx      context.Context
	manager  *av.Manager
	upgrader websocket.Upgrader
}

// NewRouter builds the HTTP router. Media channels stay open until the
// browser disconnects, the call ends or ctx is done.
func NewRouter(ctx context.Context, manager *av.Manager, cfg Config) *gin.Engine {
	switch cfg.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handler{
		ctx:     ctx,
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r.GET("/healthz", h.health)

	r.GET(cfg.PrimaryPath, h.mediaStream)
	if cfg.FallbackPath != "" && cfg.FallbackPath != cfg.PrimaryPath {
		r.GET(cfg.FallbackPath, h.mediaStream)
	}

	calls := r.Group("/api/calls")
	calls.GET("", h.listCalls)
	calls.GET("/:callId", h.getCall)
	calls.POST("/:callId/media", h.mediaReady)
	calls.POST("/:callId/answered", h.answered)
	calls.POST("/:callId/end", h.end)

	logrus.WithFields(logrus.Fields{
		"function":      "NewRouter",
		"primary_path":  cfg.PrimaryPath,
		"fallback_path": cfg.FallbackPath,
	}).Info("HTTP router configured")

	return r
}

func (h *handler) health(c *gin.Context) {
	server := h.manager.Server()
	state := server.State()

	body := gin.H{
		"status": "ok",
		"rtp":    state.String(),
		"calls":  h.manager.CallCount(),
		"stats":  server.Stats(),
		"bridge": h.manager.Bridge().Stats(),
	}
	if addr := server.LocalAddr(); addr != nil {
		body["localAddr"] = addr.String()
	}

	status := http.StatusOK
	if state != rtp.ServerListening {
		body["status"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

func (h *handler) mediaStream(c *gin.Context) {
	callID := c.Query("callId")
	if callID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing callId"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logrus.WithFields(logrus.Fields{
			"function": "mediaStream",
			"call_id":  callID,
			"error":    err.Error(),
		}).Warn("Websocket upgrade failed")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "mediaStream",
		"call_id":  callID,
		"path":     c.FullPath(),
		"remote":   c.Request.RemoteAddr,
	}).Info("Media channel connected")

	if err := h.manager.Bridge().Attach(h.ctx, callID, conn); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "mediaStream",
			"call_id":  callID,
			"error":    err.Error(),
		}).Debug("Media channel closed")
	}
}

func (h *handler) listCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": h.manager.Calls()})
}

func (h *handler) getCall(c *gin.Context) {
	info, err := h.manager.CallState(c.Param("callId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handler) mediaReady(c *gin.Context) {
	var req MediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	payloadType := rtp.PayloadTypePCMU
	if req.PayloadType != nil {
		payloadType = rtp.PayloadType(*req.PayloadType)
	}

	callID := c.Param("callId")
	if err := h.manager.MediaReady(callID, req.Address, req.Port, payloadType); err != nil {
		writeError(c, err)
		return
	}

	info, _ := h.manager.CallState(callID)
	c.JSON(http.StatusCreated, info)
}

func (h *handler) answered(c *gin.Context) {
	callID := c.Param("callId")
	if err := h.manager.Answered(callID); err != nil {
		writeError(c, err)
		return
	}
	info, _ := h.manager.CallState(callID)
	c.JSON(http.StatusOK, info)
}

func (h *handler) end(c *gin.Context) {
	h.manager.CallEnded(c.Param("callId"))
	c.Status(http.StatusNoContent)
}

// writeError maps domain errors to HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, av.ErrCallNotFound):
		status = http.StatusNotFound
	case errors.Is(err, av.ErrCallAlreadyActive), errors.Is(err, rtp.ErrSessionExists), errors.Is(err, av.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, rtp.ErrInvalidCallID), errors.Is(err, rtp.ErrInvalidEndpoint), errors.Is(err, audio.ErrUnsupportedPayloadType):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
