package http

import (
	"context"
	"net/http"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/monitoring"
	"peercall/pkg/errors"
	"peercall/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CallHandler struct {
	calls  ports.CallService
	health *monitoring.HealthChecker
	logger *logger.ContextLogger
}

func NewCallHandler(calls ports.CallService, health *monitoring.HealthChecker, ctxLogger *logger.ContextLogger) *CallHandler {
	return &CallHandler{
		calls:  calls,
		health: health,
		logger: ctxLogger,
	}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine, commandMiddleware ...gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		api.GET("/call/state", h.GetState)

		commands := api.Group("/call", commandMiddleware...)
		{
			commands.POST("/start", h.StartCall)
			commands.POST("/:id/answer", h.AnswerCall)
			commands.POST("/:id/decline", h.DeclineCall)
			commands.POST("/end", h.EndCall)
			commands.POST("/mute", h.ToggleMute)
			commands.POST("/video", h.ToggleVideo)
		}
	}

	router.GET("/health", h.Health)
}

func (h *CallHandler) StartCall(c *gin.Context) {
	var req struct {
		ReceiverID    string `json:"receiver_id" binding:"required"`
		ReceiverName  string `json:"receiver_name"`
		ReceiverImage string `json:"receiver_image"`
		CallType      string `json:"call_type" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.calls.StartCall(c.Request.Context(),
		domain.UserID(req.ReceiverID), req.ReceiverName, req.ReceiverImage,
		domain.CallType(req.CallType))
	if err != nil {
		h.renderError(c, c.Request.Context(), err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"state": h.calls.State()})
}

func (h *CallHandler) AnswerCall(c *gin.Context) {
	callID := domain.CallID(c.Param("id"))
	ctx := logger.WithCallID(c.Request.Context(), string(callID))

	if err := h.calls.AnswerCall(ctx, callID); err != nil {
		h.renderError(c, ctx, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": h.calls.State()})
}

func (h *CallHandler) DeclineCall(c *gin.Context) {
	callID := domain.CallID(c.Param("id"))
	ctx := logger.WithCallID(c.Request.Context(), string(callID))

	if err := h.calls.DeclineCall(ctx, callID); err != nil {
		h.renderError(c, ctx, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"declined": string(callID)})
}

func (h *CallHandler) EndCall(c *gin.Context) {
	if err := h.calls.EndCall(c.Request.Context()); err != nil {
		h.renderError(c, c.Request.Context(), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": h.calls.State()})
}

func (h *CallHandler) ToggleMute(c *gin.Context) {
	if err := h.calls.ToggleMute(); err != nil {
		h.renderError(c, c.Request.Context(), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": h.calls.State()})
}

func (h *CallHandler) ToggleVideo(c *gin.Context) {
	if err := h.calls.ToggleVideo(); err != nil {
		h.renderError(c, c.Request.Context(), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": h.calls.State()})
}

func (h *CallHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.calls.State()})
}

func (h *CallHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *CallHandler) renderError(c *gin.Context, ctx context.Context, err error) {
	if appErr := errors.GetAppError(err); appErr != nil {
		h.logger.LogWarn(ctx, "call command rejected",
			zap.String("code", string(appErr.Code)), zap.String("path", c.FullPath()))
		c.JSON(appErr.HTTPStatus, gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		})
		return
	}
	h.logger.LogError(ctx, err, "call command failed", zap.String("path", c.FullPath()))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   string(errors.ErrCodeInternal),
		"message": err.Error(),
	})
}
