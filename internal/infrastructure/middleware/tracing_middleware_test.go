package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"peercall/pkg/errors"
	"peercall/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// The call id from the route must reach context-aware loggers downstream.
func TestTracingMiddleware_ThreadsCallIDIntoContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zap.InfoLevel)
	ctxLog := logger.NewContextLogger(zap.New(core))

	router := gin.New()
	router.Use(TracingMiddleware())
	router.POST("/call/:id/answer", func(c *gin.Context) {
		ctxLog.LogInfo(c.Request.Context(), "answering")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/call/call_42/answer", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	entries := logs.FilterMessage("answering").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "call_42", entries[0].ContextMap()["call_id"])
}

func TestErrorHandlerMiddleware_TagsCallID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zap.InfoLevel)
	sugar := zap.New(core).Sugar()

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(sugar))
	router.POST("/call/:id/decline", func(c *gin.Context) {
		c.Error(errors.NewCallNotFoundError("call_42"))
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/call/call_42/decline", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	entries := logs.FilterMessage("call command failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "call_42", entries[0].ContextMap()["call_id"])
}
