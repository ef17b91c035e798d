package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	originalLog := log
	defer func() { log = originalLog }()

	t.Run("Production", func(t *testing.T) {
		Init("production", "")
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("Development", func(t *testing.T) {
		Init("development", "")
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("ExplicitLevel", func(t *testing.T) {
		Init("production", "warn")
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("UnknownLevelKeepsDefault", func(t *testing.T) {
		Init("production", "chatty")
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	})
}

func TestL(t *testing.T) {
	originalLog := log
	defer func() { log = originalLog }()

	// Force nil to test lazy initialization
	log = nil
	os.Setenv("APP_ENV", "test")

	l := L()
	assert.NotNil(t, l)
	assert.NotNil(t, log)
}

func TestReplace(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))

	L().Info("through replacement")
	assert.Equal(t, 1, observed.Len())

	restore()
	L().Info("after restore")
	assert.Equal(t, 1, observed.Len())
}

func TestContextFunctions(t *testing.T) {
	ctx := context.Background()
	reqID := "test-request-id-123"

	t.Run("WithRequestID", func(t *testing.T) {
		newCtx := WithRequestID(ctx, reqID)
		assert.Equal(t, reqID, newCtx.Value(requestIDKey))
	})

	t.Run("RequestIDFrom", func(t *testing.T) {
		assert.Equal(t, reqID, RequestIDFrom(WithRequestID(ctx, reqID)))
		assert.Equal(t, "", RequestIDFrom(ctx))
	})

	t.Run("UserIDFrom", func(t *testing.T) {
		id, ok := UserIDFrom(WithUserID(ctx, 42))
		assert.True(t, ok)
		assert.Equal(t, int64(42), id)

		_, ok = UserIDFrom(ctx)
		assert.False(t, ok)
	})
}

func TestFromCtx(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	defer Replace(zap.New(core))()

	t.Run("WithRequestAndUser", func(t *testing.T) {
		ctx := WithUserID(WithRequestID(context.Background(), "req-abc-123"), 7)

		FromCtx(ctx).Info("wallet debited")

		logs := observed.TakeAll()
		assert.Len(t, logs, 1)
		fields := logs[0].ContextMap()
		assert.Equal(t, "req-abc-123", fields["request_id"])
		assert.Equal(t, int64(7), fields["user_id"])
	})

	t.Run("Bare", func(t *testing.T) {
		FromCtx(context.Background()).Info("no ids")

		logs := observed.TakeAll()
		assert.Len(t, logs, 1)
		fields := logs[0].ContextMap()
		_, hasReq := fields["request_id"]
		_, hasUser := fields["user_id"]
		assert.False(t, hasReq)
		assert.False(t, hasUser)
	})
}

func TestSync(t *testing.T) {
	assert.NotPanics(t, func() {
		Sync()
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, RequestIDFrom(r.Context()))
	})

	handler := RequestIDMiddleware(nextHandler)

	t.Run("Generates ID when missing", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhook/qr", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Preserves existing ID", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhook/qr", nil)
		req.Header.Set("X-Request-ID", "test-id-123")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, "test-id-123", w.Header().Get("X-Request-ID"))
	})
}

func TestLoggingMiddleware(t *testing.T) {
	t.Run("Accepted", func(t *testing.T) {
		core, observed := observer.New(zapcore.DebugLevel)
		defer Replace(zap.New(core))()

		handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte("queued"))
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/webhooks/nets-qr", nil))

		logs := observed.TakeAll()
		assert.Len(t, logs, 1)
		assert.Equal(t, "request served", logs[0].Message)
		assert.Equal(t, zapcore.InfoLevel, logs[0].Level)
		assert.Equal(t, "/webhooks/nets-qr", logs[0].ContextMap()["path"])
		assert.Equal(t, int64(http.StatusAccepted), logs[0].ContextMap()["status"])
		assert.Equal(t, int64(6), logs[0].ContextMap()["bytes"])
	})

	t.Run("ClientErrorIsWarn", func(t *testing.T) {
		core, observed := observer.New(zapcore.DebugLevel)
		defer Replace(zap.New(core))()

		handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/webhooks/nets-qr", nil))

		logs := observed.TakeAll()
		assert.Len(t, logs, 1)
		assert.Equal(t, zapcore.WarnLevel, logs[0].Level)
	})

	t.Run("RecoversPanic", func(t *testing.T) {
		core, observed := observer.New(zapcore.DebugLevel)
		defer Replace(zap.New(core))()

		handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("nil wallet")
		}))
		w := httptest.NewRecorder()

		assert.NotPanics(t, func() {
			handler.ServeHTTP(w, httptest.NewRequest("POST", "/webhooks/nets-qr", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		logs := observed.TakeAll()
		assert.Len(t, logs, 2)
		assert.Equal(t, "panic serving request", logs[0].Message)
		assert.Equal(t, zapcore.ErrorLevel, logs[1].Level)
	})
}
