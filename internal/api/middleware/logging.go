package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// HeaderCorrelationID carries the request correlation id both ways
	HeaderCorrelationID = "X-Correlation-ID"
	// HeaderProcessingTime reports server-side handling time
	HeaderProcessingTime = "X-Processing-Time-Ms"

	loggerKey        = "groundchat.logger"
	correlationIDKey = "groundchat.correlation_id"
)

// RequestLogger assigns a correlation id, stores a request-scoped logger on
// the context and logs request start and completion.
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(HeaderCorrelationID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		logger := base.With(zap.String("correlation_id", id))
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
		}
		c.Set(correlationIDKey, id)
		c.Set(loggerKey, logger)
		c.Header(HeaderCorrelationID, id)
		c.Writer = &timingWriter{ResponseWriter: c.Writer, start: start}

		logger.Debug("request started",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("request completed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	}
}

// Logger returns the request-scoped logger, or a no-op logger outside
// RequestLogger.
func Logger(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return zap.NewNop()
}

// CorrelationID returns the id assigned by RequestLogger
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}

// timingWriter stamps the processing time header just before the response
// header is sent.
type timingWriter struct {
	gin.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timingWriter) stamp() {
	if w.stamped || w.ResponseWriter.Written() {
		return
	}
	w.stamped = true
	ms := time.Since(w.start).Milliseconds()
	w.Header().Set(HeaderProcessingTime, strconv.FormatInt(ms, 10))
}

func (w *timingWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timingWriter) Write(data []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(data)
}

func (w *timingWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}
