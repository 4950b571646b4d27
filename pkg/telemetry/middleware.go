package telemetry

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the instrumentation name used for gateway spans
	TracerName = "eschool-gateway"

	// Response headers exposing the request's trace for support tickets
	TraceIDHeader = "X-Trace-ID"
	SpanIDHeader  = "X-Span-ID"

	// proxiedRoute names spans for requests that fall through to the upstreams
	proxiedRoute = "proxy"
)

// TracingMiddleware opens a server span per request, continuing any incoming trace.
// Requests to skipPaths are not traced.
func TracingMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := StartSpan(parent, spanName(c),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(requestAttributes(c)...),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.IsValid() {
			c.Header(TraceIDHeader, sc.TraceID().String())
			c.Header(SpanIDHeader, sc.SpanID().String())
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPStatusCode(status),
			attribute.Int("http.response_size", c.Writer.Size()),
		)
		if last := c.Errors.Last(); last != nil {
			span.RecordError(last.Err)
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// spanName uses the registered route; everything the gateway forwards shares one name
func spanName(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		route = proxiedRoute
	}
	return c.Request.Method + " " + route
}

func requestAttributes(c *gin.Context) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPMethod(c.Request.Method),
		semconv.NetHostName(c.Request.Host),
		semconv.UserAgentOriginal(c.Request.UserAgent()),
		attribute.String("url.path", c.Request.URL.Path),
		attribute.String("client.address", c.ClientIP()),
	}
	if route := c.FullPath(); route != "" {
		attrs = append(attrs, semconv.HTTPRoute(route))
	}
	return attrs
}

// InjectHeaders writes the trace context of ctx into outgoing HTTP headers
func InjectHeaders(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}
