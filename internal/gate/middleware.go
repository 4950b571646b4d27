package gate

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ghalitsar-coder/eschool-app-sub001/internal/middleware"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/token"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/logger"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/response"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/telemetry"
)

// Middleware applies gate decisions: redirects abort the chain, passes continue with the session attached
func (g *Gate) Middleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Matcher, decision and upstream all see the same cleaned path
		p := middleware.NormalizeRequestPath(c.Request)
		if g.opts.Applies != nil && !g.opts.Applies(p) {
			c.Next()
			return
		}

		ctx, span := telemetry.StartSpan(c.Request.Context(), "gate.decide")
		req := RequestFromHTTP(c.Request, g.opts.Cookies)
		d, err := g.Decide(req)

		fields := []zap.Field{
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", req.Path),
		}

		if err != nil {
			telemetry.SetSpanError(ctx, err)
			span.End()
			log.WithContext(ctx).Error("Access gate failed", append(fields, zap.Error(err))...)
			response.InternalError(c, err)
			c.Abort()
			return
		}

		span.SetAttributes(
			attribute.String("gate.action", d.Action.String()),
			attribute.String("gate.reason", string(d.Reason)),
			attribute.Bool("gate.clear_cookies", d.ClearCookies),
		)
		span.End()
		c.Set(middleware.GateReasonKey, string(d.Reason))

		fields = append(fields,
			zap.String("action", d.Action.String()),
			zap.String("reason", string(d.Reason)),
		)

		if d.ClearCookies {
			ClearAuthCookies(c.Writer, g.opts.Cookies, g.opts.SecureCookies)
		}

		if d.Action == ActionRedirect {
			log.Debug("Access gate redirect", append(fields, zap.String("location", d.Location))...)
			c.Redirect(http.StatusTemporaryRedirect, d.Location)
			c.Abort()
			return
		}

		if d.Reason == ReasonMissingRole {
			log.Warn("Session token has no role claim, letting request through", fields...)
		} else {
			log.Debug("Access gate pass", fields...)
		}

		if d.Session != nil {
			c.Set(SessionKey, d.Session)
			c.Request = c.Request.WithContext(WithSession(c.Request.Context(), d.Session))
		}

		c.Next()
	}
}

// Decoder exposes the token decoder so other endpoints read sessions the same way
func (g *Gate) Decoder() token.Decoder {
	return g.decoder
}

// Cookies returns the configured cookie names
func (g *Gate) Cookies() CookieNames {
	return g.opts.Cookies
}

// SecureCookies reports whether cleared cookies carry the Secure flag
func (g *Gate) SecureCookies() bool {
	return g.opts.SecureCookies
}
