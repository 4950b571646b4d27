package gate

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/ghalitsar-coder/eschool-app-sub001/internal/access"
)

// SessionKey is the gin context key holding the *Session of an allowed request
const SessionKey = "gate_session"

// Session is what the gate learned about the caller of an allowed request
type Session struct {
	Subject     string
	Role        access.Role
	RoleClaim   string
	RefreshOnly bool
}

// HasRole reports whether the token carried a role claim
func (s *Session) HasRole() bool {
	return s != nil && s.RoleClaim != ""
}

type sessionCtxKey struct{}

// WithSession returns a copy of ctx carrying s
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// SessionFromContext returns the session attached by the gate middleware
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(*Session)
	return s, ok && s != nil
}

// SessionFromGin returns the session attached to a gin context
func SessionFromGin(c *gin.Context) (*Session, bool) {
	if v, exists := c.Get(SessionKey); exists {
		if s, ok := v.(*Session); ok && s != nil {
			return s, true
		}
	}
	return SessionFromContext(c.Request.Context())
}
