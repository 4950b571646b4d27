package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ghalitsar-coder/eschool-app-sub001/internal/access"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/gate"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/middleware"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/token"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/logger"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/response"
)

// SessionView is what the dashboard needs to build its role navigation
type SessionView struct {
	Subject         string     `json:"subject,omitempty"`
	Role            string     `json:"role"`
	Claim           string     `json:"claim,omitempty"`
	HasRole         bool       `json:"has_role"`
	Label           string     `json:"label"`
	LandingPath     string     `json:"landing_path"`
	AllowedPrefixes []string   `json:"allowed_prefixes"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// SessionHandler exposes the session as the gate sees it
type SessionHandler struct {
	decoder token.Decoder
	cookies gate.CookieNames
	secure  bool
	log     *logger.Logger
}

// NewSessionHandler creates a SessionHandler reading cookies exactly like g
func NewSessionHandler(g *gate.Gate, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		decoder: g.Decoder(),
		cookies: g.Cookies(),
		secure:  g.SecureCookies(),
		log:     log,
	}
}

// Session returns the caller's role, landing path and allowed prefixes
// GET /gateway/v1/session
func (h *SessionHandler) Session(c *gin.Context) {
	req := gate.RequestFromHTTP(c.Request, h.cookies)
	if !req.HasToken {
		response.Unauthorized(c, "No session")
		return
	}

	claims, err := h.decoder.Decode(req.Token)
	if err != nil {
		if errors.Is(err, token.ErrSigningSecretMissing) {
			h.log.Error("Session lookup failed",
				zap.String("request_id", middleware.GetRequestID(c)),
				zap.Error(err),
			)
			response.InternalError(c, err)
			return
		}
		response.Unauthorized(c, "Invalid session")
		return
	}

	claim, hasRole := claims.EffectiveRole()
	role := access.ParseRole(claim)

	view := SessionView{
		Subject:         claims.Subject,
		Role:            role.String(),
		Claim:           claim,
		HasRole:         hasRole,
		Label:           role.Label(),
		LandingPath:     role.LandingPath(),
		AllowedPrefixes: role.AllowedPrefixes(),
	}
	if !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt.UTC()
		view.ExpiresAt = &exp
	}

	response.Success(c, view)
}

// Logout clears both auth cookies and sends the browser to the login page
// POST /gateway/v1/logout
func (h *SessionHandler) Logout(c *gin.Context) {
	gate.ClearAuthCookies(c.Writer, h.cookies, h.secure)
	c.Redirect(http.StatusSeeOther, access.LoginPath)
}
