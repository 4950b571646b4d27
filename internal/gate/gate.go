package gate

import (
	"net/url"
	"strings"

	"github.com/ghalitsar-coder/eschool-app-sub001/internal/access"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/token"
)

// Action is what the host pipeline does with a request
type Action int

const (
	ActionPass Action = iota
	ActionRedirect
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "pass"
	case ActionRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Reason labels the branch that produced a decision
type Reason string

const (
	ReasonUnprotected   Reason = "unprotected"
	ReasonNoSession     Reason = "no_session"
	ReasonRefreshOnly   Reason = "refresh_only"
	ReasonInvalidToken  Reason = "invalid_token"
	ReasonMissingRole   Reason = "missing_role"
	ReasonDashboardRoot Reason = "dashboard_root"
	ReasonOutsideRole   Reason = "outside_role"
	ReasonAllowed       Reason = "allowed"
	ReasonLoginSignedIn Reason = "login_signed_in"
	ReasonLoginAnon     Reason = "login_anonymous"
	ReasonLoginInvalid  Reason = "login_invalid_token"
)

// Decision is the outcome for one request
type Decision struct {
	Action       Action
	Location     string
	ClearCookies bool
	Session      *Session
	Reason       Reason
}

// Options configures a Gate
type Options struct {
	Cookies       CookieNames
	SecureCookies bool
	// Applies selects the paths the middleware evaluates; nil means all
	Applies func(path string) bool
}

// Gate decides whether a request may reach the dashboard. It holds only immutable state.
type Gate struct {
	decoder token.Decoder
	opts    Options
}

// New creates a Gate
func New(decoder token.Decoder, opts Options) *Gate {
	if opts.Cookies.Token == "" || opts.Cookies.Refresh == "" {
		opts.Cookies = DefaultCookieNames()
	}
	return &Gate{decoder: decoder, opts: opts}
}

// Decide evaluates req. The only error returned is a decoder fault that is not about the session itself.
func (g *Gate) Decide(req Request) (Decision, error) {
	if req.Path == access.LoginPath {
		return g.decideLogin(req)
	}

	if !access.IsProtected(req.Path) {
		return pass(ReasonUnprotected, nil), nil
	}

	if !req.HasToken && !req.HasRefreshToken {
		return redirect(ReasonNoSession, LoginURL(req.Path), false), nil
	}

	// The API client refreshes on its own schedule
	if !req.HasToken {
		return pass(ReasonRefreshOnly, &Session{RefreshOnly: true}), nil
	}

	claims, err := g.decoder.Decode(req.Token)
	if err != nil {
		if !token.IsSessionError(err) {
			return Decision{}, err
		}
		return redirect(ReasonInvalidToken, access.LoginPath, true), nil
	}

	roleClaim, ok := claims.EffectiveRole()
	if !ok {
		return pass(ReasonMissingRole, &Session{Subject: claims.Subject}), nil
	}

	role := access.ParseRole(roleClaim)
	sess := &Session{Subject: claims.Subject, Role: role, RoleClaim: roleClaim}

	if req.Path == access.DashboardPath {
		return redirect(ReasonDashboardRoot, role.LandingPath(), false), nil
	}
	if !role.Allows(req.Path) {
		return redirect(ReasonOutsideRole, role.LandingPath(), false), nil
	}

	return pass(ReasonAllowed, sess), nil
}

func (g *Gate) decideLogin(req Request) (Decision, error) {
	if !req.HasToken {
		return pass(ReasonLoginAnon, nil), nil
	}

	claims, err := g.decoder.Decode(req.Token)
	if err != nil {
		if !token.IsSessionError(err) {
			return Decision{}, err
		}
		d := pass(ReasonLoginInvalid, nil)
		d.ClearCookies = true
		return d, nil
	}

	if _, ok := claims.EffectiveRole(); !ok {
		return pass(ReasonLoginAnon, nil), nil
	}

	return redirect(ReasonLoginSignedIn, postLoginTarget(req.RedirectHint), false), nil
}

// LoginURL returns the login page URL remembering the originally requested path
func LoginURL(original string) string {
	q := url.Values{RedirectParam: {original}}
	return access.LoginPath + "?" + q.Encode()
}

// postLoginTarget honours the redirect hint only when it stays on this origin
func postLoginTarget(hint string) string {
	if !isLocalPath(hint) {
		return access.DashboardPath
	}
	if u, err := url.Parse(hint); err != nil || cleanPath(u.Path) == access.LoginPath {
		return access.DashboardPath
	}
	return hint
}

func isLocalPath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
		return false
	}
	return !strings.ContainsAny(p, "\r\n")
}

func pass(reason Reason, sess *Session) Decision {
	return Decision{Action: ActionPass, Reason: reason, Session: sess}
}

func redirect(reason Reason, location string, clear bool) Decision {
	return Decision{Action: ActionRedirect, Reason: reason, Location: location, ClearCookies: clear}
}
