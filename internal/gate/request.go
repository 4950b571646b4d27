package gate

import (
	"net/http"

	"github.com/ghalitsar-coder/eschool-app-sub001/internal/middleware"
)

// RedirectParam is the query parameter carrying the post-login destination
const RedirectParam = "redirect"

// CookieNames names the two authentication cookies
type CookieNames struct {
	Token   string
	Refresh string
}

// DefaultCookieNames returns the cookie names the auth backend sets
func DefaultCookieNames() CookieNames {
	return CookieNames{Token: "token", Refresh: "refresh_token"}
}

// Request is everything the gate looks at
type Request struct {
	Path            string
	Token           string
	HasToken        bool
	RefreshToken    string
	HasRefreshToken bool
	RedirectHint    string
}

// RequestFromHTTP extracts the gate input from r. Empty cookie values count as absent.
func RequestFromHTTP(r *http.Request, names CookieNames) Request {
	req := Request{
		Path:         cleanPath(r.URL.Path),
		RedirectHint: r.URL.Query().Get(RedirectParam),
	}

	if c, err := r.Cookie(names.Token); err == nil && c.Value != "" {
		req.Token = c.Value
		req.HasToken = true
	}
	if c, err := r.Cookie(names.Refresh); err == nil && c.Value != "" {
		req.RefreshToken = c.Value
		req.HasRefreshToken = true
	}

	return req
}

func cleanPath(p string) string {
	return middleware.CleanPath(p)
}
