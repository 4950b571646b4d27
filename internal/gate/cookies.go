package gate

import (
	"net/http"
	"time"
)

// ClearAuthCookies expires both authentication cookies on w
func ClearAuthCookies(w http.ResponseWriter, names CookieNames, secure bool) {
	for _, name := range []string{names.Token, names.Refresh} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
