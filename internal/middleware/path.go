package middleware

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

// CleanPath resolves dot segments and duplicate slashes. Every path decision in the
// gateway (rate limit bucket, gate matcher, upstream routing) is made on this form.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

// NormalizeRequestPath rewrites r's path to its clean form and returns it
func NormalizeRequestPath(r *http.Request) string {
	cleaned := CleanPath(r.URL.Path)
	if cleaned != r.URL.Path {
		r.URL.Path = cleaned
		r.URL.RawPath = ""
	}
	return cleaned
}

// NormalizePath cleans the request path before anything downstream looks at it
func NormalizePath() gin.HandlerFunc {
	return func(c *gin.Context) {
		NormalizeRequestPath(c.Request)
		c.Next()
	}
}
