package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalitsar-coder/eschool-app-sub001/internal/gate"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/token"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/logger"
)

func mint(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("issuer-secret"))
	require.NoError(t, err)
	return raw
}

func newSessionRouter(decoder token.Decoder) *gin.Engine {
	g := gate.New(decoder, gate.Options{SecureCookies: true})
	h := NewSessionHandler(g, logger.NewNop())

	router := gin.New()
	router.GET("/gateway/v1/session", h.Session)
	router.POST("/gateway/v1/logout", h.Logout)
	return router
}

func sessionRequest(router *gin.Engine, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/gateway/v1/session", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSessionHandler_Session(t *testing.T) {
	router := newSessionRouter(token.NewUnverifiedDecoder())
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := mint(t, jwt.MapClaims{"sub": "user-7", "role": "koordinator", "exp": exp.Unix()})

	w := sessionRequest(router, &http.Cookie{Name: "token", Value: raw})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "user-7", data["subject"])
	assert.Equal(t, "koordinator", data["role"])
	assert.Equal(t, true, data["has_role"])
	assert.Equal(t, "Koordinator", data["label"])
	assert.Equal(t, "/dashboard/attendance", data["landing_path"])
	assert.Equal(t, []interface{}{"/dashboard/attendance", "/dashboard/members", "/dashboard/profile"}, data["allowed_prefixes"])
	assert.Equal(t, exp.UTC().Format(time.RFC3339), data["expires_at"])
}

func TestSessionHandler_Session_RolesArray(t *testing.T) {
	router := newSessionRouter(token.NewUnverifiedDecoder())
	raw := mint(t, jwt.MapClaims{"sub": "user-8", "roles": []string{"bendahara"}})

	w := sessionRequest(router, &http.Cookie{Name: "token", Value: raw})

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "bendahara", data["role"])
	assert.Equal(t, "/dashboard/kas", data["landing_path"])
}

func TestSessionHandler_Session_UnrecognizedRole(t *testing.T) {
	router := newSessionRouter(token.NewUnverifiedDecoder())
	raw := mint(t, jwt.MapClaims{"sub": "user-9", "role": "kepala-sekolah"})

	w := sessionRequest(router, &http.Cookie{Name: "token", Value: raw})

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "unknown", data["role"])
	assert.Equal(t, "kepala-sekolah", data["claim"])
	assert.Equal(t, true, data["has_role"])
	assert.Equal(t, "/dashboard/profile", data["landing_path"])
}

func TestSessionHandler_Session_MissingRole(t *testing.T) {
	router := newSessionRouter(token.NewUnverifiedDecoder())
	raw := mint(t, jwt.MapClaims{"sub": "user-10"})

	w := sessionRequest(router, &http.Cookie{Name: "token", Value: raw})

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, false, data["has_role"])
	assert.Equal(t, []interface{}{"/dashboard/profile"}, data["allowed_prefixes"])
}

func TestSessionHandler_Session_Unauthorized(t *testing.T) {
	router := newSessionRouter(token.NewUnverifiedDecoder())

	tests := []struct {
		name    string
		cookies []*http.Cookie
	}{
		{name: "no cookies"},
		{name: "empty token", cookies: []*http.Cookie{{Name: "token", Value: ""}}},
		{name: "refresh only", cookies: []*http.Cookie{{Name: "refresh_token", Value: "opaque"}}},
		{name: "garbage token", cookies: []*http.Cookie{{Name: "token", Value: "not-a-jwt"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := sessionRequest(router, tt.cookies...)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, "UNAUTHORIZED", body["error"].(map[string]interface{})["code"])
		})
	}
}

func TestSessionHandler_Session_VerifyMode(t *testing.T) {
	router := newSessionRouter(token.NewHMACDecoder("issuer-secret"))

	good := mint(t, jwt.MapClaims{"sub": "user-1", "role": "staff"})
	w := sessionRequest(router, &http.Cookie{Name: "token", Value: good})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "staff", decodeBody(t, w)["data"].(map[string]interface{})["role"])

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "staff"}).SignedString([]byte("other"))
	require.NoError(t, err)
	w = sessionRequest(router, &http.Cookie{Name: "token", Value: forged})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionHandler_Session_DecoderFault(t *testing.T) {
	router := newSessionRouter(token.NewHMACDecoder(""))
	raw := mint(t, jwt.MapClaims{"role": "staff"})

	w := sessionRequest(router, &http.Cookie{Name: "token", Value: raw})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestSessionHandler_Logout(t *testing.T) {
	router := newSessionRouter(token.NewUnverifiedDecoder())

	req := httptest.NewRequest(http.MethodPost, "/gateway/v1/logout", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "abc"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	cleared := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		assert.True(t, c.MaxAge < 0, c.Name)
		assert.True(t, c.Secure, c.Name)
		assert.Equal(t, "/", c.Path)
		cleared[c.Name] = true
	}
	assert.True(t, cleared["token"])
	assert.True(t, cleared["refresh_token"])
	assert.False(t, strings.Contains(w.Header().Get("Location"), "redirect="))
}
