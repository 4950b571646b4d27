package token

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the part of the session token payload the gateway routes on
type Claims struct {
	Subject   string
	Role      string
	Roles     []string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// EffectiveRole returns the singular role claim if set, otherwise the first non-empty entry of roles
func (c *Claims) EffectiveRole() (string, bool) {
	if c == nil {
		return "", false
	}
	if c.Role != "" {
		return c.Role, true
	}
	for _, r := range c.Roles {
		if r != "" {
			return r, true
		}
	}
	return "", false
}

// claimsFromMap extracts claims leniently: fields of an unexpected type are ignored
func claimsFromMap(m jwt.MapClaims) *Claims {
	c := &Claims{
		Subject: subject(m["sub"]),
	}

	if role, ok := m["role"].(string); ok {
		c.Role = role
	}
	if roles, ok := m["roles"].([]interface{}); ok {
		for _, v := range roles {
			if s, ok := v.(string); ok {
				c.Roles = append(c.Roles, s)
			}
		}
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}

	return c
}

// Some backends issue numeric user ids as sub
func subject(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}
