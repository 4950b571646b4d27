package token

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Decoder modes
const (
	ModeDecode = "decode"
	ModeVerify = "verify"
)

// Decoder turns a raw session token into claims
type Decoder interface {
	Decode(raw string) (*Claims, error)
}

// NewDecoder picks the decoder variant for mode
func NewDecoder(mode, secret string) (Decoder, error) {
	switch mode {
	case ModeDecode:
		return NewUnverifiedDecoder(), nil
	case ModeVerify:
		return NewHMACDecoder(secret), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// UnverifiedDecoder reads the payload without checking signature or expiry.
// Routing only; the API backend authorizes every call itself.
type UnverifiedDecoder struct {
	parser *jwt.Parser
}

// NewUnverifiedDecoder creates a decode-only Decoder
func NewUnverifiedDecoder() *UnverifiedDecoder {
	return &UnverifiedDecoder{parser: jwt.NewParser()}
}

// Decode implements Decoder
func (d *UnverifiedDecoder) Decode(raw string) (*Claims, error) {
	claims := jwt.MapClaims{}
	_, parts, err := d.parser.ParseUnverified(raw, claims)
	// An unknown or missing alg only matters when verifying
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	// A literal null payload decodes without error but is not a claims object
	if len(parts) == 3 {
		if payload, derr := d.parser.DecodeSegment(parts[1]); derr == nil && bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
			return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedToken)
		}
	}

	return claimsFromMap(claims), nil
}

// HMACDecoder verifies HS256/384/512 signatures and the exp claim
type HMACDecoder struct {
	secret []byte
	parser *jwt.Parser
}

// NewHMACDecoder creates a verifying Decoder. An empty secret is reported on every Decode call.
func NewHMACDecoder(secret string) *HMACDecoder {
	return &HMACDecoder{
		secret: []byte(secret),
		parser: jwt.NewParser(),
	}
}

// Decode implements Decoder
func (d *HMACDecoder) Decode(raw string) (*Claims, error) {
	if len(d.secret) == 0 {
		return nil, ErrSigningSecretMissing
	}

	claims := jwt.MapClaims{}
	token, err := d.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		// HS256, HS384 and HS512 only
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return d.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claimsFromMap(claims), nil
}
