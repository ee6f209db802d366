// Package auth verifies the HS256 session tokens issued by the account service.
package auth

import (
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/callguard/config"
	"github.com/yoockh/callguard/internal/utils"
)

type Identity struct {
	UserID int64
	Role   string
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewVerifier(s config.AuthSettings) *Verifier {
	return &Verifier{secret: []byte(s.JWTSecret), issuer: s.Issuer, audience: s.Audience}
}

// Verify checks signature, expiry, issuer and audience. The subject must be
// the numeric user id.
func (v *Verifier) Verify(raw string) (Identity, error) {
	const op = "Verifier.Verify"

	if len(v.secret) == 0 {
		return Identity{}, utils.E(utils.CodeInternal, op, "jwt secret is not configured", nil)
	}
	if raw == "" {
		return Identity{}, utils.E(utils.CodeUnauthorized, op, "missing token", nil)
	}

	c := &claims{}
	tok, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || tok == nil || !tok.Valid {
		return Identity{}, utils.E(utils.CodeUnauthorized, op, "invalid token", err)
	}

	if v.issuer != "" && c.Issuer != v.issuer {
		return Identity{}, utils.E(utils.CodeUnauthorized, op, "invalid token issuer", nil)
	}
	if v.audience != "" && !slices.Contains(c.Audience, v.audience) {
		return Identity{}, utils.E(utils.CodeUnauthorized, op, "invalid token audience", nil)
	}

	uid, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return Identity{}, utils.E(utils.CodeUnauthorized, op, "subject is not a user id", err)
	}

	role := c.Role
	if role == "" {
		role = "user"
	}
	return Identity{UserID: uid, Role: role}, nil
}

// Issue signs a token for userID. Used by tests and local tooling.
func (v *Verifier) Issue(userID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	if v.audience != "" {
		c.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
