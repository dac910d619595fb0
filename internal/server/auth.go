// Package server exposes the REST and WebSocket surface: context lifecycle
// endpoints and the per-thread event stream. Token issuance lives in the
// external auth service; this package only verifies already-issued tokens.
package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"zen/internal/logging"
	"zen/internal/tier"
)

const principalKey = "zen_principal"

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID string
	Tier   tier.Tier
}

// Claims is the accepted token payload. Tier defaults to free when absent.
type Claims struct {
	Tier string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens into principals.
type Verifier struct {
	secret []byte
	logger logging.Logger
}

// NewVerifier builds a verifier over the shared signing secret.
func NewVerifier(secret string, logger logging.Logger) *Verifier {
	return &Verifier{secret: []byte(secret), logger: logging.OrNop(logger)}
}

// Verify parses and validates a token, returning the principal it carries.
func (v *Verifier) Verify(token string) (Principal, error) {
	if len(v.secret) == 0 {
		return Principal{}, fmt.Errorf("authentication is not configured")
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, fmt.Errorf("invalid token")
	}

	userTier := tier.Free
	if claims.Tier != "" {
		parsedTier, err := tier.Parse(claims.Tier)
		if err != nil {
			return Principal{}, fmt.Errorf("invalid token")
		}
		userTier = parsedTier
	}
	return Principal{UserID: claims.Subject, Tier: userTier}, nil
}

// AuthMiddleware authenticates every request. Tokens arrive as a Bearer
// header, or as a token query parameter for WebSocket upgrades where
// browsers cannot set headers.
func AuthMiddleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		principal, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// CurrentPrincipal returns the authenticated identity for the request.
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
