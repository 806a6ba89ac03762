package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const playerIDKey = "playerID"

// SessionAuth validates the session token on player-facing routes. The
// player identity is the verified token subject; nothing in the request
// body or query is trusted for it.
func SessionAuth(secret string) gin.HandlerFunc {
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}

	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims := jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, &claims, keyFunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			abortUnauthorized(c, "invalid session token")
			return
		}
		if claims.Subject == "" {
			abortUnauthorized(c, "session token has no subject")
			return
		}

		c.Set(playerIDKey, claims.Subject)
		c.Next()
	}
}

// BridgeAuth validates the shared bridge credential on bridge routes.
// Only the bcrypt hash of the credential is ever held in configuration.
func BridgeAuth(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(raw)); err != nil {
			abortUnauthorized(c, "invalid bridge token")
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func abortUnauthorized(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "reason": reason})
}

func sessionPlayerID(c *gin.Context) string {
	return c.GetString(playerIDKey)
}
