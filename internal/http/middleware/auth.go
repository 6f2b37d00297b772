package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"rtcore/internal/apperr"
)

const userIDKey = "userID"

// AuthClaims is what the identity service signs. user_id may be a string or
// a number depending on the issuer.
type AuthClaims struct {
	UserID interface{} `json:"user_id"`
	jwt.RegisteredClaims
}

// ParseUserID verifies tokenStr with secret and returns the identity in it.
func ParseUserID(tokenStr, secret string) (string, error) {
	claims := &AuthClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", apperr.Wrap(apperr.CodeUnauthenticated, "invalid token", err)
	}

	var id string
	switch v := claims.UserID.(type) {
	case string:
		id = strings.TrimSpace(v)
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return "", apperr.Unauthorized("token carries no user")
	}
	return id, nil
}

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing token"})
			return
		}

		userID, err := ParseUserID(strings.TrimPrefix(h, "Bearer "), jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func MustUserID(c *gin.Context) string {
	return c.MustGet(userIDKey).(string)
}
