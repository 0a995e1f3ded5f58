package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	operatorContextKey = "Operator"
	operatorSubject    = "operator"
	pollerSubject      = "poller"
	operatorTokenTTL   = 12 * time.Hour
)

// AuthConfig holds the credentials checked by the HTTP layer.
type AuthConfig struct {
	JWTSecret            string
	OperatorPasswordHash string
	PollerKey            string
}

// OperatorClaims represents JWT claims for the operator session.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// HashPassword returns the bcrypt hash stored in OPERATOR_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func checkPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func generateToken(subject, secret string, expiresAt time.Time) (string, error) {
	claims := OperatorClaims{
		Role: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return claims.Subject, nil
	}
	return "", errors.New("invalid token claims")
}

func bearer(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"code":    "MISSING_TOKEN",
				"error":   "missing Authorization header",
			})
			return
		}
		tok, ok := bearer(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"code":    "INVALID_AUTH_HEADER",
				"error":   "invalid Authorization header",
			})
			return
		}
		subject, err := parseToken(tok, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"code":    "INVALID_TOKEN",
				"error":   "invalid or expired token",
			})
			return
		}
		c.Set(operatorContextKey, subject)
		c.Next()
	}
}

// PollerOrAuthMiddleware accepts the price poller's shared key in
// X-Poller-Key and falls back to JWT auth otherwise.
func PollerOrAuthMiddleware(secret, pollerKey string) gin.HandlerFunc {
	jwtAuth := AuthMiddleware(secret)
	return func(c *gin.Context) {
		key := c.GetHeader("X-Poller-Key")
		if key == "" {
			jwtAuth(c)
			return
		}
		if pollerKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(pollerKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"code":    "INVALID_POLLER_KEY",
				"error":   "invalid poller key",
			})
			return
		}
		c.Set(operatorContextKey, pollerSubject)
		c.Next()
	}
}

// login exchanges the operator password for a session token.
func (s *Server) login(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "INVALID_PAYLOAD", "password is required")
		return
	}
	if s.Auth.OperatorPasswordHash == "" {
		respondFailure(c, http.StatusServiceUnavailable, "LOGIN_DISABLED", "operator login is not configured")
		return
	}
	if err := checkPassword(s.Auth.OperatorPasswordHash, req.Password); err != nil {
		respondFailure(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	expiresAt := time.Now().Add(operatorTokenTTL)
	token, err := generateToken(operatorSubject, s.Auth.JWTSecret, expiresAt)
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}
