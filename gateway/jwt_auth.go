package gateway

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// JWTAuth provides an encapsulation for jwt auth of the dashboard API.
// When Keys is set, service-to-service callers may authenticate with the
// X-Service-ID / X-API-Key header pair instead of a bearer token.
type JWTAuth struct {
	Key  []byte
	Keys KeyStore
}

// TokenClaims carries the authenticated user id.
type TokenClaims struct {
	UserID string `json:"user_id"`
	jwt.StandardClaims
}

// Init falls back to a random key when none was configured. Tokens won't
// survive a restart in that mode; fine for development, set jwt_key in prod.
func (j *JWTAuth) Init(configuredKey string) {
	if configuredKey != "" {
		j.Key = []byte(configuredKey)
		return
	}
	key, _ := GenerateSecretKey(32)
	j.Key = key
}

// GenerateJWT issues a signed token for the user.
func (j *JWTAuth) GenerateJWT(userID string) (string, error) {
	if len(j.Key) == 0 {
		return "", errors.New("empty jwt key")
	}
	claims := TokenClaims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(24 * time.Hour).UTC().Unix(),
			Issuer:    "junyper",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Key)
}

// VerifyJWT validates a token string and returns its claims.
func (j *JWTAuth) VerifyJWT(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Key, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// AuthMiddleware guards the API group. It only sets auth_user_id (or
// auth_service_id for key-authenticated callers) on the context; handlers
// still take user ids in the body the way the dashboard sends them.
func (j *JWTAuth) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if serviceID, apiKey := c.GetHeader("X-Service-ID"), c.GetHeader("X-API-Key"); j.Keys != nil && serviceID != "" && apiKey != "" {
			ok, err := j.Keys.Check(serviceID, apiKey)
			if err != nil || !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid api key", "code": "unauthorized"})
				return
			}
			c.Set("auth_service_id", serviceID)
			c.Next()
			return
		}

		h := c.GetHeader("Authorization")
		if h == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "empty header was sent", "code": "unauthorized"})
			return
		}

		claims, err := j.VerifyJWT(h)
		if e, ok := err.(*jwt.ValidationError); ok {
			if e.Errors&jwt.ValidationErrorExpired != 0 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "token has expired", "code": "jwt_expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "malformed token", "code": "jwt_malformed"})
			}
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token", "code": "unauthorized"})
			return
		}
		c.Set("auth_user_id", claims.UserID)
		c.Next()
	}
}

// GenerateSecretKey generates a secret key for jwt signing.
func GenerateSecretKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
