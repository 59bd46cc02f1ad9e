package gateway

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v7"
)

const apiKeysHash = "apikeys"

// KeyStore checks a minted service key. AuthMiddleware accepts any request
// carrying a key the store vouches for.
type KeyStore interface {
	Check(serviceID, key string) (bool, error)
}

// RedisKeys is the redis-backed KeyStore used in production.
type RedisKeys struct {
	Client *redis.Client
}

func (r *RedisKeys) Check(serviceID, key string) (bool, error) {
	return ValidateAPIKey(serviceID, key, r.Client)
}

// GenerateAPIKey mints a random hex key for service-to-service callers.
func GenerateAPIKey() (string, error) {
	key := make([]byte, 16)
	_, err := rand.Read(key)
	return fmt.Sprintf("%x", key), err
}

// StoreAPIKey persists the key for a service id in redis.
func StoreAPIKey(serviceID, key string, r *redis.Client) error {
	return r.HSet(apiKeysHash, serviceID, key).Err()
}

// APIKeyHandler mints a key for a service id and stores it in redis. Meant
// for service-to-service callers that cannot hold a dashboard session token.
func APIKeyHandler(r *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ServiceID string `json:"service_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "message": "missing required field: service_id"})
			return
		}
		key, err := GenerateAPIKey()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": "unable to generate a key"})
			return
		}
		if err := StoreAPIKey(req.ServiceID, key, r); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": "unable to store the key"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"service_id": req.ServiceID, "api_key": key})
	}
}

// ValidateAPIKey checks the submitted key against the stored one.
func ValidateAPIKey(serviceID, key string, r *redis.Client) (bool, error) {
	stored, err := r.HGet(apiKeysHash, serviceID).Result()
	if err != nil {
		return false, err
	}
	if stored != key {
		return false, errors.New("wrong_key")
	}
	return true, nil
}
