// junyper is the backend for a small-business accounting dashboard: it links
// bank accounts through an aggregation API, imports transactions, tracks
// vendor bills and answers bookkeeping questions through a hosted model.
package main

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-redis/redis/v7"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/schatrath100/junyper/apperr"
	"github.com/schatrath100/junyper/assistant"
	"github.com/schatrath100/junyper/banking"
	"github.com/schatrath100/junyper/config"
	"github.com/schatrath100/junyper/gateway"
	"github.com/schatrath100/junyper/models"
	"github.com/schatrath100/junyper/plaid"
	"github.com/schatrath100/junyper/settings"
)

var log = logrus.New()

// GetMainEngine assembles the router: instrumentation and CORS first, then
// the public auth endpoint, then the bearer-protected /api group.
func GetMainEngine(bank *banking.Service, chat *assistant.Service, profile *settings.Service, auth *gateway.JWTAuth) *gin.Engine {
	route := gin.Default()
	route.HandleMethodNotAllowed = true

	route.Use(gateway.Instrumentation())
	route.Use(gateway.OptionsMiddleware)
	route.Use(gateway.RequestID())

	route.GET("/metrics", gin.WrapH(promhttp.Handler()))
	route.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	route.POST("/api/auth/token", tokenHandler(auth))
	if bank.Redis != nil {
		route.POST("/api/auth/api-key", gateway.APIKeyHandler(bank.Redis))
	}

	api := route.Group("/api")
	api.Use(auth.AuthMiddleware())
	{
		api.POST("/plaid/link-token", bank.CreateLinkToken)
		api.POST("/plaid/exchange", bank.ExchangeToken)
		api.POST("/plaid/accounts", bank.Accounts)
		api.POST("/plaid/transactions/sync", bank.SyncTransactions)

		api.POST("/assistant/chat", chat.Chat)

		api.GET("/settings", profile.GetSettings)
		api.POST("/settings", profile.SaveSettings)

		api.POST("/bills", profile.SaveBill)
		api.GET("/bills", profile.ListBills)
	}

	return route
}

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// tokenHandler issues a short-lived bearer token for a dashboard session.
func tokenHandler(auth *gateway.JWTAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			e := apperr.FromBinding(err)
			c.JSON(e.Status, apperr.Payload(e))
			return
		}
		token, err := auth.GenerateJWT(req.UserID)
		if err != nil {
			e := apperr.Wrap(err, apperr.ErrInternal, "unable to issue a token")
			c.JSON(e.Status, apperr.Payload(e))
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

func init() {
	binding.Validator = new(models.DefaultValidator)
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL != "" {
		return gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	}
	// local development fallback
	return gorm.Open(sqlite.Open("junyper.db"), &gorm.Config{})
}

func main() {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)

	configPath := os.Getenv("JUNYPER_CONFIG")
	if configPath == "" {
		configPath = "junyper.json"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(models.Tables()...); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	if err := redisClient.Ping().Err(); err != nil {
		log.WithField("address", cfg.RedisAddress).
			Warn("redis unreachable, institution metadata will not be cached")
	}

	auth := &gateway.JWTAuth{Keys: &gateway.RedisKeys{Client: redisClient}}
	auth.Init(cfg.JWTKey)

	plaidClient := plaid.NewClient(cfg.PlaidBaseURL, cfg.PlaidClientID, cfg.PlaidSecret, log)

	bank := &banking.Service{
		Db:     db,
		Redis:  redisClient,
		Logger: log,
		Config: cfg,
		Plaid:  plaidClient,
		Clock:  banking.SystemClock,
	}
	chat := &assistant.Service{Db: db, Logger: log}
	profile := &settings.Service{Db: db, Logger: log}

	addr := cfg.Host + ":" + cfg.Port
	log.WithField("address", addr).Info("starting junyper")
	log.Fatal(GetMainEngine(bank, chat, profile, auth).Run(addr))
}
