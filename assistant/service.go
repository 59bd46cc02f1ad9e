// Package assistant answers bookkeeping questions by forwarding them, with a
// business-context preamble, to a hosted language-model API. One provider is
// active at a time, chosen by the stored configuration row.
package assistant

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/schatrath100/junyper/apperr"
	"github.com/schatrath100/junyper/models"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Provider is a hosted completion API. Implementations take the rendered
// system prompt plus the raw question and return a single text answer.
type Provider interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, question string) (string, error)
}

// Service carries the assistant handler's dependencies. NewProvider may be
// overridden in tests to substitute a fake provider.
type Service struct {
	Db     *gorm.DB
	Logger *logrus.Logger

	NewProvider func(cfg models.AssistantConfig) (Provider, error)
}

// provider resolves the configured provider, via NewProvider when set.
func (s *Service) provider(cfg models.AssistantConfig) (Provider, error) {
	if s.NewProvider != nil {
		return s.NewProvider(cfg)
	}
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.ModelName, s.Logger), nil
	case ProviderGemini:
		return NewGeminiProvider(cfg.APIKey, cfg.ModelName, s.Logger), nil
	default:
		return nil, fmt.Errorf("unknown assistant provider %q", cfg.Provider)
	}
}

type chatRequest struct {
	Question string           `json:"question" binding:"required"`
	Context  *BusinessContext `json:"context"`
}

// Chat answers a single question. There is no conversation state: each call
// renders the system prompt from the supplied context and performs one
// request/response turn against the configured provider.
func (s *Service) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		e := apperr.FromBinding(err)
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	cfg, err := models.GetAssistantConfig(s.Db)
	if err != nil || !cfg.Enabled || cfg.APIKey == "" {
		e := apperr.Wrap(errOrUnconfigured(err), apperr.ErrUnavailable, "the assistant is not configured")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	provider, err := s.provider(cfg)
	if err != nil {
		e := apperr.Wrap(err, apperr.ErrUnavailable, "the assistant is not configured")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	answer, err := provider.Complete(c.Request.Context(), SystemPrompt(req.Context), req.Question)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err.Error(),
		}).Error("assistant completion failed")
		e := apperr.Wrap(err, apperr.ErrLLM, err.Error())
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"answer":   answer,
		"provider": provider.Name(),
	})
}

func errOrUnconfigured(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("assistant configuration is disabled or missing a credential")
}
