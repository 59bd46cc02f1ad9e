package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/schatrath100/junyper/models"
)

type fakeProvider struct {
	answer     string
	err        error
	lastPrompt string
	lastQ      string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, systemPrompt, question string) (string, error) {
	f.lastPrompt = systemPrompt
	f.lastQ = question
	return f.answer, f.err
}

func newChatEnv(t *testing.T, fake *fakeProvider) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	binding.Validator = new(models.DefaultValidator)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(models.Tables()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	service := &Service{Db: db, Logger: logrus.New()}
	if fake != nil {
		service.NewProvider = func(models.AssistantConfig) (Provider, error) { return fake, nil }
	}

	r := gin.New()
	r.POST("/api/assistant/chat", service.Chat)
	return r, db
}

func postChat(t *testing.T, r *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/assistant/chat", bytes.NewBuffer(payload))
	r.ServeHTTP(w, req)
	return w
}

func enableAssistant(t *testing.T, db *gorm.DB, provider string) {
	t.Helper()
	cfg := models.AssistantConfig{Provider: provider, APIKey: "key", Enabled: true}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatalf("seed assistant config: %v", err)
	}
}

func TestChatUnconfigured(t *testing.T) {
	r, _ := newChatEnv(t, nil)
	w := postChat(t, r, map[string]any{"question": "how do I categorize fuel?"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "not configured")
}

func TestChatDisabledConfig(t *testing.T) {
	fake := &fakeProvider{answer: " answer"}
	r, db := newChatEnv(t, fake)
	cfg := models.AssistantConfig{Provider: "openai", APIKey: "key", Enabled: false}
	db.Create(&cfg)

	w := postChat(t, r, map[string]any{"question": "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChatAnswers(t *testing.T) {
	fake := &fakeProvider{answer: "Track fuel under vehicle expenses."}
	r, db := newChatEnv(t, fake)
	enableAssistant(t, db, "openai")

	w := postChat(t, r, map[string]any{
		"question": "how do I categorize fuel?",
		"context":  map[string]any{"business_name": "Maple Cafe", "industry": "food service"},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var res map[string]string
	json.Unmarshal(w.Body.Bytes(), &res)
	assert.Equal(t, "Track fuel under vehicle expenses.", res["answer"])

	assert.Equal(t, "how do I categorize fuel?", fake.lastQ)
	assert.Contains(t, fake.lastPrompt, "Maple Cafe")
	assert.Contains(t, fake.lastPrompt, "food service")
	// omitted context fields render the placeholder
	assert.Contains(t, fake.lastPrompt, "Income this month: not provided")
}

func TestChatMissingQuestion(t *testing.T) {
	fake := &fakeProvider{answer: "answer"}
	r, db := newChatEnv(t, fake)
	enableAssistant(t, db, "openai")

	w := postChat(t, r, map[string]any{"context": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "question")
}

func TestChatProviderFailure(t *testing.T) {
	fake := &fakeProvider{err: errors.New("model overloaded")}
	r, db := newChatEnv(t, fake)
	enableAssistant(t, db, "openai")

	w := postChat(t, r, map[string]any{"question": "anything"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "model overloaded")
}

func TestSystemPromptPlaceholders(t *testing.T) {
	prompt := SystemPrompt(nil)
	assert.Equal(t, 5, strings.Count(prompt, notProvided))

	prompt = SystemPrompt(&BusinessContext{BusinessName: "Maple Cafe"})
	assert.Contains(t, prompt, "Business name: Maple Cafe")
	assert.Equal(t, 4, strings.Count(prompt, notProvided))
}

func TestOpenAICompletions(t *testing.T) {
	var captured completionsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(completionsResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "the answer"}}},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("key", "", logrus.New())
	p.BaseURL = server.URL

	answer, err := p.Complete(context.Background(), "system text", "the question")
	assert.NoError(t, err)
	assert.Equal(t, "the answer", answer)
	assert.Equal(t, defaultOpenAIModel, captured.Model)
	assert.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "the question", captured.Messages[1].Content)
}

func TestOpenAIErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("bad", "", logrus.New())
	p.BaseURL = server.URL

	_, err := p.Complete(context.Background(), "system", "question")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestProviderSelection(t *testing.T) {
	s := &Service{Logger: logrus.New()}

	p, err := s.provider(models.AssistantConfig{Provider: "openai", APIKey: "k"})
	assert.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())

	p, err = s.provider(models.AssistantConfig{Provider: "gemini", APIKey: "k"})
	assert.NoError(t, err)
	assert.Equal(t, ProviderGemini, p.Name())

	_, err = s.provider(models.AssistantConfig{Provider: "mystery"})
	assert.Error(t, err)
}
