package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/gateway/httpclient"
)

type RemoteConfig struct {
	Name          string
	BaseURL       string
	Model         string
	APIKey        string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration

	// Client credentials, used instead of APIKey when TokenURL is set.
	OAuthTokenURL string
	OAuthClientID string
	OAuthSecret   string
	OAuthScopes   []string
}

// Remote talks to an OpenAI-compatible chat completions API.
type Remote struct {
	cfg        RemoteConfig
	httpClient *http.Client
}

func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Name == "" {
		cfg.Name = "cloud"
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := httpclient.New(cfg.Timeout)
	if cfg.OAuthTokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthSecret,
			TokenURL:     cfg.OAuthTokenURL,
			Scopes:       cfg.OAuthScopes,
		}
		base := context.WithValue(context.Background(), oauth2.HTTPClient, httpclient.New(cfg.Timeout))
		client = cc.Client(base)
		client.Timeout = cfg.Timeout
	}
	return &Remote{cfg: cfg, httpClient: client}
}

func (r *Remote) Name() string { return r.cfg.Name }

func (r *Remote) RequiresRedaction() bool { return true }

// Ready reports whether credentials and an endpoint are configured. It does
// not call the upstream API.
func (r *Remote) Ready(context.Context) bool {
	if r.cfg.BaseURL == "" || r.cfg.Model == "" {
		return false
	}
	return r.cfg.APIKey != "" || r.cfg.OAuthTokenURL != ""
}

func (r *Remote) GenerateText(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return r.Chat(ctx, "", []models.ChatMessage{{Role: "user", Content: prompt}}, maxTokens)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (r *Remote) Chat(ctx context.Context, system string, messages []models.ChatMessage, maxTokens int) (string, error) {
	payload := completionRequest{
		Model:       r.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	}
	if system != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: system})
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	var content string
	err = httpclient.Retry(ctx, r.cfg.RetryAttempts, r.cfg.RetryDelay, func() error {
		var callErr error
		content, callErr = r.complete(ctx, body)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func (r *Remote) complete(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.OAuthTokenURL == "" && r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &httpclient.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var result completionResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return result.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
