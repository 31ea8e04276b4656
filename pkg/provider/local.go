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

	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/gateway/httpclient"
)

// Local is a model served by Ollama on this machine. Its traffic never
// leaves the host so prompts are sent as written.
type Local struct {
	name       string
	endpoint   string
	model      string
	httpClient *http.Client
}

func NewLocal(name, endpoint, model string, timeout time.Duration) *Local {
	if name == "" {
		name = "ollama"
	}
	return &Local{
		name:       name,
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		httpClient: httpclient.New(timeout),
	}
}

func (l *Local) Name() string { return l.name }

func (l *Local) RequiresRedaction() bool { return false }

// Ready checks that the Ollama daemon answers.
func (l *Local) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaChatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  ollamaOptions        `json:"options"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Message  struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

func (l *Local) GenerateText(ctx context.Context, prompt string, maxTokens int) (string, error) {
	out, err := l.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:   l.model,
		Prompt:  prompt,
		Options: ollamaOptions{NumPredict: maxTokens},
	})
	if err != nil {
		return "", err
	}
	return out.Response, nil
}

func (l *Local) Chat(ctx context.Context, system string, messages []models.ChatMessage, maxTokens int) (string, error) {
	all := make([]models.ChatMessage, 0, len(messages)+1)
	if system != "" {
		all = append(all, models.ChatMessage{Role: "system", Content: system})
	}
	all = append(all, messages...)

	out, err := l.post(ctx, "/api/chat", ollamaChatRequest{
		Model:    l.model,
		Messages: all,
		Options:  ollamaOptions{NumPredict: maxTokens},
	})
	if err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

func (l *Local) post(ctx context.Context, path string, payload interface{}) (*ollamaResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	var out ollamaResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(raw, &out) == nil && out.Error != "" {
			return nil, &httpclient.StatusError{StatusCode: resp.StatusCode, Body: out.Error}
		}
		return nil, &httpclient.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	return &out, nil
}
