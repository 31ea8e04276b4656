// Package extraction flags identifying entities in free text with a local
// model. Extraction is best effort: any failure yields no entities and the
// caller carries on with its other strategies.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/gateway/httpclient"
)

// Extractor returns the entities found in text, or false when extraction
// was unavailable or failed.
type Extractor interface {
	TryExtract(ctx context.Context, text string) (models.EntitySet, bool)
}

const maxResponseBytes = 4 << 20

// Ollama asks a local model served by Ollama to list the entities of a text.
type Ollama struct {
	endpoint   string
	model      string
	threshold  float64
	httpClient *http.Client
}

func NewOllama(endpoint, model string, threshold float64, timeout time.Duration) *Ollama {
	return &Ollama{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		threshold:  threshold,
		httpClient: httpclient.New(timeout),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type detection struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

const detectionPrompt = `List the people, organizations, places and dates that could identify someone in the text below.
Return ONLY a JSON array. Each item must have:
- "text": the exact text found
- "category": one of person, organization, place, date, other
- "confidence": float 0.0-1.0

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"text":"Sophie Leroy","category":"person","confidence":0.95}]`

func (o *Ollama) TryExtract(ctx context.Context, text string) (models.EntitySet, bool) {
	if strings.TrimSpace(text) == "" {
		return models.EntitySet{}, true
	}
	entities, err := o.extract(ctx, text)
	if err != nil {
		logger.Log.WithError(err).WithField("model", o.model).Warn("Entity extraction unavailable")
		return nil, false
	}
	return entities, true
}

func (o *Ollama) extract(ctx context.Context, text string) (models.EntitySet, error) {
	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: fmt.Sprintf(detectionPrompt, text),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse ollama response: %w", err)
	}
	detections, err := parseDetections(out.Response)
	if err != nil {
		return nil, err
	}
	return o.filter(text, detections), nil
}

// parseDetections pulls the JSON array out of the model's answer, which
// may be wrapped in prose or a code fence.
func parseDetections(answer string) ([]detection, error) {
	answer = strings.TrimSpace(answer)
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in model answer")
	}
	var detections []detection
	if err := json.Unmarshal([]byte(answer[start:end+1]), &detections); err != nil {
		return nil, fmt.Errorf("parse detections: %w", err)
	}
	return detections, nil
}

// filter keeps confident detections that actually occur in text.
func (o *Ollama) filter(text string, detections []detection) models.EntitySet {
	out := models.EntitySet{}
	for _, d := range detections {
		d.Text = strings.TrimSpace(d.Text)
		if d.Text == "" || d.Confidence < o.threshold || !strings.Contains(text, d.Text) {
			continue
		}
		out = append(out, models.Entity{
			Text:       d.Text,
			Category:   normalizeCategory(d.Category),
			Confidence: d.Confidence,
		})
	}
	return out
}

func normalizeCategory(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "person", "name", "people":
		return models.EntityPerson
	case "organization", "organisation", "org", "company":
		return models.EntityOrganization
	case "place", "location", "address", "city":
		return models.EntityPlace
	case "date":
		return models.EntityDate
	default:
		return models.EntityOther
	}
}
