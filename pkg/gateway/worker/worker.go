// Package worker serves generation requests arriving on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/kafka"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/routing"
)

const (
	EventGenerate = "generate"
	EventChat     = "chat"
	EventResult   = "generation_result"
)

// Worker answers generate and chat events with a generation_result event
// keyed by the request ID.
type Worker struct {
	gateway   *routing.Gateway
	publisher routing.EventPublisher
	source    string
}

func New(gateway *routing.Gateway, publisher routing.EventPublisher, source string) *Worker {
	return &Worker{gateway: gateway, publisher: publisher, source: source}
}

// Handle is a kafka.EventHandler. Only a failed publish is returned, so a
// call that failed is answered rather than redelivered.
func (w *Worker) Handle(ctx context.Context, event models.Event) error {
	requestID := event.Metadata["request_id"]
	if requestID == "" {
		requestID = event.ID
	}
	log := logger.WithRequest(requestID).WithField("event_type", event.Type)

	var result models.GenerationResult
	switch event.Type {
	case EventGenerate:
		var req models.GenerateRequest
		if err := decodeData(event.Data, &req); err != nil {
			result = invalidPayload(log, err)
			break
		}
		result = routing.ToResult(w.gateway.GenerateText(ctx, routing.GenerateInput{
			RequestID:       requestID,
			Prompt:          req.Prompt,
			PatientID:       req.PatientID,
			MaxOutputTokens: req.MaxOutputTokens,
		}))
	case EventChat:
		var req models.ChatRequest
		if err := decodeData(event.Data, &req); err != nil {
			result = invalidPayload(log, err)
			break
		}
		result = routing.ToResult(w.gateway.Chat(ctx, routing.ChatInput{
			RequestID:       requestID,
			SystemPrompt:    req.SystemPrompt,
			Messages:        req.Messages,
			PatientID:       req.PatientID,
			MaxOutputTokens: req.MaxOutputTokens,
		}))
	default:
		log.Debug("Ignoring event")
		return nil
	}

	out := kafka.NewEvent(EventResult, w.source, map[string]interface{}{
		"request_id": requestID,
		"success":    result.Success,
		"result":     result.Result,
		"error":      result.Error,
	}, map[string]string{"request_id": requestID})
	if err := w.publisher.Publish(ctx, out, requestID); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	log.WithField("success", result.Success).Info("Generation request answered")
	return nil
}

func invalidPayload(log *logrus.Entry, err error) models.GenerationResult {
	log.WithError(err).Warn("Invalid generation request payload")
	return models.GenerationResult{Error: "invalid request payload"}
}

func decodeData(data map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
