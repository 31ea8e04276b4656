package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/gateway/middleware"
	"github.com/synaptica-ai/privacy-gateway/pkg/routing"
)

// GenerationHandler exposes the gateway's generate, chat and redaction
// preview operations. Every response body is a GenerationResult, except the
// preview which reports counts.
type GenerationHandler struct {
	gateway *routing.Gateway
}

func NewGenerationHandler(gateway *routing.Gateway) *GenerationHandler {
	return &GenerationHandler{gateway: gateway}
}

func (h *GenerationHandler) Register(r *mux.Router) {
	r.HandleFunc("/generate", h.handleGenerate).Methods(http.MethodPost)
	r.HandleFunc("/chat", h.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/redact", h.handleRedact).Methods(http.MethodPost)
}

func (h *GenerationHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, models.GenerationResult{Error: "invalid request body"})
		return
	}

	text, err := h.gateway.GenerateText(r.Context(), routing.GenerateInput{
		RequestID:       middleware.RequestID(r.Context()),
		Prompt:          req.Prompt,
		PatientID:       req.PatientID,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	writeJSONStatus(w, statusFor(err), routing.ToResult(text, err))
}

func (h *GenerationHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, models.GenerationResult{Error: "invalid request body"})
		return
	}

	text, err := h.gateway.Chat(r.Context(), routing.ChatInput{
		RequestID:       middleware.RequestID(r.Context()),
		SystemPrompt:    req.SystemPrompt,
		Messages:        req.Messages,
		PatientID:       req.PatientID,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	writeJSONStatus(w, statusFor(err), routing.ToResult(text, err))
}

func (h *GenerationHandler) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req models.RedactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, models.GenerationResult{Error: "invalid request body"})
		return
	}

	preview, err := h.gateway.Redact(r.Context(), routing.RedactInput{
		RequestID: middleware.RequestID(r.Context()),
		Text:      req.Text,
		PatientID: req.PatientID,
	})
	if err != nil {
		writeJSONStatus(w, statusFor(err), routing.ToResult("", err))
		return
	}
	writeJSON(w, preview)
}
