package routes

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/gateway/middleware"
	"github.com/synaptica-ai/privacy-gateway/pkg/provider"
	"github.com/synaptica-ai/privacy-gateway/pkg/routing"
)

type ProvidersHandler struct {
	gateway *routing.Gateway
}

type setActiveRequest struct {
	Name string `json:"name"`
}

func NewProvidersHandler(gateway *routing.Gateway) *ProvidersHandler {
	return &ProvidersHandler{gateway: gateway}
}

func (h *ProvidersHandler) Register(r *mux.Router) {
	r.HandleFunc("/providers", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/providers/active", h.handleSetActive).Methods(http.MethodPost, http.MethodPut)
}

func (h *ProvidersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"providers": h.gateway.Providers(r.Context())})
}

func (h *ProvidersHandler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	if err := h.gateway.SetActiveProvider(req.Name); err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "failed to switch provider", http.StatusInternalServerError)
		return
	}

	logger.WithRequest(middleware.RequestID(r.Context())).
		WithField("provider", req.Name).
		WithField("service", middleware.Service(r.Context())).
		Info("Active provider switched")
	writeJSON(w, map[string]interface{}{"providers": h.gateway.Providers(r.Context())})
}
